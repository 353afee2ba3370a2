// Package answersync implements the generation protocol that keeps answers from one
// question from being counted for another while replication lags.
//
// Every question opens a new generation. Players acknowledge a generation by writing
// answerSeq, and every answer carries the generation it was given under. An answer
// counts only when both match the current generation.
package answersync

import (
	"errors"
	"math"
)

// Per-player keys and the reset call name shared by every peer.
const (
	AnswerKey    = "answer"
	AnswerSeqKey = "answerSeq"
	ResetCall    = "resetAnswers"
)

var ErrNotFinite = errors.New("answer must be a finite number")

// Answer is a guess stamped with its generation.
type Answer struct {
	Value float64 `json:"value"`
	Seq   int     `json:"seq"`
}

// ResetPayload is broadcast whenever a new generation opens.
type ResetPayload struct {
	Seq int `json:"seq"`
}

// Slot is one player's replicated answer state as seen by the local peer.
type Slot struct {
	Answer    *Answer
	AnswerSeq int
	HasSeq    bool
}

// Next returns the generation that follows seq.
func Next(seq int) int {
	return seq + 1
}

// Stamp validates a guess and tags it with the generation it answers.
func Stamp(seq int, value float64) (Answer, error) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return Answer{}, ErrNotFinite
	}
	return Answer{Value: value, Seq: seq}, nil
}

// Acknowledged reports whether the player has seen generation seq.
func (s Slot) Acknowledged(seq int) bool {
	return s.HasSeq && s.AnswerSeq == seq
}

// ValueAt returns the player's answer if it is valid for generation seq.
func (s Slot) ValueAt(seq int) (float64, bool) {
	if !s.Acknowledged(seq) || s.Answer == nil || s.Answer.Seq != seq {
		return 0, false
	}
	if math.IsNaN(s.Answer.Value) || math.IsInf(s.Answer.Value, 0) {
		return 0, false
	}
	return s.Answer.Value, true
}

// Reset applies a reset for generation seq to the local player's own slot.
// Stale resets never move answerSeq backwards, and an answer already given for
// seq or later survives a duplicate or late reset. changed is false when the
// slot needs no write.
func Reset(own Slot, seq int) (next Slot, changed bool) {
	next = own
	if !own.HasSeq || own.AnswerSeq < seq {
		next.AnswerSeq = seq
		next.HasSeq = true
		changed = true
	}
	if own.Answer != nil && own.Answer.Seq < seq {
		next.Answer = nil
		changed = true
	}
	return next, changed
}

type Entry struct {
	PlayerID string
	Value    float64
}

// Status summarizes a generation across a set of connected players.
type Status struct {
	Generation  int
	Pending     []string
	Unanswered  []string
	Answered    []Entry
	AllAcked    bool
	AllAnswered bool
}

// Evaluate checks every connected player against generation seq. With no players
// nothing is acknowledged or answered.
func Evaluate(seq int, players []string, slots map[string]Slot) Status {
	st := Status{Generation: seq}
	for _, id := range players {
		slot := slots[id]
		if !slot.Acknowledged(seq) {
			st.Pending = append(st.Pending, id)
		}
		if v, ok := slot.ValueAt(seq); ok {
			st.Answered = append(st.Answered, Entry{PlayerID: id, Value: v})
		} else {
			st.Unanswered = append(st.Unanswered, id)
		}
	}
	st.AllAcked = len(players) > 0 && len(st.Pending) == 0
	st.AllAnswered = len(players) > 0 && len(st.Unanswered) == 0
	return st
}
