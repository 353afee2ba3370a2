package services

import (
	"github.com/keisueke/show-discord/internal/answersync"
	"github.com/keisueke/show-discord/internal/game"
	"github.com/keisueke/show-discord/internal/models"
	"github.com/keisueke/show-discord/internal/replica"
)

// command is one replicated side effect produced by an action or the reducer.
type command interface {
	apply(s replica.Store)
}

type write struct {
	key   keySpec
	value any
}

func (w write) apply(s replica.Store) {
	switch w.key.owner {
	case ownerAdmin:
		s.WriteGlobal(w.key.name, encode(w.value))
	case ownerSelf:
		s.WriteOwn(w.key.name, encode(w.value))
	}
}

type broadcastReset struct {
	seq int
}

func (b broadcastReset) apply(s replica.Store) {
	s.Broadcast(answersync.ResetCall, encode(answersync.ResetPayload{Seq: b.seq}))
}

func set(k keySpec, v any) command {
	return write{key: k, value: v}
}

// openGeneration bumps questionSeq and tells every peer to reset its answer.
func openGeneration(snap *snapshot) (int, []command) {
	seq := answersync.Next(snap.QuestionSeq)
	return seq, []command{
		set(keyQuestionSeq, seq),
		broadcastReset{seq: seq},
	}
}

// beginSelection enters QUESTION_SELECTION for questioner in round.
func (c *Coordinator) beginSelection(snap *snapshot, questioner string, round int) []command {
	_, cmds := openGeneration(snap)
	return append(cmds,
		set(keyQuestionerID, questioner),
		set(keyCurrentRound, round),
		set(keyQuestionCandidates, c.bank.Candidates(c.rng, CandidateCount)),
		set(keyCurrentQuestion, nil),
		set(keyResult, nil),
		set(keyIsDoubleScore, c.rng.Float64() < c.doubleChance),
		set(keyWaitingForSync, false),
		set(keyPhase, models.PhaseQuestionSelection),
	)
}

// beginQuestion enters QUESTION with q as the active question.
func beginQuestion(snap *snapshot, q models.Question) []command {
	_, cmds := openGeneration(snap)
	return append(cmds,
		set(keyCurrentQuestion, q),
		set(keyQuestionCandidates, nil),
		set(keyResult, nil),
		set(keyWaitingForSync, true),
		set(keyPhase, models.PhaseQuestion),
	)
}

// advanceTurn moves to the next connected questioner, or to RANKING when the last
// round is done.
func (c *Coordinator) advanceTurn(snap *snapshot) []command {
	order := snap.order()
	turn := game.NextConnectedTurn(order, snap.QuestionerID, snap.CurrentRound, snap.Settings.MaxRounds, snap.connected)
	if turn.GameComplete {
		return []command{
			set(keyQuestionerID, nil),
			set(keyQuestionCandidates, nil),
			set(keyCurrentQuestion, nil),
			set(keyResult, nil),
			set(keyWaitingForSync, false),
			set(keyPhase, models.PhaseRanking),
		}
	}
	return c.beginSelection(snap, turn.QuestionerID, turn.Round)
}

// reveal scores entries and publishes the round result.
func reveal(snap *snapshot, entries []answersync.Entry) []command {
	answers := make([]game.Answer, len(entries))
	for i, e := range entries {
		answers[i] = game.Answer{PlayerID: e.PlayerID, Value: e.Value}
	}
	out := game.Score(answers, snap.IsDoubleScore)
	return []command{
		set(keyResult, models.RoundResult{Median: out.Median, ScoreChanges: out.Deltas}),
		set(keyScores, game.Apply(snap.Scores, out.Deltas)),
		set(keyWaitingForSync, false),
		set(keyPhase, models.PhaseReveal),
	}
}

// resetRound clears every round field back to lobby defaults. Settings, adminId and
// playerOrder survive.
func resetRound(snap *snapshot) []command {
	_, cmds := openGeneration(snap)
	return append(cmds,
		set(keyQuestionerID, nil),
		set(keyQuestionCandidates, nil),
		set(keyCurrentQuestion, nil),
		set(keyCurrentRound, 0),
		set(keyScores, map[string]int{}),
		set(keyIsDoubleScore, false),
		set(keyWaitingForSync, false),
		set(keyResult, nil),
		set(keyPhase, models.PhaseLobby),
	)
}

// phaseTarget returns the phase that cmds move to, if any.
func phaseTarget(cmds []command) (models.Phase, bool) {
	for _, cmd := range cmds {
		if w, ok := cmd.(write); ok && w.key == keyPhase {
			if next, ok := w.value.(models.Phase); ok {
				return next, true
			}
		}
	}
	return "", false
}

func applyAll(s replica.Store, cmds []command) {
	for _, cmd := range cmds {
		cmd.apply(s)
	}
}
