package services

import (
	"time"

	"github.com/keisueke/show-discord/internal/answersync"
	"github.com/keisueke/show-discord/internal/models"
)

// tracking is local bookkeeping of the authoritative peer. It is never replicated.
type tracking struct {
	// generation that was first seen fully answered, and when
	answeredSeq int
	answeredAt  time.Time

	// generation currently waiting for acknowledgements, and since when
	waitingSeq   int
	waitingSince time.Time
	stallLogged  bool
}

type decision struct {
	commands []command
	track    tracking
	// wakeIn asks the loop to reconcile again after this long; zero means no timer.
	wakeIn time.Duration
	status *answersync.Status
}

// reconcile derives the automatic writes for one observed state. Every peer elects a
// missing admin; only the authoritative peer syncs the player order, skips absent
// questioners, and moves a fully answered question to REVEAL.
func (c *Coordinator) reconcile(snap *snapshot, self string, track tracking, now time.Time) decision {
	d := decision{track: track}
	if len(snap.peers) == 0 {
		return d
	}

	admin := snap.admin()
	if admin != snap.AdminID {
		d.commands = append(d.commands, set(keyAdminID, admin))
		snap.AdminID = admin
	}
	if self != admin {
		d.track = tracking{}
		return d
	}

	if order := snap.order(); len(order) != len(snap.PlayerOrder) {
		d.commands = append(d.commands, set(keyPlayerOrder, order))
		snap.PlayerOrder = order
	}

	switch snap.Phase {
	case models.PhaseQuestionSelection, models.PhasePlayerSelection:
		d.track = tracking{}
		if !snap.connected(snap.QuestionerID) {
			c.logger.Info().Str("questioner_id", snap.QuestionerID).Msg("Questioner left, passing the turn")
			d.commands = append(d.commands, c.advanceTurn(snap)...)
		}
	case models.PhaseQuestion:
		c.reconcileQuestion(snap, now, &d)
	default:
		d.track = tracking{}
	}
	return d
}

func (c *Coordinator) reconcileQuestion(snap *snapshot, now time.Time, d *decision) {
	st := answersync.Evaluate(snap.QuestionSeq, snap.peers, snap.slots)
	d.status = &st
	seq := snap.QuestionSeq

	if st.AllAcked {
		if snap.WaitingForSync {
			d.commands = append(d.commands, set(keyWaitingForSync, false))
		}
		d.track.waitingSeq, d.track.waitingSince, d.track.stallLogged = 0, time.Time{}, false
	} else {
		if !snap.WaitingForSync {
			d.commands = append(d.commands, set(keyWaitingForSync, true))
		}
		if d.track.waitingSeq != seq {
			d.track.waitingSeq, d.track.waitingSince, d.track.stallLogged = seq, now, false
		}
		stallAt := d.track.waitingSince.Add(c.syncStall)
		if !now.Before(stallAt) {
			if !d.track.stallLogged {
				c.logger.Warn().Int("question_seq", seq).Strs("pending", st.Pending).Msg("Players have not acknowledged the question")
				d.track.stallLogged = true
			}
		} else {
			d.wakeIn = stallAt.Sub(now)
		}
	}

	if !st.AllAnswered {
		d.track.answeredSeq, d.track.answeredAt = 0, time.Time{}
		return
	}
	if d.track.answeredSeq != seq {
		d.track.answeredSeq, d.track.answeredAt = seq, now
	}
	revealAt := d.track.answeredAt.Add(c.debounce)
	if now.Before(revealAt) {
		d.wakeIn = revealAt.Sub(now)
		return
	}

	c.logger.Info().Int("question_seq", seq).Int("answers", len(st.Answered)).Msg("All players answered, revealing")
	d.commands = append(d.commands, reveal(snap, st.Answered)...)
	d.track = tracking{}
}

// stalled reports whether the authoritative peer has waited past the stall window.
func (t tracking) stalled(seq int, now time.Time, window time.Duration) bool {
	return t.waitingSeq == seq && !t.waitingSince.IsZero() && !now.Before(t.waitingSince.Add(window))
}
