package services

import (
	"github.com/keisueke/show-discord/internal/answersync"
	"github.com/keisueke/show-discord/internal/game"
	"github.com/keisueke/show-discord/internal/models"
)

var everyPhase []models.Phase

func (c *Coordinator) StartGame() error {
	return c.do("start_game", guard{role: roleAdmin, phases: []models.Phase{models.PhaseLobby}}, func(snap *snapshot) ([]command, error) {
		order := snap.order()
		first, ok := game.FirstConnected(order, snap.connected)
		if !ok {
			return nil, ErrNoPlayers
		}
		cmds := []command{
			set(keyAdminID, snap.admin()),
			set(keyPlayerOrder, order),
			set(keyScores, map[string]int{}),
		}
		return append(cmds, c.beginSelection(snap, first, 1)...), nil
	})
}

func (c *Coordinator) UpdateSettings(settings models.Settings) error {
	return c.do("update_settings", guard{role: roleAdmin, phases: everyPhase}, func(snap *snapshot) ([]command, error) {
		if err := settings.Validate(); err != nil {
			return nil, err
		}
		return []command{set(keySettings, settings)}, nil
	})
}

func (c *Coordinator) TransferAdmin(playerID string) error {
	return c.do("transfer_admin", guard{role: roleAdmin, phases: everyPhase}, func(snap *snapshot) ([]command, error) {
		if !snap.connected(playerID) {
			return nil, ErrNotConnected
		}
		return []command{set(keyAdminID, playerID)}, nil
	})
}

func (c *Coordinator) SelectQuestion(q models.Question) error {
	return c.do("select_question", guard{role: roleQuestioner, phases: []models.Phase{models.PhaseQuestionSelection}}, func(snap *snapshot) ([]command, error) {
		chosen, ok := findCandidate(snap.QuestionCandidates, q)
		if !ok {
			return nil, ErrUnknownQuestion
		}
		if chosen.IsPersonal() {
			return []command{
				set(keyCurrentQuestion, chosen),
				set(keyQuestionCandidates, nil),
				set(keyPhase, models.PhasePlayerSelection),
			}, nil
		}
		return beginQuestion(snap, chosen), nil
	})
}

func (c *Coordinator) SelectPlayerForQuestion(playerID string) error {
	return c.do("select_player", guard{role: roleQuestioner, phases: []models.Phase{models.PhasePlayerSelection}}, func(snap *snapshot) ([]command, error) {
		if snap.CurrentQuestion == nil {
			return nil, ErrNoQuestion
		}
		if !snap.connected(playerID) {
			return nil, ErrNotConnected
		}
		q := *snap.CurrentQuestion
		q.TargetID = playerID
		return beginQuestion(snap, q), nil
	})
}

// SubmitAnswer records this peer's guess for the current question. A guess may be
// replaced until the question is revealed. It fails with ErrNotSynced while this peer
// has acknowledged a newer question than the one it can see.
func (c *Coordinator) SubmitAnswer(value float64) error {
	return c.do("submit_answer", guard{role: roleAnyone, phases: []models.Phase{models.PhaseQuestion}}, func(snap *snapshot) ([]command, error) {
		if !snap.connected(c.store.Self()) {
			return nil, ErrNotConnected
		}
		answer, err := answersync.Stamp(snap.QuestionSeq, value)
		if err != nil {
			return nil, err
		}

		c.ownMu.Lock()
		defer c.ownMu.Unlock()
		// A reset for a newer generation can arrive before questionSeq does.
		if own := readSlot(c.store, c.store.Self()); own.HasSeq && own.AnswerSeq > snap.QuestionSeq {
			return nil, ErrNotSynced
		}
		set(keyAnswer, answer).apply(c.store)
		set(keyAnswerSeq, snap.QuestionSeq).apply(c.store)
		return nil, nil
	})
}

func (c *Coordinator) NextRound() error {
	return c.do("next_round", guard{role: roleAdmin, phases: []models.Phase{models.PhaseReveal}}, func(snap *snapshot) ([]command, error) {
		return c.advanceTurn(snap), nil
	})
}

func (c *Coordinator) BackToLobby() error {
	return c.do("back_to_lobby", guard{role: roleAdmin, phases: everyPhase}, func(snap *snapshot) ([]command, error) {
		c.track = tracking{}
		return resetRound(snap), nil
	})
}

// ResetSession is BackToLobby that also restores default settings.
func (c *Coordinator) ResetSession() error {
	return c.do("reset_session", guard{role: roleAdmin, phases: everyPhase}, func(snap *snapshot) ([]command, error) {
		c.track = tracking{}
		return append(resetRound(snap), set(keySettings, models.DefaultSettings())), nil
	})
}

// ForceStartReveal ends the question now. Only players that acknowledged the current
// question and gave a valid answer are scored.
func (c *Coordinator) ForceStartReveal() error {
	return c.do("force_reveal", guard{role: roleAdmin, phases: []models.Phase{models.PhaseQuestion}}, func(snap *snapshot) ([]command, error) {
		st := answersync.Evaluate(snap.QuestionSeq, snap.peers, snap.slots)
		c.track = tracking{}
		return reveal(snap, st.Answered), nil
	})
}

func findCandidate(candidates []models.Question, q models.Question) (models.Question, bool) {
	for _, cand := range candidates {
		if cand.Same(q) {
			return cand, true
		}
	}
	return models.Question{}, false
}
