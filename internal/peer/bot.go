package peer

import (
	"errors"
	"math/rand/v2"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/keisueke/show-discord/internal/models"
	"github.com/keisueke/show-discord/internal/services"
)

// Bot plays for a peer: it picks questions and targets at random, answers every
// question, and as admin starts the game and moves past each reveal after a pause.
type Bot struct {
	coord *services.Coordinator
	rng   *rand.Rand
	clock clockwork.Clock

	MinPlayers  int
	RevealPause time.Duration
	MaxAnswer   int

	phase      models.Phase
	round      int
	phaseSince time.Time
}

func NewBot(coord *services.Coordinator, rng *rand.Rand, clock clockwork.Clock) *Bot {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Bot{
		coord:       coord,
		rng:         rng,
		clock:       clock,
		MinPlayers:  2,
		RevealPause: 3 * time.Second,
		MaxAnswer:   100,
	}
}

// Step takes at most one action for v. Losing a race with another peer is not an error.
func (b *Bot) Step(v services.View) error {
	now := b.clock.Now()
	if v.Phase != b.phase || v.CurrentRound != b.round {
		b.phase, b.round, b.phaseSince = v.Phase, v.CurrentRound, now
	}

	err := b.act(v, now)
	if superseded(err) {
		log.Debug().Err(err).Str("phase", string(v.Phase)).Msg("Bot action superseded")
		return nil
	}
	return err
}

func (b *Bot) act(v services.View, now time.Time) error {
	switch v.Phase {
	case models.PhaseLobby:
		if v.IsAdmin && connected(v) >= b.MinPlayers {
			return b.coord.StartGame()
		}
	case models.PhaseQuestionSelection:
		if v.IsQuestioner && len(v.QuestionCandidates) > 0 {
			return b.coord.SelectQuestion(v.QuestionCandidates[b.rng.IntN(len(v.QuestionCandidates))])
		}
	case models.PhasePlayerSelection:
		if v.IsQuestioner {
			if target := b.pickTarget(v); target != "" {
				return b.coord.SelectPlayerForQuestion(target)
			}
		}
	case models.PhaseQuestion:
		if v.MyAnswer == nil {
			return b.coord.SubmitAnswer(float64(1 + b.rng.IntN(b.MaxAnswer)))
		}
		if v.IsAdmin && v.SyncStalled {
			return b.coord.ForceStartReveal()
		}
	case models.PhaseReveal:
		if v.IsAdmin && now.Sub(b.phaseSince) >= b.RevealPause {
			return b.coord.NextRound()
		}
	}
	return nil
}

func superseded(err error) bool {
	for _, target := range []error{services.ErrWrongPhase, services.ErrNotAdmin, services.ErrNotQuestioner, services.ErrNotSynced} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// pickTarget prefers another connected player and falls back to self.
func (b *Bot) pickTarget(v services.View) string {
	var others []string
	for _, p := range v.Players {
		if p.Connected && p.ID != v.Self {
			others = append(others, p.ID)
		}
	}
	if len(others) == 0 {
		return v.Self
	}
	return others[b.rng.IntN(len(others))]
}

func connected(v services.View) int {
	n := 0
	for _, p := range v.Players {
		if p.Connected {
			n++
		}
	}
	return n
}
