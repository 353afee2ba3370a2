package services

import (
	"fmt"

	"github.com/keisueke/show-discord/internal/models"
)

type role int

const (
	roleAnyone role = iota
	roleAdmin
	roleQuestioner
)

// guard is the single authority and phase check every action passes through.
type guard struct {
	role   role
	phases []models.Phase
}

func (g guard) check(snap *snapshot, self string) error {
	switch g.role {
	case roleAdmin:
		if snap.admin() != self {
			return ErrNotAdmin
		}
	case roleQuestioner:
		if snap.QuestionerID != self {
			return ErrNotQuestioner
		}
	}
	if len(g.phases) == 0 {
		return nil
	}
	for _, p := range g.phases {
		if snap.Phase == p {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrWrongPhase, snap.Phase)
}

// do runs one action under the coordinator lock. fn sees a fresh snapshot and returns
// the writes to apply; nothing is written when the guard or fn rejects, or when the
// writes would move the phase somewhere the game flow does not allow.
func (c *Coordinator) do(action string, g guard, fn func(snap *snapshot) ([]command, error)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := loadSnapshot(c.store)
	self := c.store.Self()
	if err := g.check(snap, self); err != nil {
		c.logger.Debug().Err(err).Str("action", action).Str("phase", string(snap.Phase)).Msg("Action rejected")
		return err
	}

	cmds, err := fn(snap)
	if err == nil {
		if next, ok := phaseTarget(cmds); ok && !snap.Phase.CanTransitionTo(next) {
			err = fmt.Errorf("%w: %s to %s", ErrWrongPhase, snap.Phase, next)
		}
	}
	if err != nil {
		c.logger.Debug().Err(err).Str("action", action).Msg("Action rejected")
		return err
	}
	applyAll(c.store, cmds)
	c.logger.Info().Str("action", action).Str("phase", string(snap.Phase)).Msg("Action applied")
	c.wake()
	return nil
}
