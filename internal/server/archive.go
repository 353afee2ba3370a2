package server

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/keisueke/show-discord/internal/models"
	"github.com/keisueke/show-discord/internal/repository"
	"github.com/keisueke/show-discord/internal/services"
)

var ErrEmptyResult = errors.New("session has no scored players")

// Archive stores the standings of finished sessions and prunes old ones.
type Archive struct {
	repo      repository.Repository
	clock     clockwork.Clock
	retention time.Duration
	interval  time.Duration
	timeout   time.Duration
}

func NewArchive(repo repository.Repository, clock clockwork.Clock, retention time.Duration) *Archive {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Archive{
		repo:      repo,
		clock:     clock,
		retention: retention,
		interval:  5 * time.Minute,
		timeout:   10 * time.Second,
	}
}

func (a *Archive) Repository() repository.Repository {
	return a.repo
}

// GameFinished saves the final standings of a session that reached the ranking phase.
func (a *Archive) GameFinished(sessionID string, snap *models.Snapshot) {
	result, err := BuildResult(sessionID, snap, a.clock.Now())
	if err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("Not archiving game")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()
	if err := a.repo.SaveResult(ctx, result); err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("Failed to save game result")
		return
	}
	log.Info().Str("session_id", sessionID).Str("result_id", result.ID).Int("players", len(result.Standings)).Msg("Game result archived")
}

// Run prunes results older than the retention window until ctx ends.
func (a *Archive) Run(ctx context.Context) {
	ticker := a.clock.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			deleted, err := a.Cleanup(ctx)
			if err != nil {
				log.Error().Err(err).Msg("Error cleaning up game results")
			} else if deleted > 0 {
				log.Info().Int64("deleted", deleted).Dur("retention", a.retention).Msg("Cleaned up old game results")
			}
		}
	}
}

func (a *Archive) Cleanup(ctx context.Context) (int64, error) {
	return a.repo.DeleteResultsOlderThan(ctx, a.retention)
}

// BuildResult ranks everyone who appears in the turn order or the score table.
func BuildResult(sessionID string, snap *models.Snapshot, finishedAt time.Time) (*models.GameResult, error) {
	var scores map[string]int
	decode(snap.Globals[services.KeyScores], &scores)
	var order []string
	decode(snap.Globals[services.KeyPlayerOrder], &order)
	var rounds int
	decode(snap.Globals[services.KeyRound], &rounds)

	ids := make([]string, 0, len(order)+len(scores))
	seen := make(map[string]bool)
	for _, id := range order {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	var extra []string
	for id := range scores {
		if !seen[id] {
			seen[id] = true
			extra = append(extra, id)
		}
	}
	sort.Strings(extra)
	ids = append(ids, extra...)

	if len(ids) == 0 {
		return nil, ErrEmptyResult
	}

	standings := make([]models.Standing, 0, len(ids))
	for _, id := range ids {
		var profile models.Profile
		decode(snap.Players[id][services.KeyProfile], &profile)
		if profile.ID == "" {
			profile.ID = id
		}
		standings = append(standings, models.Standing{
			PlayerID:    id,
			DisplayName: profile.Name(),
			Score:       scores[id],
		})
	}
	models.RankStandings(standings)

	result := models.NewGameResult(sessionID, rounds, standings)
	result.FinishedAt = finishedAt.UTC()
	return result, nil
}

func decode(raw json.RawMessage, v interface{}) {
	if models.IsNull(raw) {
		return
	}
	if err := json.Unmarshal(raw, v); err != nil {
		log.Debug().Err(err).Msg("Ignoring malformed session value")
	}
}
