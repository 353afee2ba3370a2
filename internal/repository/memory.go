package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/keisueke/show-discord/internal/models"
)

// InMemoryRepository keeps results for the life of the process.
type InMemoryRepository struct {
	mu      sync.RWMutex
	results map[string]*models.GameResult
	clock   clockwork.Clock
}

func NewInMemoryRepository(clock clockwork.Clock) *InMemoryRepository {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &InMemoryRepository{
		results: make(map[string]*models.GameResult),
		clock:   clock,
	}
}

func (r *InMemoryRepository) SaveResult(_ context.Context, result *models.GameResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[result.ID] = copyResult(result)
	return nil
}

func (r *InMemoryRepository) GetResult(_ context.Context, id string) (*models.GameResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result, ok := r.results[id]
	if !ok {
		return nil, ErrResultNotFound
	}
	return copyResult(result), nil
}

func (r *InMemoryRepository) ListResults(_ context.Context, limit int) ([]*models.GameResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	results := make([]*models.GameResult, 0, len(r.results))
	for _, result := range r.results {
		results = append(results, copyResult(result))
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].FinishedAt.After(results[j].FinishedAt)
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (r *InMemoryRepository) DeleteResultsOlderThan(_ context.Context, age time.Duration) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.clock.Now().Add(-age)
	var deleted int64
	for id, result := range r.results {
		if result.FinishedAt.Before(cutoff) {
			delete(r.results, id)
			deleted++
		}
	}
	return deleted, nil
}

func (r *InMemoryRepository) Close() error {
	return nil
}

func copyResult(result *models.GameResult) *models.GameResult {
	out := *result
	out.Standings = append([]models.Standing(nil), result.Standings...)
	return &out
}
