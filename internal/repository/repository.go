package repository

import (
	"context"
	"errors"
	"time"

	"github.com/keisueke/show-discord/internal/models"
)

var ErrResultNotFound = errors.New("result not found")

// Repository archives the final standings of finished games.
type Repository interface {
	SaveResult(ctx context.Context, result *models.GameResult) error
	GetResult(ctx context.Context, id string) (*models.GameResult, error)
	ListResults(ctx context.Context, limit int) ([]*models.GameResult, error)
	DeleteResultsOlderThan(ctx context.Context, age time.Duration) (int64, error)
	Close() error
}
