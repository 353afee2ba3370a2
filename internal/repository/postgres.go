package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/keisueke/show-discord/internal/models"
)

type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(ctx context.Context, databaseURL string) (*PostgresRepository, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := createTables(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return &PostgresRepository{db: db}, nil
}

func createTables(ctx context.Context, db *sql.DB) error {
	createResultsTable := `
	CREATE TABLE IF NOT EXISTS game_results (
		id VARCHAR(36) PRIMARY KEY,
		session_id VARCHAR(255) NOT NULL,
		rounds INTEGER NOT NULL DEFAULT 0,
		finished_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	);`

	createStandingsTable := `
	CREATE TABLE IF NOT EXISTS standings (
		result_id VARCHAR(36) NOT NULL REFERENCES game_results(id) ON DELETE CASCADE,
		player_id VARCHAR(255) NOT NULL,
		display_name VARCHAR(255) NOT NULL,
		score INTEGER NOT NULL DEFAULT 0,
		rank INTEGER NOT NULL,
		PRIMARY KEY (result_id, player_id)
	);`

	createIndexes := `
	CREATE INDEX IF NOT EXISTS idx_game_results_finished_at ON game_results(finished_at);
	CREATE INDEX IF NOT EXISTS idx_game_results_session_id ON game_results(session_id);
	`

	for _, stmt := range []string{createResultsTable, createStandingsTable, createIndexes} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (r *PostgresRepository) SaveResult(ctx context.Context, result *models.GameResult) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO game_results (id, session_id, rounds, finished_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			rounds = EXCLUDED.rounds,
			finished_at = EXCLUDED.finished_at
	`, result.ID, result.SessionID, result.Rounds, result.FinishedAt)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM standings WHERE result_id = $1", result.ID); err != nil {
		return err
	}

	for _, s := range result.Standings {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO standings (result_id, player_id, display_name, score, rank)
			VALUES ($1, $2, $3, $4, $5)
		`, result.ID, s.PlayerID, s.DisplayName, s.Score, s.Rank)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (r *PostgresRepository) GetResult(ctx context.Context, id string) (*models.GameResult, error) {
	var result models.GameResult
	err := r.db.QueryRowContext(ctx, `
		SELECT id, session_id, rounds, finished_at
		FROM game_results WHERE id = $1
	`, id).Scan(&result.ID, &result.SessionID, &result.Rounds, &result.FinishedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrResultNotFound
		}
		return nil, err
	}

	standings, err := r.standings(ctx, id)
	if err != nil {
		return nil, err
	}
	result.Standings = standings
	return &result, nil
}

func (r *PostgresRepository) standings(ctx context.Context, resultID string) ([]models.Standing, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT player_id, display_name, score, rank
		FROM standings WHERE result_id = $1
		ORDER BY rank, player_id
	`, resultID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var standings []models.Standing
	for rows.Next() {
		var s models.Standing
		if err := rows.Scan(&s.PlayerID, &s.DisplayName, &s.Score, &s.Rank); err != nil {
			return nil, err
		}
		standings = append(standings, s)
	}
	return standings, rows.Err()
}

func (r *PostgresRepository) ListResults(ctx context.Context, limit int) ([]*models.GameResult, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, session_id, rounds, finished_at
		FROM game_results
		ORDER BY finished_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*models.GameResult
	for rows.Next() {
		var result models.GameResult
		if err := rows.Scan(&result.ID, &result.SessionID, &result.Rounds, &result.FinishedAt); err != nil {
			return nil, err
		}
		results = append(results, &result)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, result := range results {
		if result.Standings, err = r.standings(ctx, result.ID); err != nil {
			return nil, err
		}
	}
	return results, nil
}

func (r *PostgresRepository) DeleteResultsOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM game_results WHERE finished_at < $1", time.Now().Add(-age))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *PostgresRepository) Close() error {
	return r.db.Close()
}
