package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"

	"mathduel-service/internal/domain"
)

// MatchArchive persists finished match results to Postgres. Live lobby
// state never touches the database; only terminal results are written, one
// row per match.
type MatchArchive struct {
	pool *pgxpool.Pool
}

func NewMatchArchive(pool *pgxpool.Pool) *MatchArchive {
	return &MatchArchive{pool: pool}
}

// RecordResult implements app.ResultSink.
func (a *MatchArchive) RecordResult(ctx context.Context, result domain.MatchResult) error {
	standings, err := json.Marshal(result.Standings)
	if err != nil {
		return fmt.Errorf("marshal standings: %w", err)
	}

	var stake []byte
	if len(result.Stake) > 0 {
		stake = result.Stake
	}

	_, err = a.pool.Exec(ctx, `
		INSERT INTO match_results (lobby_id, winner, standings, stake, started_at, finished_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6)
		ON CONFLICT (lobby_id) DO NOTHING`,
		result.LobbyID, result.Winner, standings, stake, result.StartedAt, result.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("archive match: %w", err)
	}
	return nil
}

// ListRecent returns the latest finished matches, newest first.
func (a *MatchArchive) ListRecent(ctx context.Context, limit int) ([]domain.MatchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := a.pool.Query(ctx, `
		SELECT lobby_id, COALESCE(winner, ''), standings, stake, started_at, finished_at
		FROM match_results
		ORDER BY finished_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list matches: %w", err)
	}
	defer rows.Close()

	var results []domain.MatchResult
	for rows.Next() {
		var (
			r         domain.MatchResult
			standings []byte
		)
		if err := rows.Scan(&r.LobbyID, &r.Winner, &standings, &r.Stake, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		if err := json.Unmarshal(standings, &r.Standings); err != nil {
			return nil, fmt.Errorf("unmarshal standings: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
