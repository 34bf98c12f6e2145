package leaderboard

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"mathduel-service/internal/domain"
)

const winsKey = "duel:leaderboard:wins"

// Service tracks all-time duel wins per player in a Redis sorted set and
// serves the top-N ranking. It is wired as a result sink: every finished
// match with a strict winner bumps that player's win count; ties bump
// nobody.
type Service struct {
	client *redis.Client
	sf     singleflight.Group
}

func NewService(client *redis.Client) *Service {
	return &Service{client: client}
}

// RecordResult implements app.ResultSink.
func (s *Service) RecordResult(ctx context.Context, result domain.MatchResult) error {
	if result.Winner == "" {
		return nil
	}
	if err := s.client.ZIncrBy(ctx, winsKey, 1, result.Winner).Err(); err != nil {
		return fmt.Errorf("record win: %w", err)
	}
	return nil
}

// Top returns the n best players by win count. Concurrent reads for the
// same n are collapsed into a single Redis round trip.
func (s *Service) Top(ctx context.Context, n int) ([]domain.LeaderboardEntry, error) {
	if n <= 0 {
		n = 10
	}
	result, err, _ := s.sf.Do(strconv.Itoa(n), func() (interface{}, error) {
		zs, err := s.client.ZRevRangeWithScores(ctx, winsKey, 0, int64(n-1)).Result()
		if err != nil {
			return nil, fmt.Errorf("read leaderboard: %w", err)
		}
		entries := make([]domain.LeaderboardEntry, 0, len(zs))
		for _, z := range zs {
			id, ok := z.Member.(string)
			if !ok {
				continue
			}
			entries = append(entries, domain.LeaderboardEntry{
				PlayerID: id,
				Wins:     int(z.Score),
			})
		}
		return entries, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.LeaderboardEntry), nil
}
