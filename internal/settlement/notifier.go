package settlement

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"

	"mathduel-service/internal/domain"
)

const defaultChannel = "duel:settlements"

// Notification is the one-way message handed to the escrow/payout side
// after a staked match ends with a strict winner. The stake payload is the
// opaque value the client supplied at lobby creation; this service never
// interprets it.
type Notification struct {
	LobbyID    string          `json:"lobbyId"`
	Winner     string          `json:"winner"`
	Stake      json.RawMessage `json:"stake"`
	FinishedAt int64           `json:"finishedAt"`
}

// Notifier publishes settlement notifications to a Redis channel. It is
// best-effort: the match result stands whether or not anyone is listening.
type Notifier struct {
	client  *redis.Client
	channel string
}

func NewNotifier(client *redis.Client, channel string) *Notifier {
	if channel == "" {
		channel = defaultChannel
	}
	return &Notifier{client: client, channel: channel}
}

// RecordResult implements app.ResultSink. Unstaked matches and ties are
// skipped: there is nothing to pay out.
func (n *Notifier) RecordResult(ctx context.Context, result domain.MatchResult) error {
	if len(result.Stake) == 0 || result.Winner == "" {
		return nil
	}

	payload, err := json.Marshal(Notification{
		LobbyID:    result.LobbyID,
		Winner:     result.Winner,
		Stake:      result.Stake,
		FinishedAt: result.FinishedAt.Unix(),
	})
	if err != nil {
		return fmt.Errorf("marshal settlement: %w", err)
	}

	if err := n.client.Publish(ctx, n.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish settlement: %w", err)
	}
	log.Printf("settlement published for lobby %s, winner %s", result.LobbyID, result.Winner)
	return nil
}
