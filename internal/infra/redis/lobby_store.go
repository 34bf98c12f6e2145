package redis

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"mathduel-service/internal/app"
)

// LobbyStore is a Redis-aware implementation of app.LobbyRepository.
// Notes:
//   - Lobbies themselves stay in a local in-memory map: the lobby entity
//     carries live subscriber channels and timers that cannot round-trip
//     through Redis.
//   - Redis holds a TTL'd liveness marker per lobby, which operators can
//     inspect and which a cross-instance router could build on.
type LobbyStore struct {
	client *redis.Client
	ttl    time.Duration
	mu     sync.RWMutex
	local  map[string]*app.Lobby
}

func NewLobbyStore(client *redis.Client, ttl time.Duration) *LobbyStore {
	return &LobbyStore{
		client: client,
		ttl:    ttl,
		local:  make(map[string]*app.Lobby),
	}
}

func (s *LobbyStore) Put(lobby *app.Lobby) {
	s.mu.Lock()
	s.local[lobby.ID()] = lobby
	s.mu.Unlock()
	// Best-effort liveness marker, outside the lock: a slow Redis must
	// not stall lobby lookups.
	_ = s.client.Set(context.Background(), s.key(lobby.ID()), "1", s.ttl).Err()
}

func (s *LobbyStore) Get(lobbyID string) (*app.Lobby, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lobby, ok := s.local[lobbyID]
	return lobby, ok
}

func (s *LobbyStore) Delete(lobbyID string) {
	s.mu.Lock()
	delete(s.local, lobbyID)
	s.mu.Unlock()
	_ = s.client.Del(context.Background(), s.key(lobbyID)).Err()
}

func (s *LobbyStore) List() []*app.Lobby {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lobbies := make([]*app.Lobby, 0, len(s.local))
	for _, l := range s.local {
		lobbies = append(lobbies, l)
	}
	return lobbies
}

func (s *LobbyStore) key(lobbyID string) string {
	return "duel:lobby:" + lobbyID
}
