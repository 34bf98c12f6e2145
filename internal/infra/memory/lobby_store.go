package memory

import (
	"sync"

	"mathduel-service/internal/app"
)

// LobbyStore is an in-memory implementation of app.LobbyRepository.
type LobbyStore struct {
	mu      sync.RWMutex
	lobbies map[string]*app.Lobby
}

func NewLobbyStore() *LobbyStore {
	return &LobbyStore{
		lobbies: make(map[string]*app.Lobby),
	}
}

func (s *LobbyStore) Put(lobby *app.Lobby) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lobbies[lobby.ID()] = lobby
}

func (s *LobbyStore) Get(lobbyID string) (*app.Lobby, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lobby, ok := s.lobbies[lobbyID]
	return lobby, ok
}

func (s *LobbyStore) Delete(lobbyID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.lobbies, lobbyID)
}

func (s *LobbyStore) List() []*app.Lobby {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lobbies := make([]*app.Lobby, 0, len(s.lobbies))
	for _, l := range s.lobbies {
		lobbies = append(lobbies, l)
	}
	return lobbies
}
