package app

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"

	"mathduel-service/internal/domain"
)

// LobbyRepository abstracts how live lobbies are stored (in-memory, with an
// optional Redis liveness marker).
type LobbyRepository interface {
	Put(lobby *Lobby)
	Get(lobbyID string) (*Lobby, bool)
	Delete(lobbyID string)
	List() []*Lobby
}

// ResultSink receives the terminal result of every finished match. Sinks
// are best-effort: a failing sink is logged and never corrupts match state.
type ResultSink interface {
	RecordResult(ctx context.Context, result domain.MatchResult) error
}

// QuestionSource produces the question sequence for a starting match.
type QuestionSource interface {
	Generate(count int) []domain.Question
}

// MatchConfig tunes match behavior.
type MatchConfig struct {
	QuestionCount int
	Deadline      time.Duration // match-wide, anchored at the Playing transition
	SyncInterval  time.Duration // periodic score_sync broadcast
	Retention     time.Duration // how long finished lobbies serve snapshots
}

const (
	defaultQuestionCount = 5
	defaultDeadline      = 90 * time.Second
	defaultSyncInterval  = 2 * time.Second
	defaultRetention     = time.Minute
	sinkTimeout          = 10 * time.Second
)

func (c MatchConfig) withDefaults() MatchConfig {
	if c.QuestionCount <= 0 {
		c.QuestionCount = defaultQuestionCount
	}
	if c.Deadline <= 0 {
		c.Deadline = defaultDeadline
	}
	if c.SyncInterval <= 0 {
		c.SyncInterval = defaultSyncInterval
	}
	if c.Retention <= 0 {
		c.Retention = defaultRetention
	}
	return c
}

// MatchService contains the lobby/match use cases. It owns no lobby state
// itself; each lobby serializes its own mutations.
type MatchService struct {
	lobbies   LobbyRepository
	questions QuestionSource
	cfg       MatchConfig
	sinks     []ResultSink
	now       func() time.Time
}

func NewMatchService(lobbies LobbyRepository, questions QuestionSource, cfg MatchConfig, sinks ...ResultSink) *MatchService {
	return &MatchService{
		lobbies:   lobbies,
		questions: questions,
		cfg:       cfg.withDefaults(),
		sinks:     sinks,
		now:       time.Now,
	}
}

// NewMatchServiceWithClock is test-only for deterministic timestamps.
func NewMatchServiceWithClock(lobbies LobbyRepository, questions QuestionSource, cfg MatchConfig, now func() time.Time, sinks ...ResultSink) *MatchService {
	s := NewMatchService(lobbies, questions, cfg, sinks...)
	s.now = now
	return s
}

// CreateLobby allocates a waiting lobby with the creator attached. Stake
// metadata is carried opaquely; lobbies with a stake require both players
// to pass the ready check before the match starts.
func (s *MatchService) CreateLobby(playerID string, stake json.RawMessage) (domain.LobbySnapshot, error) {
	if string(stake) == "null" {
		stake = nil
	}
	id := uuid.NewString()
	lobby := newLobby(id, stake, playerID, s.cfg, lobbyHooks{
		generate:  s.questions.Generate,
		onResult:  s.fanOutResult,
		onExpired: s.lobbies.Delete,
	}, s.now)
	s.lobbies.Put(lobby)
	log.Printf("lobby %s created by player %s", id, playerID)
	return lobby.Snapshot(), nil
}

// JoinLobby attaches a second participant. When the join fills the lobby
// (and any ready check has passed), the match starts as part of the same
// operation.
func (s *MatchService) JoinLobby(lobbyID, playerID string) (domain.LobbySnapshot, error) {
	lobby, ok := s.lobbies.Get(lobbyID)
	if !ok {
		return domain.LobbySnapshot{}, domain.ErrLobbyNotFound
	}
	snap, err := lobby.Join(playerID)
	if err != nil {
		return domain.LobbySnapshot{}, err
	}
	log.Printf("player %s joined lobby %s", playerID, lobbyID)
	return snap, nil
}

// SetReady records a participant's ready check (staked-lobby flow).
func (s *MatchService) SetReady(lobbyID, playerID string) (domain.LobbySnapshot, error) {
	lobby, ok := s.lobbies.Get(lobbyID)
	if !ok {
		return domain.LobbySnapshot{}, domain.ErrLobbyNotFound
	}
	return lobby.SetReady(playerID)
}

// SubmitAnswer scores one answer and reports the outcome.
func (s *MatchService) SubmitAnswer(lobbyID, playerID string, questionID int, value string) (domain.AnswerRecord, int, error) {
	lobby, ok := s.lobbies.Get(lobbyID)
	if !ok {
		return domain.AnswerRecord{}, 0, domain.ErrLobbyNotFound
	}
	return lobby.SubmitAnswer(playerID, questionID, value)
}

// GetLobby returns the current snapshot; finished lobbies keep serving
// their last snapshot until the retention window elapses.
func (s *MatchService) GetLobby(lobbyID string) (domain.LobbySnapshot, error) {
	lobby, ok := s.lobbies.Get(lobbyID)
	if !ok {
		return domain.LobbySnapshot{}, domain.ErrLobbyNotFound
	}
	return lobby.Snapshot(), nil
}

// ListLobbies returns the compact listing of all live lobbies.
func (s *MatchService) ListLobbies() []domain.LobbyListing {
	lobbies := s.lobbies.List()
	listings := make([]domain.LobbyListing, 0, len(lobbies))
	for _, l := range lobbies {
		listings = append(listings, l.Listing())
	}
	return listings
}

// Subscribe returns a channel receiving a lobby's events. The caller must
// invoke the returned cancel function to avoid leaks.
func (s *MatchService) Subscribe(lobbyID string) (<-chan domain.Event, func(), error) {
	lobby, ok := s.lobbies.Get(lobbyID)
	if !ok {
		return nil, nil, domain.ErrLobbyNotFound
	}
	ch, cancel := lobby.Subscribe()
	return ch, cancel, nil
}

// Leave detaches a player from a waiting lobby and drops the lobby once
// empty. Playing lobbies are left to finish via deadline.
func (s *MatchService) Leave(lobbyID, playerID string) {
	lobby, ok := s.lobbies.Get(lobbyID)
	if !ok {
		return
	}
	if lobby.Leave(playerID) {
		s.lobbies.Delete(lobbyID)
		log.Printf("lobby %s removed after last player left", lobbyID)
	}
}

// fanOutResult hands the terminal result to every sink. Runs outside the
// lobby lock; sink failures are logged and swallowed.
func (s *MatchService) fanOutResult(result domain.MatchResult) {
	for _, sink := range s.sinks {
		go func(sink ResultSink) {
			ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
			defer cancel()
			if err := sink.RecordResult(ctx, result); err != nil {
				log.Printf("result sink failed for lobby %s: %v", result.LobbyID, err)
			}
		}(sink)
	}
}
