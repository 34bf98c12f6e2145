package app

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"mathduel-service/internal/domain"
)

const lobbyCapacity = 2

// playerSession is the per-player mutable state within a lobby. All access
// goes through the owning lobby's mutex.
type playerSession struct {
	playerID string
	ready    bool
	score    int
	answers  []domain.AnswerRecord
	answered map[int]struct{}
}

// Lobby owns the state machine for one match: participants, question
// sequence, scores, and the Waiting -> Playing -> Finished transitions.
// Every mutation for a lobby is serialized on its mutex, so two racing
// joins can never both be admitted as participant #2.
type Lobby struct {
	id        string
	stake     json.RawMessage
	createdAt time.Time
	now       func() time.Time
	cfg       MatchConfig
	hooks     lobbyHooks

	mu           sync.Mutex
	status       domain.LobbyStatus
	participants []*playerSession
	questions    []domain.Question
	startedAt    time.Time
	result       *domain.MatchResult
	subscribers  map[chan domain.Event]struct{}
	deadline     *time.Timer
	syncStop     chan struct{}
}

type lobbyHooks struct {
	// generate produces the question sequence at the Playing transition.
	generate func(count int) []domain.Question
	// onResult fans the terminal result out to sinks (leaderboard,
	// archive, settlement). Called once, outside the lobby lock.
	onResult func(result domain.MatchResult)
	// onExpired removes the lobby from the registry after the
	// finished-lobby retention window.
	onExpired func(lobbyID string)
}

func newLobby(id string, stake json.RawMessage, creator string, cfg MatchConfig, hooks lobbyHooks, now func() time.Time) *Lobby {
	l := &Lobby{
		id:          id,
		stake:       stake,
		createdAt:   now(),
		now:         now,
		cfg:         cfg,
		hooks:       hooks,
		status:      domain.StatusWaiting,
		subscribers: make(map[chan domain.Event]struct{}),
	}
	l.participants = append(l.participants, newPlayerSession(creator))
	return l
}

func newPlayerSession(playerID string) *playerSession {
	return &playerSession{
		playerID: playerID,
		answered: make(map[int]struct{}),
	}
}

func (l *Lobby) ID() string { return l.id }

// Join attaches a second participant. The Waiting -> Playing transition
// happens inside the same critical section, so no observer can see two
// participants on a still-waiting unstaked lobby.
func (l *Lobby) Join(playerID string) (domain.LobbySnapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, p := range l.participants {
		if p.playerID == playerID {
			return domain.LobbySnapshot{}, domain.ErrAlreadyJoined
		}
	}
	if len(l.participants) >= lobbyCapacity || l.status != domain.StatusWaiting {
		return domain.LobbySnapshot{}, domain.ErrLobbyFull
	}

	l.participants = append(l.participants, newPlayerSession(playerID))
	l.broadcastLocked(domain.EventPlayerJoined{
		LobbyID:  l.id,
		PlayerID: playerID,
		Players:  l.playerIDsLocked(),
	})
	l.maybeStartLocked()
	return l.snapshotLocked(), nil
}

// SetReady marks a participant ready. Staked lobbies hold the start until
// both players have confirmed; unstaked lobbies ignore readiness and start
// on the second join.
func (l *Lobby) SetReady(playerID string) (domain.LobbySnapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p := l.sessionLocked(playerID)
	if p == nil {
		return domain.LobbySnapshot{}, domain.ErrPlayerNotInLobby
	}
	if l.status == domain.StatusFinished {
		return domain.LobbySnapshot{}, domain.ErrMatchFinished
	}
	if !p.ready {
		p.ready = true
		l.broadcastLocked(domain.EventPlayerReady{LobbyID: l.id, PlayerID: playerID})
		l.maybeStartLocked()
	}
	return l.snapshotLocked(), nil
}

// maybeStartLocked runs the Waiting -> Playing transition exactly once.
func (l *Lobby) maybeStartLocked() {
	if l.status != domain.StatusWaiting || len(l.participants) != lobbyCapacity {
		return
	}
	if len(l.stake) > 0 && !l.allReadyLocked() {
		return
	}

	l.questions = l.hooks.generate(l.cfg.QuestionCount)
	l.startedAt = l.now()
	l.status = domain.StatusPlaying

	l.broadcastLocked(domain.EventMatchStarted{
		LobbyID:   l.id,
		Players:   l.playerIDsLocked(),
		Questions: l.questions,
	})

	// Match-wide deadline; the per-question limit is advisory only.
	l.deadline = time.AfterFunc(l.cfg.Deadline, l.forceFinish)
	l.syncStop = make(chan struct{})
	go l.syncLoop(l.syncStop)
}

// SubmitAnswer validates and scores one answer. Non-numeric values are
// accepted and scored as incorrect rather than rejected.
func (l *Lobby) SubmitAnswer(playerID string, questionID int, value string) (domain.AnswerRecord, int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.status {
	case domain.StatusWaiting:
		return domain.AnswerRecord{}, 0, domain.ErrMatchNotStarted
	case domain.StatusFinished:
		return domain.AnswerRecord{}, 0, domain.ErrMatchFinished
	}

	p := l.sessionLocked(playerID)
	if p == nil {
		return domain.AnswerRecord{}, 0, domain.ErrPlayerNotInLobby
	}
	if questionID < 0 || questionID >= len(l.questions) {
		return domain.AnswerRecord{}, 0, domain.ErrQuestionNotFound
	}
	if _, dup := p.answered[questionID]; dup {
		return domain.AnswerRecord{}, p.score, domain.ErrDuplicateAnswer
	}

	submitted, parseErr := strconv.Atoi(strings.TrimSpace(value))
	record := domain.AnswerRecord{
		QuestionID:  questionID,
		Submitted:   submitted,
		IsCorrect:   parseErr == nil && submitted == l.questions[questionID].Answer,
		SubmittedAt: l.now(),
	}
	p.answered[questionID] = struct{}{}
	p.answers = append(p.answers, record)
	if record.IsCorrect {
		p.score++
	}

	l.broadcastLocked(domain.EventScoreUpdated{
		LobbyID:    l.id,
		PlayerID:   playerID,
		QuestionID: questionID,
		IsCorrect:  record.IsCorrect,
		NewScore:   p.score,
	})

	if l.allAnsweredLocked() {
		l.finishLocked()
	}
	return record, p.score, nil
}

// Leave detaches a participant from a waiting lobby. Once the match is
// playing the session stays; the deadline guarantees termination even if
// the player never returns. Reports whether the lobby is now empty.
func (l *Lobby) Leave(playerID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.status != domain.StatusWaiting {
		return false
	}
	for i, p := range l.participants {
		if p.playerID == playerID {
			l.participants = append(l.participants[:i], l.participants[i+1:]...)
			l.broadcastLocked(domain.EventPlayerLeft{
				LobbyID:  l.id,
				PlayerID: playerID,
				Players:  l.playerIDsLocked(),
			})
			break
		}
	}
	return len(l.participants) == 0
}

// forceFinish is the deadline path: whatever scores exist at this instant
// become final. A lobby that already finished naturally is left alone.
func (l *Lobby) forceFinish() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.status != domain.StatusPlaying {
		return
	}
	l.finishLocked()
}

// finishLocked runs the Playing -> Finished transition exactly once:
// compute standings, stop timers, broadcast the terminal result, and hand
// the result to the sinks.
func (l *Lobby) finishLocked() {
	l.status = domain.StatusFinished
	if l.deadline != nil {
		l.deadline.Stop()
	}
	if l.syncStop != nil {
		close(l.syncStop)
		l.syncStop = nil
	}

	standings := make([]domain.Standing, 0, len(l.participants))
	for _, p := range l.participants {
		standings = append(standings, domain.Standing{
			PlayerID: p.playerID,
			Score:    p.score,
			Answers:  append([]domain.AnswerRecord(nil), p.answers...),
		})
	}
	sort.SliceStable(standings, func(i, j int) bool {
		return standings[i].Score > standings[j].Score
	})

	winner := ""
	if len(standings) == lobbyCapacity && standings[0].Score > standings[1].Score {
		winner = standings[0].PlayerID
	}

	result := domain.MatchResult{
		LobbyID:    l.id,
		Standings:  standings,
		Winner:     winner,
		Stake:      l.stake,
		StartedAt:  l.startedAt,
		FinishedAt: l.now(),
	}
	l.result = &result

	l.broadcastLocked(domain.EventMatchFinished{Result: result})

	if l.hooks.onResult != nil {
		go l.hooks.onResult(result)
	}
	if l.hooks.onExpired != nil {
		time.AfterFunc(l.cfg.Retention, func() { l.hooks.onExpired(l.id) })
	}
}

// syncLoop broadcasts a full score snapshot on an interval while the match
// is playing, so clients that dropped an incremental update resynchronize.
func (l *Lobby) syncLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(l.cfg.SyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.mu.Lock()
			if l.status == domain.StatusPlaying {
				l.broadcastLocked(domain.EventScoreSync{
					LobbyID: l.id,
					Scores:  l.playerStatesLocked(),
				})
			}
			l.mu.Unlock()
		case <-stop:
			return
		}
	}
}

// Subscribe returns a channel receiving this lobby's events. The caller
// must invoke cancel to avoid leaks.
func (l *Lobby) Subscribe() (<-chan domain.Event, func()) {
	ch := make(chan domain.Event, 16)

	l.mu.Lock()
	l.subscribers[ch] = struct{}{}
	l.mu.Unlock()

	cancel := func() {
		l.mu.Lock()
		if _, ok := l.subscribers[ch]; ok {
			delete(l.subscribers, ch)
			close(ch)
		}
		l.mu.Unlock()
	}
	return ch, cancel
}

// broadcastLocked delivers an event to every subscriber without blocking;
// a slow client's channel drops its oldest event instead of stalling the
// match for the other participant.
func (l *Lobby) broadcastLocked(e domain.Event) {
	for ch := range l.subscribers {
		select {
		case ch <- e:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- e
		}
	}
}

// Snapshot returns the externally visible lobby state.
func (l *Lobby) Snapshot() domain.LobbySnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshotLocked()
}

// Listing returns the compact form for the open-lobby list.
func (l *Lobby) Listing() domain.LobbyListing {
	l.mu.Lock()
	defer l.mu.Unlock()
	return domain.LobbyListing{
		ID:        l.id,
		Players:   len(l.participants),
		Status:    l.status,
		Staked:    len(l.stake) > 0,
		CreatedAt: l.createdAt,
	}
}

// HasParticipant reports whether the player belongs to this lobby.
func (l *Lobby) HasParticipant(playerID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sessionLocked(playerID) != nil
}

func (l *Lobby) snapshotLocked() domain.LobbySnapshot {
	snap := domain.LobbySnapshot{
		ID:           l.id,
		Status:       l.status,
		Participants: l.playerStatesLocked(),
		Stake:        l.stake,
		CreatedAt:    l.createdAt,
		Result:       l.result,
	}
	if !l.startedAt.IsZero() {
		startedAt := l.startedAt
		snap.StartedAt = &startedAt
	}
	if l.status != domain.StatusWaiting {
		snap.Questions = l.questions
	}
	return snap
}

func (l *Lobby) playerStatesLocked() []domain.PlayerState {
	states := make([]domain.PlayerState, 0, len(l.participants))
	for _, p := range l.participants {
		states = append(states, domain.PlayerState{
			PlayerID: p.playerID,
			Score:    p.score,
			Ready:    p.ready,
			Answers:  append([]domain.AnswerRecord(nil), p.answers...),
		})
	}
	return states
}

func (l *Lobby) playerIDsLocked() []string {
	ids := make([]string, 0, len(l.participants))
	for _, p := range l.participants {
		ids = append(ids, p.playerID)
	}
	return ids
}

func (l *Lobby) sessionLocked(playerID string) *playerSession {
	for _, p := range l.participants {
		if p.playerID == playerID {
			return p
		}
	}
	return nil
}

func (l *Lobby) allReadyLocked() bool {
	for _, p := range l.participants {
		if !p.ready {
			return false
		}
	}
	return true
}

func (l *Lobby) allAnsweredLocked() bool {
	for _, p := range l.participants {
		if len(p.answers) < len(l.questions) {
			return false
		}
	}
	return true
}
