package domain

// Event is a state-change notification delivered to every participant of a
// lobby. Delivery is best-effort; clients that miss events resynchronize
// from a snapshot.
type Event interface {
	EventType() string
}

const (
	EventTypePlayerJoined  = "player_joined"
	EventTypePlayerReady   = "player_ready"
	EventTypePlayerLeft    = "player_left"
	EventTypeMatchStarted  = "match_started"
	EventTypeScoreUpdated  = "score_updated"
	EventTypeScoreSync     = "score_sync"
	EventTypeMatchFinished = "match_finished"
)

// EventPlayerJoined fires when a participant is attached to a lobby.
type EventPlayerJoined struct {
	LobbyID  string   `json:"lobbyId"`
	PlayerID string   `json:"playerId"`
	Players  []string `json:"players"`
}

func (EventPlayerJoined) EventType() string { return EventTypePlayerJoined }

// EventPlayerReady fires when a participant completes the ready check in
// the staked-lobby flow.
type EventPlayerReady struct {
	LobbyID  string `json:"lobbyId"`
	PlayerID string `json:"playerId"`
}

func (EventPlayerReady) EventType() string { return EventTypePlayerReady }

// EventPlayerLeft fires when a participant disconnects from a waiting lobby.
type EventPlayerLeft struct {
	LobbyID  string   `json:"lobbyId"`
	PlayerID string   `json:"playerId"`
	Players  []string `json:"players"`
}

func (EventPlayerLeft) EventType() string { return EventTypePlayerLeft }

// EventMatchStarted carries the full question sequence to both players at
// the Waiting -> Playing transition.
type EventMatchStarted struct {
	LobbyID   string     `json:"lobbyId"`
	Players   []string   `json:"players"`
	Questions []Question `json:"questions"`
}

func (EventMatchStarted) EventType() string { return EventTypeMatchStarted }

// EventScoreUpdated is the incremental update broadcast after every
// accepted answer.
type EventScoreUpdated struct {
	LobbyID    string `json:"lobbyId"`
	PlayerID   string `json:"playerId"`
	QuestionID int    `json:"questionId"`
	IsCorrect  bool   `json:"isCorrect"`
	NewScore   int    `json:"newScore"`
}

func (EventScoreUpdated) EventType() string { return EventTypeScoreUpdated }

// EventScoreSync is the periodic full score snapshot broadcast while a
// match is in progress, so reconnecting clients catch up without replaying
// individual updates.
type EventScoreSync struct {
	LobbyID string        `json:"lobbyId"`
	Scores  []PlayerState `json:"scores"`
}

func (EventScoreSync) EventType() string { return EventTypeScoreSync }

// EventMatchFinished is the terminal broadcast with final standings.
type EventMatchFinished struct {
	Result MatchResult `json:"result"`
}

func (EventMatchFinished) EventType() string { return EventTypeMatchFinished }
