package domain

import (
	"encoding/json"
	"strconv"
	"time"
)

// LobbyStatus is the lifecycle phase of a lobby. Transitions only move
// forward: Waiting -> Playing -> Finished.
type LobbyStatus string

const (
	StatusWaiting  LobbyStatus = "waiting"
	StatusPlaying  LobbyStatus = "playing"
	StatusFinished LobbyStatus = "finished"
)

// Operator is an arithmetic operator a question can use.
type Operator string

const (
	OpAdd      Operator = "+"
	OpSubtract Operator = "-"
	OpMultiply Operator = "*"
	OpDivide   Operator = "/"
)

// Question is one arithmetic problem in a match. Immutable once generated;
// the expected answer is always an exact non-negative integer.
type Question struct {
	ID        int      `json:"id"` // 0-based index within the lobby
	OperandA  int      `json:"operandA"`
	OperandB  int      `json:"operandB"`
	Operator  Operator `json:"operator"`
	Answer    int      `json:"answer"`
	TimeLimit int      `json:"timeLimit"` // advisory, seconds
}

// Prompt renders the question the way clients display it, e.g. "7 + 5".
func (q Question) Prompt() string {
	return strconv.Itoa(q.OperandA) + " " + string(q.Operator) + " " + strconv.Itoa(q.OperandB)
}

// AnswerRecord is one submitted answer. Append-only; at most one per
// (player, question).
type AnswerRecord struct {
	QuestionID  int       `json:"questionId"`
	Submitted   int       `json:"submitted"`
	IsCorrect   bool      `json:"isCorrect"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// PlayerState is a snapshot-friendly view of one participant.
type PlayerState struct {
	PlayerID string         `json:"playerId"`
	Score    int            `json:"score"`
	Ready    bool           `json:"ready"`
	Answers  []AnswerRecord `json:"answers"`
}

// LobbySnapshot is the full externally visible state of a lobby. Pull-style
// clients poll it and diff against their last-seen copy.
type LobbySnapshot struct {
	ID           string          `json:"id"`
	Status       LobbyStatus     `json:"status"`
	Participants []PlayerState   `json:"participants"`
	Questions    []Question      `json:"questions,omitempty"` // empty while waiting
	Stake        json.RawMessage `json:"stake,omitempty"`     // opaque pass-through
	CreatedAt    time.Time       `json:"createdAt"`
	StartedAt    *time.Time      `json:"startedAt,omitempty"` // nil until the match starts
	Result       *MatchResult    `json:"result,omitempty"`
}

// Standing is one row of the final ranking.
type Standing struct {
	PlayerID string         `json:"playerId"`
	Score    int            `json:"score"`
	Answers  []AnswerRecord `json:"answers"`
}

// MatchResult is computed once, at the Playing -> Finished transition.
// Winner is empty on an exact tie.
type MatchResult struct {
	LobbyID    string          `json:"lobbyId"`
	Standings  []Standing      `json:"standings"` // score descending
	Winner     string          `json:"winner,omitempty"`
	Stake      json.RawMessage `json:"stake,omitempty"`
	StartedAt  time.Time       `json:"startedAt"`
	FinishedAt time.Time       `json:"finishedAt"`
}

// LobbyListing is the compact form served by the open-lobby listing.
type LobbyListing struct {
	ID        string      `json:"id"`
	Players   int         `json:"players"`
	Status    LobbyStatus `json:"status"`
	Staked    bool        `json:"staked"`
	CreatedAt time.Time   `json:"createdAt"`
}

// LeaderboardEntry is a player's all-time win count.
type LeaderboardEntry struct {
	PlayerID string `json:"playerId"`
	Wins     int    `json:"wins"`
}
