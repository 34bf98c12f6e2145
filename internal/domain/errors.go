package domain

import "errors"

var (
	// ErrLobbyNotFound is returned when the lobby ID is unknown.
	ErrLobbyNotFound = errors.New("lobby not found")
	// ErrLobbyFull is returned when a third player tries to join.
	ErrLobbyFull = errors.New("lobby is full")
	// ErrAlreadyJoined is returned when a player joins a lobby twice.
	ErrAlreadyJoined = errors.New("player already in lobby")
	// ErrPlayerNotInLobby is returned when a non-participant acts on a lobby.
	ErrPlayerNotInLobby = errors.New("player not in lobby")
	// ErrQuestionNotFound indicates a submitted question ID is outside the
	// lobby's question sequence.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrDuplicateAnswer is returned when a player answers the same question
	// twice. The first answer stands; it is never rescored.
	ErrDuplicateAnswer = errors.New("question already answered")
	// ErrMatchNotStarted is returned for answers submitted while the lobby
	// is still waiting for a second player.
	ErrMatchNotStarted = errors.New("match not started")
	// ErrMatchFinished is returned for any submission after the match
	// reached its terminal state.
	ErrMatchFinished = errors.New("match already finished")
)
