package http

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"mathduel-service/internal/app"
	"mathduel-service/internal/domain"
)

// LeaderboardReader serves the all-time wins ranking. Nil when the service
// runs without Redis.
type LeaderboardReader interface {
	Top(ctx context.Context, n int) ([]domain.LeaderboardEntry, error)
}

// MatchHistory serves archived results. Nil when the service runs without
// Postgres.
type MatchHistory interface {
	ListRecent(ctx context.Context, limit int) ([]domain.MatchResult, error)
}

// APIHandler is the pull-style adapter: clients poll lobby snapshots on an
// interval and diff against their last-seen copy instead of holding a
// socket open. It shares the match core with the WebSocket adapter.
type APIHandler struct {
	service *app.MatchService
	wins    LeaderboardReader
	history MatchHistory
}

func NewAPIHandler(service *app.MatchService, wins LeaderboardReader, history MatchHistory) *APIHandler {
	return &APIHandler{service: service, wins: wins, history: history}
}

// Register mounts all polling endpoints on the mux.
func (h *APIHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /lobbies", h.createLobby)
	mux.HandleFunc("GET /lobbies", h.listLobbies)
	mux.HandleFunc("GET /lobbies/{id}", h.getLobby)
	mux.HandleFunc("POST /lobbies/{id}/join", h.joinLobby)
	mux.HandleFunc("POST /lobbies/{id}/ready", h.setReady)
	mux.HandleFunc("POST /lobbies/{id}/answers", h.submitAnswer)
	mux.HandleFunc("GET /leaderboard", h.leaderboard)
	mux.HandleFunc("GET /matches/recent", h.recentMatches)
}

type createLobbyRequest struct {
	PlayerID string          `json:"playerId"`
	Stake    json.RawMessage `json:"stake,omitempty"`
}

type joinLobbyRequest struct {
	PlayerID string `json:"playerId"`
}

type submitAnswerRequest struct {
	PlayerID   string          `json:"playerId"`
	QuestionID *int            `json:"questionId"`
	Value      json.RawMessage `json:"value"`
}

type submitAnswerResponse struct {
	Accepted   bool `json:"accepted"`
	QuestionID int  `json:"questionId"`
	IsCorrect  bool `json:"isCorrect"`
	NewScore   int  `json:"newScore"`
}

func (h *APIHandler) createLobby(w http.ResponseWriter, r *http.Request) {
	var req createLobbyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PlayerID == "" {
		writeError(w, http.StatusBadRequest, "playerId required")
		return
	}
	snap, err := h.service.CreateLobby(req.PlayerID, req.Stake)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

func (h *APIHandler) listLobbies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"lobbies": h.service.ListLobbies()})
}

func (h *APIHandler) getLobby(w http.ResponseWriter, r *http.Request) {
	snap, err := h.service.GetLobby(r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *APIHandler) joinLobby(w http.ResponseWriter, r *http.Request) {
	var req joinLobbyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PlayerID == "" {
		writeError(w, http.StatusBadRequest, "playerId required")
		return
	}
	snap, err := h.service.JoinLobby(r.PathValue("id"), req.PlayerID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *APIHandler) setReady(w http.ResponseWriter, r *http.Request) {
	var req joinLobbyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PlayerID == "" {
		writeError(w, http.StatusBadRequest, "playerId required")
		return
	}
	snap, err := h.service.SetReady(r.PathValue("id"), req.PlayerID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *APIHandler) submitAnswer(w http.ResponseWriter, r *http.Request) {
	var req submitAnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PlayerID == "" || req.QuestionID == nil {
		writeError(w, http.StatusBadRequest, "playerId and questionId required")
		return
	}
	record, score, err := h.service.SubmitAnswer(r.PathValue("id"), req.PlayerID, *req.QuestionID, rawScalar(req.Value))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, submitAnswerResponse{
		Accepted:   true,
		QuestionID: record.QuestionID,
		IsCorrect:  record.IsCorrect,
		NewScore:   score,
	})
}

func (h *APIHandler) leaderboard(w http.ResponseWriter, r *http.Request) {
	if h.wins == nil {
		writeError(w, http.StatusNotFound, "leaderboard not enabled")
		return
	}
	entries, err := h.wins.Top(r.Context(), queryInt(r, "limit", 10))
	if err != nil {
		log.Printf("leaderboard read failed: %v", err)
		writeError(w, http.StatusInternalServerError, "leaderboard unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (h *APIHandler) recentMatches(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusNotFound, "match history not enabled")
		return
	}
	results, err := h.history.ListRecent(r.Context(), queryInt(r, "limit", 20))
	if err != nil {
		log.Printf("match history read failed: %v", err)
		writeError(w, http.StatusInternalServerError, "match history unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"matches": results})
}

// rawScalar renders a JSON scalar as the string the scorer parses: numbers
// pass through, quoted strings are unquoted, anything else (including a
// missing value) scores as incorrect downstream.
func rawScalar(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		var unquoted string
		if err := json.Unmarshal(raw, &unquoted); err == nil {
			return unquoted
		}
	}
	return s
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps domain sentinels onto HTTP statuses: unknown
// entities are 404s, state conflicts are 409s.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrLobbyNotFound), errors.Is(err, domain.ErrQuestionNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrLobbyFull),
		errors.Is(err, domain.ErrAlreadyJoined),
		errors.Is(err, domain.ErrDuplicateAnswer),
		errors.Is(err, domain.ErrMatchFinished),
		errors.Is(err, domain.ErrMatchNotStarted):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrPlayerNotInLobby):
		writeError(w, http.StatusForbidden, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
