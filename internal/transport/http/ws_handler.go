package http

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"mathduel-service/internal/app"
)

type WSHandler struct {
	service  *app.MatchService
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.MatchService) *WSHandler {
	return &WSHandler{
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type createLobbyPayload struct {
	Stake json.RawMessage `json:"stake,omitempty"`
}

type joinLobbyPayload struct {
	LobbyID string `json:"lobbyId"`
}

type submitAnswerPayload struct {
	LobbyID    string `json:"lobbyId"`
	QuestionID int    `json:"questionId"`
	Value      string `json:"value"`
}

type answerResult struct {
	QuestionID int  `json:"questionId"`
	IsCorrect  bool `json:"isCorrect"`
	NewScore   int  `json:"newScore"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// ServeWS upgrades HTTP requests to websockets and wires them into the
// lobby/match use cases. A connection serves one player and at most one
// lobby; lobby events are pushed as they happen.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	playerID := r.URL.Query().Get("playerId")
	if playerID == "" {
		http.Error(w, "missing playerId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	send := make(chan outboundMessage[any], 32)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
		}
	}()

	var (
		lobbyID   string
		cancelSub func()
		pumpDone  chan struct{}
	)

	// attach subscribes the connection to a lobby and pumps its events
	// into the send channel until the connection goes away. pumpDone lets
	// teardown wait for the pump before closing send.
	attach := func(id string) error {
		events, cancel, err := h.service.Subscribe(id)
		if err != nil {
			return err
		}
		lobbyID = id
		cancelSub = cancel
		done := make(chan struct{})
		pumpDone = done
		go func() {
			defer close(done)
			for {
				select {
				case e, ok := <-events:
					if !ok {
						return
					}
					select {
					case send <- outboundMessage[any]{Type: e.EventType(), Payload: e}:
					case <-closeSignals:
						return
					}
				case <-closeSignals:
					return
				}
			}
		}()
		return nil
	}

	// detach cancels the current subscription and waits for its pump to
	// exit, so nothing sends to a channel torn down afterwards.
	detach := func() {
		if cancelSub != nil {
			cancelSub()
			cancelSub = nil
		}
		if pumpDone != nil {
			<-pumpDone
			pumpDone = nil
		}
		lobbyID = ""
	}

	sendErr := func(msg string) {
		send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: msg}}
	}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "create_lobby":
			if lobbyID != "" {
				sendErr("already in a lobby")
				continue
			}
			var payload createLobbyPayload
			_ = json.Unmarshal(inbound.Payload, &payload)
			snap, err := h.service.CreateLobby(playerID, payload.Stake)
			if err != nil {
				sendErr(err.Error())
				continue
			}
			if err := attach(snap.ID); err != nil {
				sendErr(err.Error())
				continue
			}
			send <- outboundMessage[any]{Type: "lobby_created", Payload: snap}

		case "join_lobby":
			if lobbyID != "" {
				sendErr("already in a lobby")
				continue
			}
			var payload joinLobbyPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil || payload.LobbyID == "" {
				sendErr("invalid join payload")
				continue
			}
			// Subscribe before joining so this connection also receives
			// the match_started event its own join may trigger.
			if err := attach(payload.LobbyID); err != nil {
				sendErr(err.Error())
				continue
			}
			snap, err := h.service.JoinLobby(payload.LobbyID, playerID)
			if err != nil {
				detach()
				sendErr(err.Error())
				continue
			}
			send <- outboundMessage[any]{Type: "lobby_joined", Payload: snap}

		case "ready":
			if lobbyID == "" {
				sendErr("not in a lobby")
				continue
			}
			if _, err := h.service.SetReady(lobbyID, playerID); err != nil {
				sendErr(err.Error())
			}

		case "submit_answer":
			var payload submitAnswerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				sendErr("invalid answer payload")
				continue
			}
			if payload.LobbyID == "" {
				payload.LobbyID = lobbyID
			}
			record, score, err := h.service.SubmitAnswer(payload.LobbyID, playerID, payload.QuestionID, payload.Value)
			if err != nil {
				sendErr(err.Error())
				continue
			}
			send <- outboundMessage[any]{Type: "answer_result", Payload: answerResult{
				QuestionID: record.QuestionID,
				IsCorrect:  record.IsCorrect,
				NewScore:   score,
			}}

		case "get_lobby_status":
			var payload joinLobbyPayload
			_ = json.Unmarshal(inbound.Payload, &payload)
			id := payload.LobbyID
			if id == "" {
				id = lobbyID
			}
			snap, err := h.service.GetLobby(id)
			if err != nil {
				sendErr(err.Error())
				continue
			}
			send <- outboundMessage[any]{Type: "lobby_status", Payload: snap}

		default:
			sendErr("unsupported message type")
		}
	}

	close(closeSignals)
	leaving := lobbyID
	detach()
	if leaving != "" {
		h.service.Leave(leaving, playerID)
	}
	close(send)
	<-writerDone
}
