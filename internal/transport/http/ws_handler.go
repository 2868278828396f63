package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
)

// EventSource delivers published events for a channel. Both the in-memory
// and the Redis broadcaster satisfy it.
type EventSource interface {
	Subscribe(channel string) (<-chan domain.EventEnvelope, func(), error)
}

type WSHandler struct {
	service  *app.SessionService
	events   EventSource
	log      *zap.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.SessionService, events EventSource, log *zap.Logger) *WSHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &WSHandler{
		service: service,
		events:  events,
		log:     log,
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

type outboundMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

type errorPayload struct {
	Message string `json:"message"`
}

type answerPayload struct {
	QuestionID     string `json:"questionId"`
	SelectedOption int    `json:"selectedOption"`
	ResponseTimeMs int    `json:"responseTimeMs"`
}

type answerAck struct {
	QuestionID string `json:"questionId"`
	Accepted   bool   `json:"accepted"`
	Duplicate  bool   `json:"duplicate"`
}

// ServeWS upgrades a participant connection: joins the session, streams the
// session channel, and accepts answer submissions.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	userID := r.URL.Query().Get("userId")
	displayName := r.URL.Query().Get("name")
	if sessionID == "" || userID == "" || displayName == "" {
		http.Error(w, "missing sessionId, userId, or name", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	joined, err := h.service.Join(r.Context(), sessionID, userID, displayName)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}

	updates, cancel, err := h.events.Subscribe(app.SessionChannel(sessionID))
	if err != nil {
		_ = conn.WriteJSON(outboundMessage{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}
	defer cancel()

	send := make(chan outboundMessage, 32)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				h.log.Debug("ws write error", zap.Error(err))
				return
			}
		}
	}()

	go func() {
		defer close(updatesDone)
		for {
			select {
			case env, ok := <-updates:
				if !ok {
					return
				}
				select {
				case send <- outboundMessage{Type: env.Event, Payload: env}:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	send <- outboundMessage{Type: "joined", Payload: joined}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "answer":
			var payload answerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				send <- outboundMessage{Type: "error", Payload: errorPayload{Message: "invalid answer payload"}}
				continue
			}
			_, err := h.service.SubmitAnswer(r.Context(), sessionID, userID, payload.QuestionID, payload.SelectedOption, payload.ResponseTimeMs)
			switch {
			case err == nil:
				send <- outboundMessage{Type: "answer-received", Payload: answerAck{QuestionID: payload.QuestionID, Accepted: true}}
			case errors.Is(err, domain.ErrDuplicateAnswer):
				// The first answer already counted; from the participant's
				// side this is a no-op success.
				send <- outboundMessage{Type: "answer-received", Payload: answerAck{QuestionID: payload.QuestionID, Accepted: true, Duplicate: true}}
			default:
				send <- outboundMessage{Type: "error", Payload: errorPayload{Message: err.Error()}}
			}
		default:
			send <- outboundMessage{Type: "error", Payload: errorPayload{Message: "unsupported message type"}}
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}
