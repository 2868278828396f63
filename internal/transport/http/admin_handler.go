package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
)

type createPayload struct {
	SessionID string `json:"sessionId"`
}

type addQuestionsPayload struct {
	QuestionIDs []string `json:"questionIds"`
}

type startPayload struct {
	Settings domain.Settings `json:"settings"`
}

type autoAdvancePayload struct {
	Enabled bool `json:"enabled"`
}

type removeParticipantPayload struct {
	ParticipantID string `json:"participantId"`
}

type commandAck struct {
	Command string         `json:"command"`
	Session domain.Session `json:"session"`
}

// ServeAdminWS upgrades an administrator connection. The admin drives the
// session with commands and receives both the session channel and the
// admin-only channel. Every command is acknowledged with the resulting
// session snapshot.
func (h *WSHandler) ServeAdminWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("admin ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	send := make(chan outboundMessage, 32)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				h.log.Debug("admin ws write error", zap.Error(err))
				return
			}
		}
	}()

	var (
		attachMu     sync.Mutex
		detach       func()
		attachedDone []chan struct{}
	)

	// attach streams a session's channels into the send queue, replacing any
	// previous attachment. One admin socket drives one session at a time.
	attach := func(sessionID string) error {
		attachMu.Lock()
		defer attachMu.Unlock()
		if detach != nil {
			detach()
			detach = nil
		}

		var cancels []func()
		for _, channel := range []string{app.SessionChannel(sessionID), app.AdminChannel(sessionID)} {
			updates, cancel, err := h.events.Subscribe(channel)
			if err != nil {
				for _, c := range cancels {
					c()
				}
				return err
			}
			cancels = append(cancels, cancel)

			done := make(chan struct{})
			attachedDone = append(attachedDone, done)
			go func(updates <-chan domain.EventEnvelope, done chan struct{}) {
				defer close(done)
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
			}(updates, done)
		}
		detach = func() {
			for _, c := range cancels {
				c()
			}
		}
		return nil
	}

	current := r.URL.Query().Get("sessionId")
	if current != "" {
		if err := attach(current); err != nil {
			send <- outboundMessage{Type: "error", Payload: errorPayload{Message: err.Error()}}
		}
	}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		h.handleAdminCommand(r, inbound, send, attach, &current)
	}

	attachMu.Lock()
	if detach != nil {
		detach()
	}
	attachMu.Unlock()
	close(closeSignals)
	for _, done := range attachedDone {
		<-done
	}
	close(send)
	<-writerDone
}

func (h *WSHandler) handleAdminCommand(r *http.Request, inbound inboundMessage, send chan outboundMessage, attach func(string) error, current *string) {
	ctx := r.Context()
	sessionID := *current

	fail := func(err error) {
		send <- outboundMessage{Type: "error", Payload: errorPayload{Message: err.Error()}}
	}
	ack := func(sess domain.Session, err error) {
		if err != nil {
			fail(err)
			return
		}
		send <- outboundMessage{Type: "ack", Payload: commandAck{Command: inbound.Type, Session: sess}}
	}

	// A create command rebinds the socket to the new session.
	switch inbound.Type {
	case "create":
		var payload createPayload
		if len(inbound.Payload) > 0 {
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				fail(err)
				return
			}
		}
		sess, err := h.service.CreateSession(ctx, payload.SessionID)
		if err != nil {
			fail(err)
			return
		}
		if err := attach(sess.ID); err != nil {
			fail(err)
			return
		}
		*current = sess.ID
		ack(sess, nil)
	case "add-questions":
		var payload addQuestionsPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			fail(err)
			return
		}
		ack(h.service.AddQuestions(ctx, sessionID, payload.QuestionIDs))
	case "start":
		var payload startPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			fail(err)
			return
		}
		ack(h.service.StartQuiz(ctx, sessionID, payload.Settings))
	case "next":
		ack(h.service.AdvanceNow(ctx, sessionID))
	case "stop":
		ack(h.service.StopQuiz(ctx, sessionID))
	case "set-auto-advance":
		var payload autoAdvancePayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			fail(err)
			return
		}
		ack(h.service.SetAutoAdvance(ctx, sessionID, payload.Enabled))
	case "remove-participant":
		var payload removeParticipantPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			fail(err)
			return
		}
		ack(h.service.RemoveParticipant(ctx, sessionID, payload.ParticipantID))
	case "leaderboard":
		entries, err := h.service.Leaderboard(ctx, sessionID)
		if err != nil {
			fail(err)
			return
		}
		send <- outboundMessage{Type: "leaderboard", Payload: domain.LeaderboardPayload{Entries: entries}}
	default:
		fail(errUnsupportedCommand)
	}
}

var errUnsupportedCommand = errors.New("unsupported command")
