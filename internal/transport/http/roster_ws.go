package http

import (
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"tutordesk/internal/app"
)

// RosterWSHandler streams live roster updates to a teacher watching a quiz.
// Every submission event re-projects the roster and pushes the fresh view.
type RosterWSHandler struct {
	roster   *app.RosterService
	feed     app.RosterFeed
	logger   *log.Logger
	upgrader websocket.Upgrader
}

func NewRosterWSHandler(roster *app.RosterService, feed app.RosterFeed, logger *log.Logger) *RosterWSHandler {
	if logger == nil {
		logger = log.Default()
	}
	return &RosterWSHandler{
		roster: roster,
		feed:   feed,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// ServeWS upgrades the request and streams roster projections until the
// client disconnects.
func (h *RosterWSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	quizID, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "invalid quiz id", http.StatusBadRequest)
		return
	}
	id, ok := callerIdentity(r)
	if !ok || id.role != roleTeacher {
		http.Error(w, "teacher identity required", http.StatusForbidden)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	roster, err := h.roster.Project(r.Context(), quizID)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}

	signals, cancel := h.feed.Subscribe(quizID)
	defer cancel()

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				h.logger.Printf("ws write error: %v", err)
				return
			}
		}
	}()

	go func() {
		defer close(updatesDone)
		for {
			select {
			case _, ok := <-signals:
				if !ok {
					return
				}
				fresh, err := h.roster.Project(r.Context(), quizID)
				if err != nil {
					h.logger.Printf("roster projection failed: %v", err)
					continue
				}
				select {
				case send <- outboundMessage[any]{Type: "roster", Payload: fresh}:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	send <- outboundMessage[any]{Type: "roster", Payload: roster}

	// Reads only serve to detect the peer going away.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}
