package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"tutordesk/internal/app"
)

func TestRosterWebSocketPushesUpdates(t *testing.T) {
	f := newFixture(t)

	u := fmt.Sprintf("ws%s/quizzes/%d/roster/ws", f.server.URL[len("http"):], f.quiz.ID)
	header := http.Header{}
	for k, v := range f.asTeacher() {
		header.Set(k, v)
	}
	conn, _, err := websocket.DefaultDialer.Dial(u, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Initial projection arrives first: one audience row, nothing started.
	roster := readRoster(t, conn)
	if len(roster.Rows) != 1 || roster.Rows[0].SubmissionID != nil {
		t.Fatalf("unexpected initial roster: %+v", roster.Rows)
	}

	// A student starting must push a fresh projection.
	resp := f.do(t, http.MethodPost, fmt.Sprintf("/quizzes/%d/start", f.quiz.ID), f.asStudent(), nil)
	resp.Body.Close()

	roster = readRoster(t, conn)
	if roster.Rows[0].SubmissionID == nil {
		t.Fatalf("expected started attempt in pushed roster: %+v", roster.Rows)
	}
	if roster.Rows[0].Status != "In Progress" {
		t.Fatalf("expected In Progress, got %q", roster.Rows[0].Status)
	}
}

func TestRosterWebSocketRequiresTeacher(t *testing.T) {
	f := newFixture(t)

	req, err := http.NewRequest(http.MethodGet, fmt.Sprintf("%s/quizzes/%d/roster/ws", f.server.URL, f.quiz.ID), nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	for k, v := range f.asStudent() {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
}

func readRoster(t *testing.T, conn *websocket.Conn) app.Roster {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read roster message: %v", err)
	}
	if msg.Type != "roster" {
		t.Fatalf("expected roster message, got %s", msg.Type)
	}
	var roster app.Roster
	if err := json.Unmarshal(msg.Payload, &roster); err != nil {
		t.Fatalf("unmarshal roster: %v", err)
	}
	return roster
}
