package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"interview-battle-service/internal/app"
	"interview-battle-service/internal/domain"
	"interview-battle-service/internal/infra/memory"
)

type wireEvent struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Seq       uint64          `json:"seq"`
	Payload   json.RawMessage `json:"payload"`
}

func newTestServer(t *testing.T) (*httptest.Server, *app.InterviewService) {
	t.Helper()
	store := memory.NewSessionStore(nil)
	service := app.NewInterviewService(store, app.NewGateway(64), app.Options{
		BreakDuration: 50 * time.Millisecond,
	})
	ws := NewWSHandler(service, DefaultConnectionConfig())
	server := httptest.NewServer(NewRouter(service, ws, nil))
	t.Cleanup(server.Close)
	return server, service
}

func dial(t *testing.T, server *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	u := "ws" + server.URL[len("http"):] + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, typ string, payload any) {
	t.Helper()
	if err := conn.WriteJSON(map[string]any{"type": typ, "payload": payload}); err != nil {
		t.Fatalf("write %s: %v", typ, err)
	}
}

// readUntil reads events until one of type expect arrives.
func readUntil(t *testing.T, conn *websocket.Conn, expect string) wireEvent {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var ev wireEvent
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("read json waiting for %s: %v", expect, err)
		}
		if ev.Type == expect {
			return ev
		}
	}
}

func TestWebSocketInterviewFlow(t *testing.T) {
	server, _ := newTestServer(t)

	host := dial(t, server, "?sessionId=s1&userId=u1&name=Alice")
	snap := readUntil(t, host, "snapshot")
	var hostSnap struct {
		IsHost bool   `json:"isHost"`
		Phase  string `json:"phase"`
	}
	if err := json.Unmarshal(snap.Payload, &hostSnap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if !hostSnap.IsHost || hostSnap.Phase != "waiting" {
		t.Fatalf("expected waiting host snapshot, got %+v", hostSnap)
	}

	guest := dial(t, server, "")
	send(t, guest, "join", map[string]any{"sessionId": "s1", "userId": "u2", "displayName": "Bob"})
	readUntil(t, guest, "snapshot")
	readUntil(t, host, "participant-joined")

	send(t, host, "start", map[string]any{
		"questions": []map[string]any{
			{"id": "q1", "text": "What is a goroutine?", "correctAnswer": "a lightweight thread", "timeLimit": 30, "maxScore": 10},
		},
	})
	started := readUntil(t, guest, "question-started")
	var payload map[string]any
	_ = json.Unmarshal(started.Payload, &payload)
	question, _ := payload["question"].(map[string]any)
	if _, leaked := question["correctAnswer"]; leaked {
		t.Fatalf("question-started must not expose the expected answer")
	}
	readUntil(t, host, "question-started")

	send(t, host, "submitAnswer", map[string]any{"questionIndex": 0, "answer": "green thread", "score": 6})
	send(t, guest, "submitAnswer", map[string]any{"questionIndex": 0, "answer": "a thread", "score": 4})
	readUntil(t, host, "all-submitted")

	ended := readUntil(t, guest, "session-ended")
	var results struct {
		Reason string                        `json:"reason"`
		Scores map[string]map[string]float64 `json:"scores"`
	}
	_ = json.Unmarshal(ended.Payload, &results)
	if results.Reason != "completed" {
		t.Fatalf("expected completed, got %q", results.Reason)
	}

	resp, err := http.Get(server.URL + "/sessions/s1/results")
	if err != nil {
		t.Fatalf("get results: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for results, got %d", resp.StatusCode)
	}
}

func TestWebSocketDeniesNonHostStart(t *testing.T) {
	server, service := newTestServer(t)

	host := dial(t, server, "?sessionId=s1&userId=u1&name=Alice")
	readUntil(t, host, "snapshot")
	guest := dial(t, server, "?sessionId=s1&userId=u2&name=Bob")
	readUntil(t, guest, "snapshot")

	send(t, guest, "start", map[string]any{
		"sessionId": "s1",
		"questions": []map[string]any{{"text": "q", "timeLimit": 30}},
	})
	denied := readUntil(t, guest, "error")
	var errPayload struct {
		Code    string `json:"code"`
		Command string `json:"command"`
	}
	_ = json.Unmarshal(denied.Payload, &errPayload)
	if errPayload.Code != "unauthorized" || errPayload.Command != "start" {
		t.Fatalf("unexpected denial %+v", errPayload)
	}

	session, ok := service.Session("s1")
	if !ok || session.Phase() != "waiting" {
		t.Fatalf("denied start must leave the session waiting")
	}

	send(t, guest, "bogus", nil)
	if ev := readUntil(t, guest, "error"); ev.Type != "error" {
		t.Fatalf("expected error for unknown command")
	}
}

func TestRESTReadsUnknownSession(t *testing.T) {
	server, _ := newTestServer(t)

	for _, path := range []string{"/sessions/nope/snapshot", "/sessions/nope/scores", "/sessions/nope/results"} {
		resp, err := http.Get(server.URL + path)
		if err != nil {
			t.Fatalf("get %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("%s: expected 404, got %d", path, resp.StatusCode)
		}
	}

	resp, err := http.Get(server.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected healthz 200, got %d", resp.StatusCode)
	}
}

func TestErrorCodes(t *testing.T) {
	cases := map[error]string{
		errBadRequest:                                    "bad_request",
		domain.ErrInvalidTransition:                      "invalid_transition",
		domain.ErrDuplicateSubmission:                    "duplicate_submission",
		fmt.Errorf("%w: no rows", domain.ErrNoQuestions): "invalid_questions",
		domain.ErrInvalidTimeLimit:                       "invalid_questions",
		domain.ErrSessionNotFound:                        "session_not_found",
	}
	for err, want := range cases {
		if got := ErrorCode(err); got != want {
			t.Fatalf("ErrorCode(%v) = %s, want %s", err, got, want)
		}
	}
}
