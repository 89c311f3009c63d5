package scorer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"interview-battle-service/internal/app"
	"interview-battle-service/internal/domain"
)

func TestClientScoresAnswer(t *testing.T) {
	var got analyzeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/analyze" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer token" {
			t.Errorf("missing auth header")
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"score": 12, "feedback": {"strengths": ["clear"], "improvement": "more depth"}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", time.Second)
	c.SetHeader("Authorization", "Bearer token")
	res, err := c.Score(context.Background(), app.ScoreRequest{
		SessionID:     "s1",
		UserID:        "u1",
		QuestionIndex: 2,
		Question:      domain.Question{ID: "q3", Text: "What is a channel?", CorrectAnswer: "a typed conduit"},
		Answer:        "a pipe",
	})
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if res.Score != MaxScore {
		t.Fatalf("expected clamped score 10, got %v", res.Score)
	}
	if len(res.Feedback) == 0 {
		t.Fatalf("expected feedback passthrough")
	}
	if got.ExpectedAnswer != "a typed conduit" || got.UserAnswer != "a pipe" || got.QuestionIndex != 2 {
		t.Fatalf("unexpected request body %+v", got)
	}
}

func TestClientErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	if _, err := NewClient(srv.URL, time.Second).Score(context.Background(), app.ScoreRequest{}); err == nil {
		t.Fatalf("expected error on 503")
	}

	noScore := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"feedback": {}}`))
	}))
	defer noScore.Close()
	if _, err := NewClient(noScore.URL, time.Second).Score(context.Background(), app.ScoreRequest{}); err == nil {
		t.Fatalf("expected error when score is missing")
	}
}
