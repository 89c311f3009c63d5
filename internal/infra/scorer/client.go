package scorer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"interview-battle-service/internal/app"
)

// MaxScore is the top of the scorer's scale.
const MaxScore = 10.0

// Client calls the external answer-analysis service over HTTP.
type Client struct {
	baseURL string
	client  *http.Client
	headers map[string]string
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		headers: map[string]string{"Content-Type": "application/json"},
	}
}

func (c *Client) SetHeader(key, value string) {
	c.headers[key] = value
}

type analyzeRequest struct {
	SessionID      string `json:"sessionId"`
	UserID         string `json:"userId"`
	QuestionIndex  int    `json:"questionIndex"`
	QuestionID     string `json:"questionId,omitempty"`
	QuestionText   string `json:"questionText"`
	ExpectedAnswer string `json:"expectedAnswer,omitempty"`
	UserAnswer     string `json:"userAnswer"`
}

type analyzeResponse struct {
	Score    *float64        `json:"score"`
	Feedback json.RawMessage `json:"feedback"`
}

// Score grades one answer. Scores outside the 0-10 scale are clamped.
func (c *Client) Score(ctx context.Context, req app.ScoreRequest) (app.ScoreResult, error) {
	body, err := json.Marshal(analyzeRequest{
		SessionID:      req.SessionID,
		UserID:         req.UserID,
		QuestionIndex:  req.QuestionIndex,
		QuestionID:     req.Question.ID,
		QuestionText:   req.Question.Text,
		ExpectedAnswer: req.Question.CorrectAnswer,
		UserAnswer:     req.Answer,
	})
	if err != nil {
		return app.ScoreResult{}, fmt.Errorf("failed to encode request: %w", err)
	}

	raw, err := c.makeRequest(ctx, http.MethodPost, "/analyze", bytes.NewReader(body))
	if err != nil {
		return app.ScoreResult{}, err
	}

	var resp analyzeResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return app.ScoreResult{}, fmt.Errorf("failed to decode response: %w", err)
	}
	if resp.Score == nil || math.IsNaN(*resp.Score) {
		return app.ScoreResult{}, fmt.Errorf("scorer response carries no score")
	}
	return app.ScoreResult{
		Score:    math.Min(math.Max(*resp.Score, 0), MaxScore),
		Feedback: resp.Feedback,
	}, nil
}

func (c *Client) makeRequest(ctx context.Context, method, endpoint string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		responseBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("scorer returned status code: %d, response: %s", resp.StatusCode, string(responseBody))
	}

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return responseBody, nil
}
