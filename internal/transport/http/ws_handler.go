package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"interview-battle-service/internal/app"
	"interview-battle-service/internal/domain"
)

// ConnectionConfig bounds one websocket connection.
type ConnectionConfig struct {
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
	PingInterval time.Duration
	SendBuffer   int
	// CheckOrigin defaults to accepting every origin; CORS is enforced on the router.
	CheckOrigin func(r *http.Request) bool
}

func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  60 * time.Second,
		PingInterval: 25 * time.Second,
		SendBuffer:   64,
	}
}

type WSHandler struct {
	service  *app.InterviewService
	cfg      ConnectionConfig
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.InterviewService, cfg ConnectionConfig) *WSHandler {
	def := DefaultConnectionConfig()
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.PingInterval <= 0 || cfg.PingInterval >= cfg.ReadTimeout {
		cfg.PingInterval = cfg.ReadTimeout * 9 / 10
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = def.SendBuffer
	}
	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}
	return &WSHandler{
		service: service,
		cfg:     cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type joinPayload struct {
	SessionID   string `json:"sessionId"`
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	IsHost      *bool  `json:"isHost,omitempty"`
}

type startPayload struct {
	SessionID string            `json:"sessionId"`
	Questions []domain.Question `json:"questions"`
}

type submitPayload struct {
	SessionID     string   `json:"sessionId"`
	UserID        string   `json:"userId"`
	QuestionIndex *int     `json:"questionIndex"`
	Answer        string   `json:"answer"`
	Score         *float64 `json:"score,omitempty"`
}

type sessionPayload struct {
	SessionID string `json:"sessionId"`
}

type updateScorePayload struct {
	SessionID     string   `json:"sessionId"`
	UserID        string   `json:"userId"`
	Score         *float64 `json:"score"`
	DisplayName   string   `json:"displayName"`
	QuestionIndex *int     `json:"questionIndex,omitempty"`
}

var errBadRequest = errors.New("malformed command")

// client is one websocket connection and the session room it is subscribed to.
type client struct {
	id      string
	conn    *websocket.Conn
	service *app.InterviewService

	send    chan domain.Event
	closing chan struct{}
	fwd     sync.WaitGroup

	mu        sync.Mutex
	sub       *app.Subscription
	sessionID string
}

// ServeWS upgrades HTTP requests to websockets and wires them into the interview use cases.
// sessionId, userId and name query parameters, when all present, join immediately.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	c := &client{
		id:      uuid.NewString(),
		conn:    conn,
		service: h.service,
		send:    make(chan domain.Event, h.cfg.SendBuffer),
		closing: make(chan struct{}),
	}
	ctx := r.Context()
	log.Debug().Str("connection_id", c.id).Str("remote", r.RemoteAddr).Msg("websocket connected")

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writePump(c)
	}()

	q := r.URL.Query()
	if q.Get("sessionId") != "" && q.Get("userId") != "" {
		err := c.handleJoin(ctx, joinPayload{
			SessionID:   q.Get("sessionId"),
			UserID:      q.Get("userId"),
			DisplayName: q.Get("name"),
		})
		if err != nil {
			c.deny("join", err)
		}
	}

	h.readPump(ctx, c)

	c.service.Leave(context.Background(), c.id)
	c.detach()
	close(c.closing)
	c.fwd.Wait()
	close(c.send)
	<-writerDone
	log.Debug().Str("connection_id", c.id).Msg("websocket disconnected")
}

func (h *WSHandler) readPump(ctx context.Context, c *client) {
	_ = c.conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	})

	for {
		var inbound inboundMessage
		if err := c.conn.ReadJSON(&inbound); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("connection_id", c.id).Msg("ws read error")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
		c.dispatch(ctx, inbound)
	}
}

// writePump is the only goroutine writing to the connection.
func (h *WSHandler) writePump(c *client) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-c.send:
			if !ok {
				_ = c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := c.conn.WriteJSON(ev); err != nil {
				log.Debug().Err(err).Str("connection_id", c.id).Msg("ws write error")
				// Unblock the reader; the handler tears the rest down.
				_ = c.conn.Close()
				for range c.send {
				}
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.conn.Close()
				for range c.send {
				}
				return
			}
		}
	}
}

func (c *client) dispatch(ctx context.Context, in inboundMessage) {
	var err error
	switch in.Type {
	case "join":
		var p joinPayload
		if err = decode(in.Payload, &p); err == nil {
			err = c.handleJoin(ctx, p)
		}
	case "start":
		var p startPayload
		if err = decode(in.Payload, &p); err == nil {
			err = c.service.Start(ctx, app.StartRequest{
				SessionID:    c.session(p.SessionID),
				ConnectionID: c.id,
				Questions:    p.Questions,
			})
		}
	case "submitAnswer":
		var p submitPayload
		if err = decode(in.Payload, &p); err == nil {
			if p.QuestionIndex == nil {
				err = errBadRequest
				break
			}
			_, err = c.service.SubmitAnswer(ctx, app.SubmitRequest{
				SessionID:     c.session(p.SessionID),
				ConnectionID:  c.id,
				UserID:        p.UserID,
				QuestionIndex: *p.QuestionIndex,
				Answer:        p.Answer,
				Score:         p.Score,
			})
		}
	case "nextQuestion":
		var p sessionPayload
		if err = decode(in.Payload, &p); err == nil {
			err = c.service.NextQuestion(ctx, c.session(p.SessionID), c.id)
		}
	case "endSession":
		var p sessionPayload
		if err = decode(in.Payload, &p); err == nil {
			err = c.service.EndSession(ctx, c.session(p.SessionID), c.id)
		}
	case "updateScore":
		var p updateScorePayload
		if err = decode(in.Payload, &p); err == nil {
			if p.Score == nil {
				err = errBadRequest
				break
			}
			_, err = c.service.UpdateScore(ctx, app.UpdateScoreRequest{
				SessionID:     c.session(p.SessionID),
				ConnectionID:  c.id,
				UserID:        p.UserID,
				DisplayName:   p.DisplayName,
				Score:         *p.Score,
				QuestionIndex: p.QuestionIndex,
			})
		}
	default:
		err = errBadRequest
	}
	if err != nil {
		c.deny(in.Type, err)
	}
}

func (c *client) handleJoin(ctx context.Context, p joinPayload) error {
	if p.SessionID == "" || p.UserID == "" {
		return domain.ErrInvalidRequest
	}
	c.attach(p.SessionID)
	_, err := c.service.Join(ctx, app.JoinRequest{
		SessionID:    p.SessionID,
		UserID:       p.UserID,
		DisplayName:  p.DisplayName,
		ConnectionID: c.id,
		IsHost:       p.IsHost,
	})
	return err
}

// attach subscribes to a session room before joining so the private snapshot
// is the first event the connection sees. Switching rooms drops the old one.
func (c *client) attach(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sub != nil && c.sessionID == sessionID {
		return
	}
	prev := c.sub
	c.sub = c.service.Subscribe(sessionID, c.id)
	c.sessionID = sessionID
	if prev != nil {
		c.service.Unsubscribe(prev)
	}

	sub := c.sub
	c.fwd.Add(1)
	go func() {
		defer c.fwd.Done()
		c.forward(sub)
	}()
}

func (c *client) detach() {
	c.mu.Lock()
	sub := c.sub
	c.sub = nil
	c.mu.Unlock()
	if sub != nil {
		c.service.Unsubscribe(sub)
	}
}

// forward copies room events to the writer. A subscription closed while it
// is still the current one means the gateway dropped the connection.
func (c *client) forward(sub *app.Subscription) {
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				c.mu.Lock()
				current := c.sub == sub
				c.mu.Unlock()
				if current {
					log.Info().Str("connection_id", c.id).Str("session_id", sub.SessionID).Msg("closing connection dropped by gateway")
					_ = c.conn.Close()
				}
				return
			}
			select {
			case c.send <- ev:
			case <-c.closing:
				return
			}
		case <-c.closing:
			return
		}
	}
}

func (c *client) session(requested string) string {
	if requested != "" {
		return requested
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// deny answers a rejected command on this connection only.
func (c *client) deny(command string, err error) {
	ev := domain.Event{
		Type:      domain.EventError,
		SessionID: c.session(""),
		At:        time.Now(),
		Payload: domain.ErrorPayload{
			Code:    ErrorCode(err),
			Message: err.Error(),
			Command: command,
		},
	}
	select {
	case c.send <- ev:
	case <-c.closing:
	}
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errBadRequest
	}
	return nil
}

// ErrorCode maps a command error to its stable wire code.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, domain.ErrStaleSubmission):
		return "stale_submission"
	case errors.Is(err, domain.ErrDuplicateSubmission):
		return "duplicate_submission"
	case errors.Is(err, domain.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, domain.ErrSessionNotFound):
		return "session_not_found"
	case errors.Is(err, domain.ErrParticipantNotFound):
		return "participant_not_found"
	case errors.Is(err, domain.ErrNoQuestions), errors.Is(err, domain.ErrInvalidTimeLimit), errors.Is(err, domain.ErrQuestionsNotFound):
		return "invalid_questions"
	case errors.Is(err, domain.ErrInvalidScore):
		return "invalid_score"
	case errors.Is(err, domain.ErrSessionNotEnded):
		return "session_not_ended"
	default:
		return "bad_request"
	}
}
