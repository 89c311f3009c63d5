package natsbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"interview-battle-service/internal/domain"
)

type Config struct {
	URL           string
	Subject       string
	MaxReconnects int
	ReconnectWait time.Duration
}

func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		Subject:       "interview.sessions.ended",
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
	}
}

// msgPublisher is the part of *nats.Conn the exporter needs.
type msgPublisher interface {
	PublishMsg(m *nats.Msg) error
}

// ResultsPublisher announces ended sessions on a NATS subject so downstream
// consumers (analytics, candidate reports) can pick the results up.
type ResultsPublisher struct {
	nc      *nats.Conn
	pub     msgPublisher
	subject string
	now     func() time.Time
}

func Connect(cfg Config) (*ResultsPublisher, error) {
	opts := []nats.Option{
		nats.Name("interview-battle-service"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}
	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	p := newResultsPublisher(nc, cfg.Subject)
	p.nc = nc
	return p, nil
}

func newResultsPublisher(pub msgPublisher, subject string) *ResultsPublisher {
	if subject == "" {
		subject = DefaultConfig().Subject
	}
	return &ResultsPublisher{pub: pub, subject: subject, now: time.Now}
}

// Export publishes a session-ended envelope carrying the final results.
func (p *ResultsPublisher) Export(_ context.Context, results domain.Results) error {
	payload, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}
	eventID := uuid.NewString()
	env := map[string]interface{}{
		"eventId":   eventID,
		"eventType": string(domain.EventSessionEnded),
		"sessionId": results.SessionID,
		"timestamp": p.now().UTC(),
		"payload":   json.RawMessage(payload),
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	err = p.pub.PublishMsg(&nats.Msg{
		Subject: p.subject,
		Data:    data,
		Header: nats.Header{
			"Event-Type": []string{string(domain.EventSessionEnded)},
			"Session-ID": []string{results.SessionID},
			"Event-ID":   []string{eventID},
		},
	})
	if err != nil {
		return fmt.Errorf("publish to NATS: %w", err)
	}

	log.Info().
		Str("subject", p.subject).
		Str("event_id", eventID).
		Str("session_id", results.SessionID).
		Msg("published session results")
	return nil
}

func (p *ResultsPublisher) Close() error {
	if p.nc != nil {
		return p.nc.Drain()
	}
	return nil
}
