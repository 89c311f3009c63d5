package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"interview-battle-service/internal/domain"
)

// ResultsStore keeps final results in Redis for the retention window so they
// stay readable after the in-memory session is evicted.
// Results are stored as: SET interview:results:{sessionID} <json>
type ResultsStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewResultsStore(client *redis.Client, ttl time.Duration) *ResultsStore {
	return &ResultsStore{client: client, ttl: ttl}
}

func (s *ResultsStore) Export(ctx context.Context, results domain.Results) error {
	raw, err := json.Marshal(results)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(results.SessionID), raw, s.ttl).Err()
}

func (s *ResultsStore) LoadResults(ctx context.Context, sessionID string) (domain.Results, error) {
	raw, err := s.client.Get(ctx, s.key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Results{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.Results{}, err
	}
	var results domain.Results
	if err := json.Unmarshal(raw, &results); err != nil {
		return domain.Results{}, err
	}
	return results, nil
}

func (s *ResultsStore) key(sessionID string) string {
	return "interview:results:" + sessionID
}
