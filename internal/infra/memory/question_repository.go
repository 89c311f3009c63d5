package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"interview-battle-service/internal/domain"
)

// QuestionLoader fetches stored question sets from a backing store (e.g., Postgres).
type QuestionLoader interface {
	LoadQuestions(ctx context.Context, sessionID string) ([]domain.Question, error)
}

// QuestionRepository caches question sets with TTL to avoid repeated DB hits.
type QuestionRepository struct {
	loader QuestionLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand

	mu    sync.RWMutex
	cache map[string]cachedQuestions
}

type cachedQuestions struct {
	questions []domain.Question
	expiresAt time.Time
}

func NewQuestionRepository(loader QuestionLoader, ttl time.Duration) *QuestionRepository {
	return &QuestionRepository{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedQuestions),
	}
}

func (r *QuestionRepository) GetQuestions(ctx context.Context, sessionID string) ([]domain.Question, error) {
	if qs, ok := r.cached(sessionID); ok {
		return qs, nil
	}

	result, err, _ := r.sf.Do(sessionID, func() (interface{}, error) {
		if qs, ok := r.cached(sessionID); ok {
			return qs, nil
		}

		qs, err := r.loader.LoadQuestions(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if len(qs) == 0 {
			return nil, domain.ErrQuestionsNotFound
		}

		r.mu.Lock()
		r.cache[sessionID] = cachedQuestions{
			questions: qs,
			expiresAt: r.clock().Add(r.ttlWithJitter()),
		}
		r.mu.Unlock()
		return qs, nil
	})
	if err != nil {
		return nil, err
	}
	return copyQuestions(result.([]domain.Question)), nil
}

// Invalidate drops a cached set so the next read reloads it.
func (r *QuestionRepository) Invalidate(sessionID string) {
	r.mu.Lock()
	delete(r.cache, sessionID)
	r.mu.Unlock()
}

func (r *QuestionRepository) cached(sessionID string) ([]domain.Question, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.cache[sessionID]
	if !ok || !entry.expiresAt.After(r.clock()) {
		return nil, false
	}
	return copyQuestions(entry.questions), true
}

func (r *QuestionRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}

// StaticQuestionLoader is a loader backed by an in-memory map (useful for tests/demos).
type StaticQuestionLoader struct {
	sets map[string][]domain.Question
}

func NewStaticQuestionLoader(sets map[string][]domain.Question) *StaticQuestionLoader {
	return &StaticQuestionLoader{sets: sets}
}

func (l *StaticQuestionLoader) LoadQuestions(_ context.Context, sessionID string) ([]domain.Question, error) {
	if qs, ok := l.sets[sessionID]; ok {
		return copyQuestions(qs), nil
	}
	return nil, domain.ErrQuestionsNotFound
}

func copyQuestions(qs []domain.Question) []domain.Question {
	return append([]domain.Question(nil), qs...)
}
