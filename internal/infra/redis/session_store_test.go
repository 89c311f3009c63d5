package redis

import (
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"

	"interview-battle-service/internal/app"
	"interview-battle-service/internal/infra/memory"
)

func TestSessionStoreSetsAndClearsKeys(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewSessionStore(client, memory.NewSessionStore(clockwork.NewFakeClock()))

	_ = store.GetOrCreate("s1", func() *app.Session { return app.NewSession("s1", app.SessionOptions{}) })
	if !mr.Exists("interview:session:s1") {
		t.Fatalf("expected redis key to be set")
	}
	if _, ok := store.Get("s1"); !ok || store.Len() != 1 {
		t.Fatalf("expected session in local store")
	}

	store.ScheduleRemoval("s1", time.Hour)
	if ttl := mr.TTL("interview:session:s1"); ttl != time.Hour {
		t.Fatalf("expected marker ttl to follow retention, got %v", ttl)
	}

	store.Remove("s1")
	if mr.Exists("interview:session:s1") {
		t.Fatalf("expected redis key to be removed")
	}
	if _, ok := store.Get("s1"); ok {
		t.Fatalf("expected session removed locally")
	}
}

func TestSessionStoreMarkerOutlivesLongSessions(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	store := NewSessionStore(newClient(mr), memory.NewSessionStore(clockwork.NewFakeClock()))
	_ = store.GetOrCreate("s1", func() *app.Session { return app.NewSession("s1", app.SessionOptions{}) })

	mr.FastForward(6 * time.Hour)
	if !mr.Exists("interview:session:s1") {
		t.Fatalf("marker of a session still in use must not expire")
	}

	store.ScheduleRemoval("s1", time.Hour)
	store.CancelRemoval("s1")
	if ttl := mr.TTL("interview:session:s1"); ttl != 0 {
		t.Fatalf("cancelled removal must clear the marker ttl, got %v", ttl)
	}
	mr.FastForward(2 * time.Hour)
	if !mr.Exists("interview:session:s1") {
		t.Fatalf("marker expired after removal was cancelled")
	}
}

func newClient(mr *miniredis.Miniredis) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
}
