package tokenevent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"eostre.org/internal/auth"
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func exerciseStore(t *testing.T, store auth.TokenEventStore, c *clock, expire func(time.Duration)) {
	t.Helper()
	ctx := context.Background()
	ev := auth.TokenEvent{
		ID:         "tok-1",
		Type:       "email",
		Key:        "alice@example.com",
		CreatedBy:  "u1",
		CreatedFor: "u1",
		ExpiresAt:  c.now.Add(2 * time.Hour),
	}
	if err := store.SaveEvent(ctx, ev); err != nil {
		t.Fatalf("SaveEvent: %v", err)
	}
	got, err := store.GetEvent(ctx, "tok-1")
	if err != nil || got.Key != ev.Key || got.CreatedFor != "u1" {
		t.Fatalf("GetEvent: %+v %v", got, err)
	}
	byKey, err := store.FindEventByKey(ctx, "alice@example.com")
	if err != nil || byKey.ID != "tok-1" {
		t.Fatalf("FindEventByKey: %+v %v", byKey, err)
	}
	if _, err := store.GetEvent(ctx, "missing"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	rival := ev
	rival.ID, rival.CreatedFor = "tok-2", "u2"
	if err := store.CreateEvent(ctx, rival); !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected ErrConflict claiming a held key, got %v", err)
	}
	if _, err := store.GetEvent(ctx, rival.ID); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("losing claim must not be stored, got %v", err)
	}

	if err := store.DeleteEvent(ctx, ev); err != nil {
		t.Fatalf("DeleteEvent: %v", err)
	}
	if err := store.CreateEvent(ctx, rival); err != nil {
		t.Fatalf("CreateEvent after delete: %v", err)
	}
	byKey, err = store.FindEventByKey(ctx, ev.Key)
	if err != nil || byKey.ID != rival.ID {
		t.Fatalf("FindEventByKey after claim: %+v %v", byKey, err)
	}
	if err := store.DeleteEvent(ctx, rival); err != nil {
		t.Fatalf("DeleteEvent: %v", err)
	}
	if _, err := store.FindEventByKey(ctx, ev.Key); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected deleted event to be gone, got %v", err)
	}

	if err := store.SaveEvent(ctx, ev); err != nil {
		t.Fatalf("SaveEvent: %v", err)
	}
	c.now = c.now.Add(3 * time.Hour)
	expire(3 * time.Hour)
	if _, err := store.GetEvent(ctx, ev.ID); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected expired event to be gone, got %v", err)
	}
}

func TestMemoryStore(t *testing.T) {
	c := &clock{now: time.Now()}
	m := NewMemory()
	m.now = c.Now
	exerciseStore(t, m, c, func(time.Duration) {})
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	c := &clock{now: time.Now()}
	r := NewRedis(client, "test:")
	r.now = c.Now
	exerciseStore(t, r, c, mr.FastForward)

	if keys := mr.Keys(); len(keys) != 0 {
		t.Fatalf("expected expired keys to be evicted, got %v", keys)
	}
}

func TestRedisStoreSkipsPastExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	r := NewRedis(client, "")
	ev := auth.TokenEvent{ID: "old", Key: "k", ExpiresAt: time.Now().Add(-time.Minute)}
	if err := r.SaveEvent(context.Background(), ev); err != nil {
		t.Fatalf("SaveEvent: %v", err)
	}
	if mr.Exists("eostre:token_event:old") {
		t.Fatalf("expired event must not be stored")
	}
}

func TestDialRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	r, err := DialRedis(ctx, mr.Addr(), "", 0, "dial:")
	if err != nil {
		t.Fatalf("DialRedis: %v", err)
	}
	defer r.Close()

	ev := auth.TokenEvent{ID: "e1", Key: "a@example.com", ExpiresAt: time.Now().Add(time.Hour)}
	if err := r.SaveEvent(ctx, ev); err != nil {
		t.Fatalf("SaveEvent: %v", err)
	}
	if !mr.Exists("dial:token_event:e1") {
		t.Fatalf("expected prefixed key, got %v", mr.Keys())
	}

	addr := mr.Addr()
	mr.Close()
	if _, err := DialRedis(ctx, addr, "", 0, ""); err == nil {
		t.Fatal("expected dial error against a stopped server")
	}
}
