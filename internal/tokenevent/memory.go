// Package tokenevent stores pending single-use tokens such as email validations.
package tokenevent

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"eostre.org/internal/auth"
)

var _ auth.TokenEventStore = (*Memory)(nil)

// Memory keeps events in a process-local expiring cache. Use Redis when more
// than one admin server instance runs.
type Memory struct {
	c   *gocache.Cache
	now func() time.Time
}

func NewMemory() *Memory {
	return &Memory{c: gocache.New(gocache.NoExpiration, time.Minute), now: time.Now}
}

// CreateEvent claims ev.Key with go-cache's Add, which fails while an
// unexpired index entry exists.
func (m *Memory) CreateEvent(_ context.Context, ev auth.TokenEvent) error {
	ttl := ev.ExpiresAt.Sub(m.now())
	if ttl <= 0 {
		return nil
	}
	if err := m.c.Add(indexKey(ev.Key), ev.ID, ttl); err != nil {
		return auth.ErrConflict
	}
	m.c.Set(eventKey(ev.ID), ev, ttl)
	return nil
}

func (m *Memory) SaveEvent(_ context.Context, ev auth.TokenEvent) error {
	ttl := ev.ExpiresAt.Sub(m.now())
	if ttl <= 0 {
		m.remove(ev)
		return nil
	}
	m.c.Set(eventKey(ev.ID), ev, ttl)
	m.c.Set(indexKey(ev.Key), ev.ID, ttl)
	return nil
}

func (m *Memory) GetEvent(_ context.Context, id string) (auth.TokenEvent, error) {
	v, ok := m.c.Get(eventKey(id))
	if !ok {
		return auth.TokenEvent{}, auth.ErrNotFound
	}
	ev, ok := v.(auth.TokenEvent)
	if !ok || ev.Expired(m.now()) {
		return auth.TokenEvent{}, auth.ErrNotFound
	}
	return ev, nil
}

func (m *Memory) FindEventByKey(ctx context.Context, key string) (auth.TokenEvent, error) {
	v, ok := m.c.Get(indexKey(key))
	if !ok {
		return auth.TokenEvent{}, auth.ErrNotFound
	}
	id, _ := v.(string)
	return m.GetEvent(ctx, id)
}

func (m *Memory) DeleteEvent(_ context.Context, ev auth.TokenEvent) error {
	m.remove(ev)
	return nil
}

func (m *Memory) remove(ev auth.TokenEvent) {
	m.c.Delete(eventKey(ev.ID))
	if v, ok := m.c.Get(indexKey(ev.Key)); ok && v == ev.ID {
		m.c.Delete(indexKey(ev.Key))
	}
}

func eventKey(id string) string  { return "token_event:" + id }
func indexKey(key string) string { return "token_event_key:" + key }
