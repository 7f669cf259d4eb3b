package tokenevent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"eostre.org/internal/auth"
)

var _ auth.TokenEventStore = (*Redis)(nil)

const defaultPrefix = "eostre:"

// Redis stores events as JSON with a TTL matching their expiry, plus a
// key index so pending validations can be found by address.
type Redis struct {
	c      redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedis wraps an existing client. An empty prefix defaults to "eostre:".
func NewRedis(c redis.UniversalClient, prefix string) *Redis {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Redis{c: c, prefix: prefix, now: time.Now}
}

// DialRedis connects to addr and verifies the connection. Keys are written
// under prefix.
func DialRedis(ctx context.Context, addr, password string, db int, prefix string) (*Redis, error) {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedis(c, prefix), nil
}

func (r *Redis) Close() error { return r.c.Close() }

// createScript sets the key index with NX and writes the event only when the
// index was free, so two instances cannot both claim one key.
var createScript = redis.NewScript(`
if redis.call('SET', KEYS[1], ARGV[1], 'NX', 'PX', ARGV[3]) then
	redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
	return 1
end
return 0
`)

func (r *Redis) CreateEvent(ctx context.Context, ev auth.TokenEvent) error {
	ttl := ev.ExpiresAt.Sub(r.now())
	if ttl <= 0 {
		return nil
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode token event: %w", err)
	}
	ok, err := createScript.Run(ctx, r.c,
		[]string{r.indexKey(ev.Key), r.eventKey(ev.ID)},
		ev.ID, payload, ttl.Milliseconds()).Int()
	if err != nil {
		return err
	}
	if ok == 0 {
		return auth.ErrConflict
	}
	return nil
}

func (r *Redis) SaveEvent(ctx context.Context, ev auth.TokenEvent) error {
	ttl := ev.ExpiresAt.Sub(r.now())
	if ttl <= 0 {
		return r.DeleteEvent(ctx, ev)
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode token event: %w", err)
	}
	_, err = r.c.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, r.eventKey(ev.ID), payload, ttl)
		p.Set(ctx, r.indexKey(ev.Key), ev.ID, ttl)
		return nil
	})
	return err
}

func (r *Redis) GetEvent(ctx context.Context, id string) (auth.TokenEvent, error) {
	raw, err := r.c.Get(ctx, r.eventKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return auth.TokenEvent{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.TokenEvent{}, err
	}
	var ev auth.TokenEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return auth.TokenEvent{}, fmt.Errorf("decode token event: %w", err)
	}
	if ev.Expired(r.now()) {
		return auth.TokenEvent{}, auth.ErrNotFound
	}
	return ev, nil
}

func (r *Redis) FindEventByKey(ctx context.Context, key string) (auth.TokenEvent, error) {
	id, err := r.c.Get(ctx, r.indexKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return auth.TokenEvent{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.TokenEvent{}, err
	}
	return r.GetEvent(ctx, id)
}

func (r *Redis) DeleteEvent(ctx context.Context, ev auth.TokenEvent) error {
	return r.c.Del(ctx, r.eventKey(ev.ID), r.indexKey(ev.Key)).Err()
}

func (r *Redis) eventKey(id string) string  { return r.prefix + "token_event:" + id }
func (r *Redis) indexKey(key string) string { return r.prefix + "token_event_key:" + key }
