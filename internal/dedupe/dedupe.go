package dedupe

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Guard remembers keys for a while so repeated deliveries can be dropped.
type Guard interface {
	// FirstSeen reports whether key has not been seen within the TTL and
	// marks it seen.
	FirstSeen(ctx context.Context, key string) bool
	// Forget releases key so a later delivery is admitted again.
	Forget(ctx context.Context, key string)
}

type redisGuard struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisGuard(client *redis.Client, prefix string, ttl time.Duration) Guard {
	return &redisGuard{client: client, prefix: prefix, ttl: ttl}
}

// FirstSeen fails open: a Redis error admits the key.
func (g *redisGuard) FirstSeen(ctx context.Context, key string) bool {
	if key == "" {
		return true
	}
	ok, err := g.client.SetNX(ctx, g.prefix+key, time.Now().Unix(), g.ttl).Result()
	if err != nil {
		slog.WarnContext(ctx, "dedupe check failed, admitting delivery",
			"error", fmt.Errorf("setnx %s: %w", g.prefix+key, err))
		return true
	}
	return ok
}

func (g *redisGuard) Forget(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if err := g.client.Del(ctx, g.prefix+key).Err(); err != nil {
		slog.WarnContext(ctx, "failed to release dedupe key", "error", err, "key", g.prefix+key)
	}
}

type noopGuard struct{}

// Noop admits every key.
func Noop() Guard { return noopGuard{} }

func (noopGuard) FirstSeen(context.Context, string) bool { return true }

func (noopGuard) Forget(context.Context, string) {}

// SlackEventKey extracts the event_id Slack attaches to event_callback
// envelopes. Bodies without one yield "".
func SlackEventKey(body map[string]any) string {
	id, _ := body["event_id"].(string)
	return id
}
