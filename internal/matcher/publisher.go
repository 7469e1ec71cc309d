package matcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	DefaultStatusChannel = "irisballot:sessions"
	DefaultStatusTTL     = 10 * time.Minute
)

// RedisPublisher mirrors session status into Redis so a shell process can
// poll or subscribe without holding a handle on the manager.
type RedisPublisher struct {
	client  *redis.Client
	ttl     time.Duration
	channel string
}

func NewRedisPublisher(client *redis.Client, ttl time.Duration) *RedisPublisher {
	if ttl <= 0 {
		ttl = DefaultStatusTTL
	}
	return &RedisPublisher{client: client, ttl: ttl, channel: DefaultStatusChannel}
}

func statusKey(sessionID string) string {
	return "session:status:" + sessionID
}

// Publish stores the latest snapshot and broadcasts it.
func (p *RedisPublisher) Publish(ctx context.Context, st Status) error {
	payload, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal session status: %w", err)
	}
	if err := p.client.Set(ctx, statusKey(st.SessionID), string(payload), p.ttl).Err(); err != nil {
		return fmt.Errorf("store session status: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, string(payload)).Err(); err != nil {
		return fmt.Errorf("broadcast session status: %w", err)
	}
	return nil
}

// Latest reads the last stored snapshot of a session.
func (p *RedisPublisher) Latest(ctx context.Context, sessionID string) (Status, error) {
	raw, err := p.client.Get(ctx, statusKey(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return Status{}, ErrSessionNotFound
	}
	if err != nil {
		return Status{}, fmt.Errorf("load session status: %w", err)
	}
	var st Status
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return Status{}, fmt.Errorf("decode session status: %w", err)
	}
	return st, nil
}
