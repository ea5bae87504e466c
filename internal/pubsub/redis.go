// Package pubsub publishes application events over Redis channels.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisPublisher implements domain.Publisher on Redis pub/sub. Channel
// names come straight from the domain package; payloads are JSON.
type RedisPublisher struct {
	client *redis.Client
}

// NewRedisPublisher creates a publisher for the given Redis address.
func NewRedisPublisher(addr, password string, db int) *RedisPublisher {
	return &RedisPublisher{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
	}
}

// Ping verifies connectivity.
func (p *RedisPublisher) Ping(ctx context.Context) error {
	if err := p.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Publish marshals payload as JSON and publishes it on channel. Publishing
// to a channel with no subscribers succeeds.
func (p *RedisPublisher) Publish(ctx context.Context, channel string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload for %s: %w", channel, err)
	}
	if err := p.client.Publish(ctx, channel, b).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", channel, err)
	}
	return nil
}

// Close releases the client connection.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
