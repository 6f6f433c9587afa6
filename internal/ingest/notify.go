package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the Redis channel ingest events are published on.
const DefaultChannel = "airwatch:ingested"

// Event announces that new readings were stored.
type Event struct {
	FinishedAt time.Time `json:"finishedAt"`
	StationIDs []int64   `json:"stationIds"`
	Inserted   int       `json:"inserted"`
}

// Notifier is told about every run that stored readings.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// RedisNotifier publishes events as JSON on a Redis channel.
type RedisNotifier struct {
	client  *redis.Client
	channel string
}

// NewRedisNotifier creates a notifier publishing on channel (default: DefaultChannel).
func NewRedisNotifier(client *redis.Client, channel string) *RedisNotifier {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisNotifier{client: client, channel: channel}
}

// NewRedisNotifierFromURL parses a redis:// URL and checks the connection.
func NewRedisNotifierFromURL(ctx context.Context, rawURL, channel string) (*RedisNotifier, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisNotifier(client, channel), nil
}

// Notify publishes event.
func (n *RedisNotifier) Notify(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := n.client.Publish(ctx, n.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", n.channel, err)
	}
	return nil
}

// Close closes the Redis client.
func (n *RedisNotifier) Close() error {
	return n.client.Close()
}

// Subscribe listens on channel (default: the channel n publishes on) using the
// notifier's connection. The subscription is confirmed before returning.
func Subscribe(ctx context.Context, n *RedisNotifier, channel string) (*redis.PubSub, error) {
	if channel == "" {
		channel = n.channel
	}
	sub := n.client.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", channel, err)
	}
	return sub, nil
}
