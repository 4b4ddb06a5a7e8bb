package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisSink publishes alert lines on a Redis pub/sub channel so a dashboard
// or pager bridge outside the process can pick them up.
type RedisSink struct {
	client  *redis.Client
	channel string
}

// NewRedisSink connects lazily to url (redis://[:password@]host:port/db).
func NewRedisSink(url, channel string) (*RedisSink, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if channel == "" {
		channel = "gateway:alerts"
	}
	opts.DialTimeout = 2 * time.Second
	opts.MaxRetries = 1
	return &RedisSink{client: redis.NewClient(opts), channel: channel}, nil
}

// Send implements AlertSink.
func (s *RedisSink) Send(ctx context.Context, message string) error {
	return s.client.Publish(ctx, s.channel, message).Err()
}

// Ping checks the connection.
func (s *RedisSink) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the client.
func (s *RedisSink) Close() error { return s.client.Close() }

// MultiSink delivers to every sink and joins the failures.
type MultiSink []AlertSink

// Send implements AlertSink.
func (m MultiSink) Send(ctx context.Context, message string) error {
	var errs []error
	for _, s := range m {
		if err := s.Send(ctx, message); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
