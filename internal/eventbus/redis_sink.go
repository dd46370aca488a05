// Copyright 2025 The Teskerti Authors
// SPDX-License-Identifier: Apache-2.0

package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisSink publishes events as JSON on Redis pub/sub channels named
// "<prefix>:<kind>". The operator UI fan-out layer subscribes there and maps
// events onto its own surface names.
type RedisSink struct {
	client *redis.Client
	prefix string
}

// NewRedisSink connects to Redis and verifies the connection.
func NewRedisSink(ctx context.Context, addr, password, prefix string) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DialTimeout:  5 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}

	return &RedisSink{client: client, prefix: prefix}, nil
}

func (s *RedisSink) Name() string { return "redis" }

// Deliver publishes the event. Publishing to a channel with no subscribers
// succeeds; nobody listening is not an error.
func (s *RedisSink) Deliver(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", ev.Kind, err)
	}
	channel := fmt.Sprintf("%s:%s", s.prefix, ev.Kind)
	return s.client.Publish(ctx, channel, data).Err()
}

// Close releases the Redis connection.
func (s *RedisSink) Close() error {
	return s.client.Close()
}
