// Copyright 2025 MCP Gateway Contributors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// RateLimiter enforces a per-user request budget over a one-minute
// sliding window.
type RateLimiter interface {
	Allow(ctx context.Context, userID string) error
}

// RedisRateLimiter implements the sliding window with a Redis sorted
// set per user. A Redis failure fails open: availability is worth more
// than a strict limit.
type RedisRateLimiter struct {
	client         *redis.Client
	limitPerMinute int
	logger         *log.Logger
	now            func() time.Time
}

// NewRedisRateLimiter connects to Redis and verifies the connection.
func NewRedisRateLimiter(redisURL string, limitPerMinute int) (*RedisRateLimiter, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisRateLimiter{
		client:         client,
		limitPerMinute: limitPerMinute,
		logger:         log.New(os.Stdout, "[RATELIMIT] ", log.LstdFlags),
		now:            time.Now,
	}, nil
}

func (l *RedisRateLimiter) Allow(ctx context.Context, userID string) error {
	now := l.now()
	key := fmt.Sprintf("ratelimit:%s", userID)

	pipe := l.client.Pipeline()
	minScore := now.Add(-time.Minute).Unix()
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", minScore))
	pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, &redis.Z{
		Score:  float64(now.Unix()),
		Member: fmt.Sprintf("%d", now.UnixNano()),
	})
	pipe.Expire(ctx, key, 2*time.Minute)

	cmds, err := pipe.Exec(ctx)
	if err != nil {
		l.logger.Printf("Warning: rate limit check failed for %s: %v (failing open)", userID, err)
		return nil
	}

	count := cmds[1].(*redis.IntCmd).Val()
	if count >= int64(l.limitPerMinute) {
		rateLimitRejections.Inc()
		return fmt.Errorf("%w: %d requests/minute (limit %d)", ErrRateLimited, count+1, l.limitPerMinute)
	}
	return nil
}

// Close releases the Redis connection.
func (l *RedisRateLimiter) Close() error {
	return l.client.Close()
}

// MemoryRateLimiter is the single-process fallback used when Redis is
// not configured.
type MemoryRateLimiter struct {
	limitPerMinute int

	mu      sync.Mutex
	windows map[string]*rateWindow
	now     func() time.Time
}

type rateWindow struct {
	count int
	reset time.Time
}

// NewMemoryRateLimiter creates an in-process limiter with fixed
// one-minute windows.
func NewMemoryRateLimiter(limitPerMinute int) *MemoryRateLimiter {
	return &MemoryRateLimiter{
		limitPerMinute: limitPerMinute,
		windows:        make(map[string]*rateWindow),
		now:            time.Now,
	}
}

func (l *MemoryRateLimiter) Allow(ctx context.Context, userID string) error {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[userID]
	if !ok || now.After(w.reset) {
		l.windows[userID] = &rateWindow{count: 1, reset: now.Add(time.Minute)}
		return nil
	}

	w.count++
	if w.count > l.limitPerMinute {
		rateLimitRejections.Inc()
		return fmt.Errorf("%w: %d requests/minute (limit %d)", ErrRateLimited, w.count, l.limitPerMinute)
	}
	return nil
}
