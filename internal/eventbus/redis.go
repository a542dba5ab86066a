/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConfig contains Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	PoolSize     int
	DialTimeout  time.Duration
	WriteTimeout time.Duration

	// Circuit breaker
	MaxFailures   int
	CheckInterval time.Duration
}

// DefaultRedisConfig returns default Redis configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:          "localhost:6379",
		PoolSize:      4,
		DialTimeout:   5 * time.Second,
		WriteTimeout:  3 * time.Second,
		MaxFailures:   5,
		CheckInterval: 30 * time.Second,
	}
}

// RedisPublisher publishes events with PUBLISH. After MaxFailures
// consecutive errors it stops trying until CheckInterval has passed.
type RedisPublisher struct {
	client *redis.Client
	cfg    RedisConfig
	logger zerolog.Logger

	mu        sync.Mutex
	failCount int
	openUntil time.Time
	now       func() time.Time
}

// NewRedisPublisher connects to Redis. The connection is verified with PING.
func NewRedisPublisher(ctx context.Context, cfg RedisConfig, logger zerolog.Logger) (*RedisPublisher, error) {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 30 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}

	logger.Info().Str("addr", cfg.Addr).Msg("redis event mirror connected")
	return &RedisPublisher{
		client: client,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}, nil
}

// Publish sends data on channel subject.
func (rp *RedisPublisher) Publish(ctx context.Context, subject string, data []byte) error {
	if !rp.allow() {
		return errCircuitOpen
	}
	if err := rp.client.Publish(ctx, subject, data).Err(); err != nil {
		rp.recordFailure()
		return fmt.Errorf("redis publish %s: %w", subject, err)
	}
	rp.mu.Lock()
	rp.failCount = 0
	rp.mu.Unlock()
	return nil
}

func (rp *RedisPublisher) allow() bool {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	return !rp.now().Before(rp.openUntil)
}

func (rp *RedisPublisher) recordFailure() {
	rp.mu.Lock()
	defer rp.mu.Unlock()

	rp.failCount++
	if rp.failCount >= rp.cfg.MaxFailures {
		rp.openUntil = rp.now().Add(rp.cfg.CheckInterval)
		rp.failCount = 0
		rp.logger.Warn().
			Dur("retry_in", rp.cfg.CheckInterval).
			Msg("redis publish failing, pausing event mirror")
	}
}

// Close closes the Redis client.
func (rp *RedisPublisher) Close() error {
	return rp.client.Close()
}
