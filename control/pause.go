// Package control holds the operator switches shared by crawl processes:
// the pause flag checked before every fetch and the run lease that keeps
// scheduled jobs from overlapping across instances.
package control

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"estate-crawler/utils"
)

// EnvPause reads the pause flag from an environment variable. The crawl is
// paused while the variable equals "1".
type EnvPause struct {
	Key string
}

func (p EnvPause) Paused(context.Context) (bool, error) {
	return strings.TrimSpace(os.Getenv(p.Key)) == "1", nil
}

// RedisPause reads the pause flag from a Redis key so an operator can stop
// every running crawler at once. A missing key means not paused.
type RedisPause struct {
	client redis.Cmdable
	key    string
}

func NewRedisPause(client redis.Cmdable, key string) *RedisPause {
	return &RedisPause{client: client, key: key}
}

func (p *RedisPause) Paused(ctx context.Context) (bool, error) {
	v, err := p.client.Get(ctx, p.key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("pause: get %s: %w", p.key, err)
	}
	return strings.TrimSpace(v) == "1", nil
}

// Set raises or clears the flag.
func (p *RedisPause) Set(ctx context.Context, paused bool) error {
	if !paused {
		return p.client.Del(ctx, p.key).Err()
	}
	return p.client.Set(ctx, p.key, "1", 0).Err()
}

// Switch is anything that can report the pause flag.
type Switch interface {
	Paused(ctx context.Context) (bool, error)
}

// AnyPause reports paused when any of its switches does. Errors from one
// switch do not hide a pause reported by another.
type AnyPause []Switch

func (a AnyPause) Paused(ctx context.Context) (bool, error) {
	var errs []error
	for _, p := range a {
		paused, err := p.Paused(ctx)
		if paused {
			return true, nil
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return false, errors.Join(errs...)
}

// NewRedisClient parses redisURL and waits for the server to answer a ping.
func NewRedisClient(ctx context.Context, redisURL string, logger *utils.Logger) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis.ParseURL(%q): %w", redisURL, err)
	}

	client := redis.NewClient(opts)
	retry := &utils.RetryConfig{MaxAttempts: 5, BaseDelay: 250 * time.Millisecond, Logger: logger}
	if err := retry.Do(ctx, "redis ping", func() error { return client.Ping(ctx).Err() }); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}
