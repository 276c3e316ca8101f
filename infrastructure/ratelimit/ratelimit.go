// Package ratelimit provides a token-bucket limiter over golang.org/x/time/rate,
// shared by anything that needs to bound call/tick bursts against an external
// or process-wide budget: internal/llmrouter (per-provider request rate) and
// internal/scheduler (process-wide periodic-tick rate).
package ratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

func DefaultConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 100,
		Burst:             200,
	}
}

type RateLimiter struct {
	limiter *rate.Limiter
}

func New(cfg RateLimitConfig) *RateLimiter {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 100
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.RequestsPerSecond * 2)
	}

	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
	}
}

// Allow reports whether a call may proceed right now without blocking,
// consuming one token if so. Used for tick-style gating where blocking is
// wrong (a skipped tick is fine; a delayed one is not).
func (r *RateLimiter) Allow() bool {
	return r.limiter.Allow()
}

// Wait blocks until a token is available or ctx is done. Used for request-style
// gating where the caller can afford to be delayed rather than dropped.
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}
