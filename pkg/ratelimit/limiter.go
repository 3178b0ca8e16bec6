// Package ratelimit throttles pipeline requests per caller and endpoint.
// Each (caller, endpoint) pair gets its own token bucket so a chat-heavy
// client cannot starve research runs.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config holds rate limiter configuration.
type Config struct {
	Enabled           bool
	RequestsPerMinute int
	Burst             int
}

// DefaultConfig returns the default rate limiting configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:           false,
		RequestsPerMinute: 30,
		Burst:             10,
	}
}

// Limiter tracks one token bucket per (caller, endpoint) key.
type Limiter struct {
	config  Config
	buckets sync.Map // map[string]*rate.Limiter
}

// NewLimiter creates a new rate limiter with the given configuration.
func NewLimiter(config Config) *Limiter {
	if config.RequestsPerMinute <= 0 {
		config.RequestsPerMinute = DefaultConfig().RequestsPerMinute
	}
	if config.Burst <= 0 {
		config.Burst = DefaultConfig().Burst
	}
	return &Limiter{config: config}
}

// Allow reports whether one request by caller against endpoint fits the
// limit. When it does not, retryAfter is how long the caller should wait
// before trying again.
func (l *Limiter) Allow(caller, endpoint string) (allowed bool, retryAfter time.Duration) {
	if !l.config.Enabled {
		return true, 0
	}

	bucket := l.bucket(caller + "|" + endpoint)
	reservation := bucket.Reserve()
	delay := reservation.Delay()
	if delay > 0 {
		reservation.Cancel()
		return false, delay
	}
	return true, 0
}

// Wait blocks until a request by caller against endpoint is allowed or the
// context is cancelled.
func (l *Limiter) Wait(ctx context.Context, caller, endpoint string) error {
	if !l.config.Enabled {
		return nil
	}
	return l.bucket(caller + "|" + endpoint).Wait(ctx)
}

func (l *Limiter) bucket(key string) *rate.Limiter {
	if cached, ok := l.buckets.Load(key); ok {
		return cached.(*rate.Limiter)
	}

	newB := rate.NewLimiter(
		rate.Limit(float64(l.config.RequestsPerMinute)/60.0),
		l.config.Burst,
	)
	actual, _ := l.buckets.LoadOrStore(key, newB)
	return actual.(*rate.Limiter)
}

// Tokens returns the number of tokens currently available for the key, for
// status reporting. A key that never made a request has a full bucket.
func (l *Limiter) Tokens(caller, endpoint string) float64 {
	if !l.config.Enabled {
		return float64(l.config.Burst)
	}
	return l.bucket(caller + "|" + endpoint).Tokens()
}

// Reset drops all buckets.
func (l *Limiter) Reset() {
	l.buckets = sync.Map{}
}
