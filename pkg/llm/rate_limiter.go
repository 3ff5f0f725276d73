// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// RateLimiterConfig configures the model-call rate limiter.
type RateLimiterConfig struct {
	// Enabled turns limiting on. A disabled limiter calls straight through.
	Enabled bool

	// RequestsPerSecond is the bucket refill rate.
	RequestsPerSecond float64

	// BurstCapacity is the bucket size.
	BurstCapacity int

	// TokensPerMinute caps model tokens consumed in any sliding minute. 0 disables it.
	TokensPerMinute int64

	// MaxRetries is how often a throttled call (HTTP 429 and friends) is retried.
	MaxRetries int

	// RetryBackoff is the first retry delay; it doubles on each retry.
	RetryBackoff time.Duration

	Logger *zap.Logger
}

// DefaultRateLimiterConfig returns defaults that stay under the entry tier of
// the hosted Claude API.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		Enabled:           true,
		RequestsPerSecond: 0.7,
		BurstCapacity:     3,
		TokensPerMinute:   80000,
		MaxRetries:        5,
		RetryBackoff:      2 * time.Second,
		Logger:            zap.NewNop(),
	}
}

// RateLimiterMetrics tracks limiter behaviour.
type RateLimiterMetrics struct {
	TotalRequests     int64
	ThrottledRequests int64
	WaitedRequests    int64
	TokensConsumed    int64
	LastThrottleTime  time.Time
}

type tokenUsage struct {
	at     time.Time
	tokens int64
}

// RateLimiter is a token bucket shared by every model client of a process.
// Callers block in Do until a request token is free; there is no background
// goroutine.
type RateLimiter struct {
	config RateLimiterConfig
	now    func() time.Time

	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
	window     []tokenUsage
	metrics    RateLimiterMetrics
}

// NewRateLimiter creates a new rate limiter. Zero fields take the defaults.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	def := DefaultRateLimiterConfig()
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = def.RequestsPerSecond
	}
	if config.BurstCapacity <= 0 {
		config.BurstCapacity = def.BurstCapacity
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = def.RetryBackoff
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	return &RateLimiter{
		config:     config,
		now:        time.Now,
		tokens:     float64(config.BurstCapacity),
		lastRefill: time.Now(),
	}
}

// Do runs call once a request token is available and retries it with
// exponential backoff while it fails with a throttling error.
func (rl *RateLimiter) Do(ctx context.Context, call func(context.Context) (interface{}, error)) (interface{}, error) {
	if rl == nil || !rl.config.Enabled {
		return call(ctx)
	}
	backoff := rl.config.RetryBackoff
	for attempt := 0; ; attempt++ {
		if err := rl.Wait(ctx); err != nil {
			return nil, err
		}
		result, err := call(ctx)
		rl.count(func(m *RateLimiterMetrics) { m.TotalRequests++ })
		if err == nil || !IsThrottlingError(err) {
			return result, err
		}

		rl.count(func(m *RateLimiterMetrics) {
			m.ThrottledRequests++
			m.LastThrottleTime = rl.now()
		})
		if attempt >= rl.config.MaxRetries {
			return nil, fmt.Errorf("model request throttled after %d attempts: %w", attempt+1, err)
		}
		rl.config.Logger.Warn("Model request throttled, retrying",
			zap.Int("attempt", attempt+1),
			zap.Int("max_retries", rl.config.MaxRetries),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		if err := sleep(ctx, backoff); err != nil {
			return nil, err
		}
		backoff *= 2
	}
}

// Wait blocks until a request token is free and the token budget of the
// last minute has room.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	waited := false
	for {
		d := rl.reserve()
		if d <= 0 {
			if waited {
				rl.count(func(m *RateLimiterMetrics) { m.WaitedRequests++ })
			}
			return nil
		}
		waited = true
		if err := sleep(ctx, d); err != nil {
			return err
		}
	}
}

// reserve takes a token and returns 0, or returns how long to wait.
func (rl *RateLimiter) reserve() time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if budget := rl.config.TokensPerMinute; budget > 0 {
		rl.pruneLocked(now)
		if used := rl.usedLocked(); used >= budget && len(rl.window) > 0 {
			return rl.window[0].at.Add(time.Minute).Sub(now)
		}
	}

	elapsed := now.Sub(rl.lastRefill).Seconds()
	rl.tokens = min(float64(rl.config.BurstCapacity), rl.tokens+elapsed*rl.config.RequestsPerSecond)
	rl.lastRefill = now
	if rl.tokens >= 1 {
		rl.tokens--
		return 0
	}
	missing := 1 - rl.tokens
	return time.Duration(missing / rl.config.RequestsPerSecond * float64(time.Second))
}

// RecordTokenUsage adds model tokens to the sliding one-minute window.
func (rl *RateLimiter) RecordTokenUsage(tokens int64) {
	if rl == nil || tokens <= 0 {
		return
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.window = append(rl.window, tokenUsage{at: rl.now(), tokens: tokens})
	rl.metrics.TokensConsumed += tokens
}

// TokensLastMinute returns the tokens recorded in the last minute.
func (rl *RateLimiter) TokensLastMinute() int64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.pruneLocked(rl.now())
	return rl.usedLocked()
}

// Metrics returns a snapshot of the limiter metrics.
func (rl *RateLimiter) Metrics() RateLimiterMetrics {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.metrics
}

func (rl *RateLimiter) pruneLocked(now time.Time) {
	cutoff := now.Add(-time.Minute)
	i := 0
	for i < len(rl.window) && !rl.window[i].at.After(cutoff) {
		i++
	}
	rl.window = rl.window[i:]
}

func (rl *RateLimiter) usedLocked() int64 {
	var used int64
	for _, u := range rl.window {
		used += u.tokens
	}
	return used
}

func (rl *RateLimiter) count(f func(*RateLimiterMetrics)) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	f(&rl.metrics)
}

// IsThrottlingError reports whether err looks like a provider rate-limit or
// overload response.
func IsThrottlingError(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	for _, marker := range []string{"429", "529", "throttlingexception", "toomanyrequests", "rate limit", "rate_limit", "throttl", "overloaded"} {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
