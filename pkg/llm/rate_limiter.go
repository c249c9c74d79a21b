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
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teradata-labs/loom-research/pkg/shuttle"
	"github.com/teradata-labs/loom-research/pkg/types"
)

// RateLimiterConfig configures the LLM request rate limiter.
type RateLimiterConfig struct {
	// Enabled enables rate limiting (default: true)
	Enabled bool `mapstructure:"enabled"`

	// RequestsPerSecond is the sustained request rate across all callers
	// sharing the limiter (default: 0.25).
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`

	// BurstCapacity is the number of requests allowed back to back before
	// the sustained rate applies (default: 10).
	BurstCapacity int `mapstructure:"burst"`

	// QueueTimeout bounds how long a single request may wait for a slot
	// (default: 5 minutes).
	QueueTimeout time.Duration `mapstructure:"queue_timeout"`

	// Logger for rate limiter events
	Logger *zap.Logger `mapstructure:"-"`
}

// DefaultRateLimiterConfig returns the standard limiter settings.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		Enabled:           true,
		RequestsPerSecond: 0.25,
		BurstCapacity:     10,
		QueueTimeout:      5 * time.Minute,
		Logger:            zap.NewNop(),
	}
}

// RateLimiterMetrics tracks rate limiter activity.
type RateLimiterMetrics struct {
	TotalRequests   int64
	DelayedRequests int64
	DroppedRequests int64
	TotalWaitMs     int64
}

// RateLimiter is a token bucket shared by every provider call that goes
// through it.
type RateLimiter struct {
	config  RateLimiterConfig
	limiter *rate.Limiter

	total   atomic.Int64
	delayed atomic.Int64
	dropped atomic.Int64
	waitMs  atomic.Int64
}

// NewRateLimiter creates a limiter. Zero fields take defaults.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	d := DefaultRateLimiterConfig()
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = d.RequestsPerSecond
	}
	if config.BurstCapacity <= 0 {
		config.BurstCapacity = d.BurstCapacity
	}
	if config.QueueTimeout <= 0 {
		config.QueueTimeout = d.QueueTimeout
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	return &RateLimiter{
		config:  config,
		limiter: rate.NewLimiter(rate.Limit(config.RequestsPerSecond), config.BurstCapacity),
	}
}

// Wait blocks until a request slot is available, the queue timeout passes
// or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	rl.total.Add(1)
	if !rl.config.Enabled {
		return nil
	}
	if rl.limiter.Allow() {
		return nil
	}

	rl.delayed.Add(1)
	waitCtx, cancel := context.WithTimeout(ctx, rl.config.QueueTimeout)
	defer cancel()

	start := time.Now()
	err := rl.limiter.Wait(waitCtx)
	rl.waitMs.Add(time.Since(start).Milliseconds())
	if err != nil {
		rl.dropped.Add(1)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("rate limiter: no slot within %v: %w", rl.config.QueueTimeout, err)
	}
	rl.config.Logger.Debug("LLM request delayed by rate limiter",
		zap.Duration("wait", time.Since(start)))
	return nil
}

// Metrics returns a snapshot of the limiter counters.
func (rl *RateLimiter) Metrics() RateLimiterMetrics {
	return RateLimiterMetrics{
		TotalRequests:   rl.total.Load(),
		DelayedRequests: rl.delayed.Load(),
		DroppedRequests: rl.dropped.Load(),
		TotalWaitMs:     rl.waitMs.Load(),
	}
}

// RateLimitedProvider takes a limiter slot before every call to the
// wrapped provider.
type RateLimitedProvider struct {
	provider types.LLMProvider
	limiter  *RateLimiter
}

// NewRateLimitedProvider wraps provider with limiter.
func NewRateLimitedProvider(provider types.LLMProvider, limiter *RateLimiter) *RateLimitedProvider {
	return &RateLimitedProvider{provider: provider, limiter: limiter}
}

// Name returns the underlying provider name.
func (p *RateLimitedProvider) Name() string { return p.provider.Name() }

// Model returns the underlying model identifier.
func (p *RateLimitedProvider) Model() string { return p.provider.Model() }

// Chat waits for a slot and calls the wrapped provider.
func (p *RateLimitedProvider) Chat(ctx context.Context, messages []types.Message, tools []shuttle.Tool) (*types.LLMResponse, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return p.provider.Chat(ctx, messages, tools)
}

// ChatStream waits for a slot and streams through the wrapped provider,
// falling back to Chat when it cannot stream.
func (p *RateLimitedProvider) ChatStream(ctx context.Context, messages []types.Message, tools []shuttle.Tool, cb types.TokenCallback) (*types.LLMResponse, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	if sp, ok := p.provider.(types.StreamingLLMProvider); ok {
		return sp.ChatStream(ctx, messages, tools, cb)
	}
	resp, err := p.provider.Chat(ctx, messages, tools)
	if err == nil && cb != nil && resp.Content != "" {
		cb(resp.Content)
	}
	return resp, err
}

var _ types.StreamingLLMProvider = (*RateLimitedProvider)(nil)
