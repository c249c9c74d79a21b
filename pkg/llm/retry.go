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
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/loom-research/pkg/observability"
	"github.com/teradata-labs/loom-research/pkg/shuttle"
	"github.com/teradata-labs/loom-research/pkg/types"
)

// RetryConfig configures RetryingProvider.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt (default: 5).
	MaxRetries int `mapstructure:"max_retries"`

	// BaseDelay is the first backoff step; attempt n waits BaseDelay*2^n (default: 1s).
	BaseDelay time.Duration `mapstructure:"base_delay"`

	// MaxDelay caps the exponential part of the backoff (default: 30s).
	MaxDelay time.Duration `mapstructure:"max_delay"`

	// Jitter is the upper bound of the uniform random delay added to each wait (default: 1s).
	Jitter time.Duration `mapstructure:"jitter"`
}

// DefaultRetryConfig returns the standard backoff settings.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 5,
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
		Jitter:     time.Second,
	}
}

func (c RetryConfig) withDefaults() RetryConfig {
	d := DefaultRetryConfig()
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	} else if c.MaxRetries == 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = d.BaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	if c.Jitter < 0 {
		c.Jitter = 0
	} else if c.Jitter == 0 {
		c.Jitter = d.Jitter
	}
	return c
}

// Backoff returns the wait before retry number attempt (0-based).
func (c RetryConfig) Backoff(attempt int) time.Duration {
	delay := c.BaseDelay
	for i := 0; i < attempt && delay < c.MaxDelay; i++ {
		delay *= 2
	}
	if delay > c.MaxDelay {
		delay = c.MaxDelay
	}
	if c.Jitter > 0 {
		delay += rand.N(c.Jitter)
	}
	return delay
}

// RetryingProvider retries rate-limit, service-unavailable and transient
// failures of the wrapped provider with exponential backoff plus jitter.
// Every other error class is returned on the first occurrence.
type RetryingProvider struct {
	provider types.LLMProvider
	config   RetryConfig
	logger   *zap.Logger
	tracer   observability.Tracer
	sleep    func(ctx context.Context, d time.Duration) error
}

// RetryOption configures a RetryingProvider.
type RetryOption func(*RetryingProvider)

// WithRetryLogger sets the logger.
func WithRetryLogger(logger *zap.Logger) RetryOption {
	return func(p *RetryingProvider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithRetryTracer sets the tracer used for retry spans and metrics.
func WithRetryTracer(tracer observability.Tracer) RetryOption {
	return func(p *RetryingProvider) {
		if tracer != nil {
			p.tracer = tracer
		}
	}
}

// NewRetryingProvider wraps provider. Zero fields in config take defaults;
// a negative MaxRetries or Jitter disables retries or jitter.
func NewRetryingProvider(provider types.LLMProvider, config RetryConfig, opts ...RetryOption) *RetryingProvider {
	p := &RetryingProvider{
		provider: provider,
		config:   config.withDefaults(),
		logger:   zap.NewNop(),
		tracer:   observability.NewNoOpTracer(),
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the underlying provider name.
func (p *RetryingProvider) Name() string { return p.provider.Name() }

// Model returns the underlying model identifier.
func (p *RetryingProvider) Model() string { return p.provider.Model() }

// Config returns the effective retry settings.
func (p *RetryingProvider) Config() RetryConfig { return p.config }

// Chat calls the wrapped provider, retrying retryable failures.
func (p *RetryingProvider) Chat(ctx context.Context, messages []types.Message, tools []shuttle.Tool) (*types.LLMResponse, error) {
	return p.do(ctx, func(ctx context.Context) (*types.LLMResponse, bool, error) {
		resp, err := p.provider.Chat(ctx, messages, tools)
		return resp, true, err
	})
}

// ChatStream streams through the wrapped provider when it supports it and
// falls back to Chat otherwise, delivering the whole reply as one token.
// A stream that already delivered tokens is not retried.
func (p *RetryingProvider) ChatStream(ctx context.Context, messages []types.Message, tools []shuttle.Tool, cb types.TokenCallback) (*types.LLMResponse, error) {
	sp, ok := p.provider.(types.StreamingLLMProvider)
	if !ok {
		resp, err := p.Chat(ctx, messages, tools)
		if err == nil && cb != nil && resp.Content != "" {
			cb(resp.Content)
		}
		return resp, err
	}
	return p.do(ctx, func(ctx context.Context) (*types.LLMResponse, bool, error) {
		emitted := false
		resp, err := sp.ChatStream(ctx, messages, tools, func(token string) {
			emitted = true
			if cb != nil {
				cb(token)
			}
		})
		return resp, !emitted, err
	})
}

func (p *RetryingProvider) do(ctx context.Context, call func(context.Context) (*types.LLMResponse, bool, error)) (*types.LLMResponse, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		resp, canRetry, err := call(ctx)
		if err == nil {
			return resp, nil
		}
		lastErr = Wrap(p.provider.Name(), err)
		errType := Classify(lastErr)

		if !errType.Retryable() || !canRetry || ctx.Err() != nil {
			return nil, lastErr
		}
		if attempt >= p.config.MaxRetries {
			break
		}

		delay := p.config.Backoff(attempt)
		p.logger.Warn("LLM call failed, retrying",
			zap.String("provider", p.provider.Name()),
			zap.String("error_type", errType.String()),
			zap.Int("attempt", attempt+1),
			zap.Int("max_retries", p.config.MaxRetries),
			zap.Duration("backoff", delay),
			zap.Error(err))
		p.recordRetry(ctx, attempt+1, errType, delay)

		if err := p.sleep(ctx, delay); err != nil {
			return nil, Wrap(p.provider.Name(), err)
		}
	}

	p.logger.Error("LLM retries exhausted",
		zap.String("provider", p.provider.Name()),
		zap.Int("attempts", p.config.MaxRetries+1),
		zap.Error(lastErr))
	return nil, &Error{
		Type:       Classify(lastErr),
		StatusCode: StatusCode(lastErr),
		Provider:   p.provider.Name(),
		Attempts:   p.config.MaxRetries + 1,
		Err:        lastErr,
	}
}

func (p *RetryingProvider) recordRetry(ctx context.Context, attempt int, errType ErrorType, delay time.Duration) {
	_, span := p.tracer.StartSpan(ctx, observability.SpanLLMRetry,
		observability.WithAttribute(observability.AttrLLMProvider, p.provider.Name()),
		observability.WithAttribute(observability.AttrLLMAttempt, attempt),
		observability.WithAttribute(observability.AttrErrorType, errType.String()),
		observability.WithAttribute("llm.backoff_ms", delay.Milliseconds()))
	p.tracer.EndSpan(span)
	p.tracer.RecordMetric(observability.MetricLLMRetries, 1, map[string]string{
		"provider":   p.provider.Name(),
		"error_type": errType.String(),
	})
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

var _ types.StreamingLLMProvider = (*RetryingProvider)(nil)
