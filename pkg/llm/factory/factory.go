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

// Package factory builds the configured LLM provider and wraps it with the
// shared rate limiter, retry policy and instrumentation.
package factory

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/teradata-labs/loom-research/pkg/llm"
	"github.com/teradata-labs/loom-research/pkg/llm/anthropic"
	"github.com/teradata-labs/loom-research/pkg/llm/gemini"
	"github.com/teradata-labs/loom-research/pkg/llm/openai"
	"github.com/teradata-labs/loom-research/pkg/observability"
	"github.com/teradata-labs/loom-research/pkg/types"
)

// Config selects and configures the LLM provider.
type Config struct {
	// Provider is one of anthropic, bedrock, gemini, openai (default: gemini).
	Provider string `mapstructure:"provider"`

	Anthropic anthropic.Config `mapstructure:"anthropic"`
	Gemini    gemini.Config    `mapstructure:"gemini"`
	OpenAI    openai.Config    `mapstructure:"openai"`

	Retry     llm.RetryConfig       `mapstructure:"retry"`
	RateLimit llm.RateLimiterConfig `mapstructure:"rate_limit"`
}

// Validate checks that the selected provider has what it needs.
func (c Config) Validate() error {
	switch c.provider() {
	case "anthropic":
		if c.Anthropic.APIKey == "" {
			return fmt.Errorf("llm.anthropic.api_key is required for provider anthropic")
		}
	case "bedrock":
	case "gemini":
		if c.Gemini.APIKey == "" {
			return fmt.Errorf("llm.gemini.api_key is required for provider gemini")
		}
	case "openai":
		if c.OpenAI.APIKey == "" {
			return fmt.Errorf("llm.openai.api_key is required for provider openai")
		}
	default:
		return fmt.Errorf("unsupported llm provider: %q", c.Provider)
	}
	return nil
}

func (c Config) provider() string {
	if c.Provider == "" {
		return "gemini"
	}
	return c.Provider
}

// NewBaseProvider creates the unwrapped provider client.
func NewBaseProvider(ctx context.Context, cfg Config) (types.LLMProvider, error) {
	switch cfg.provider() {
	case "anthropic":
		ac := cfg.Anthropic
		ac.Bedrock.Enabled = false
		return anthropic.NewClient(ctx, ac)
	case "bedrock":
		ac := cfg.Anthropic
		ac.Bedrock.Enabled = true
		return anthropic.NewClient(ctx, ac)
	case "gemini":
		return gemini.NewClient(ctx, cfg.Gemini)
	case "openai":
		return openai.NewClient(cfg.OpenAI)
	default:
		return nil, fmt.Errorf("unsupported llm provider: %q", cfg.Provider)
	}
}

// Wrap layers rate limiting, retries and instrumentation around base.
// The limiter is taken once per attempt, so retries also respect it.
func Wrap(base types.LLMProvider, limiter *llm.RateLimiter, retry llm.RetryConfig, logger *zap.Logger, tracer observability.Tracer) types.LLMProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	var p types.LLMProvider = base
	if limiter != nil {
		p = llm.NewRateLimitedProvider(p, limiter)
	}
	p = llm.NewRetryingProvider(p, retry, llm.WithRetryLogger(logger), llm.WithRetryTracer(tracer))
	return llm.NewInstrumentedProvider(p, tracer)
}

// NewProvider builds the configured provider with its decorators.
func NewProvider(ctx context.Context, cfg Config, logger *zap.Logger, tracer observability.Tracer) (types.LLMProvider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	base, err := NewBaseProvider(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s provider: %w", cfg.provider(), err)
	}
	if _, ok := LookupModel(base.Name(), base.Model()); !ok {
		logger.Warn("Model not in the known model list", zap.String("provider", base.Name()), zap.String("model", base.Model()))
	}

	rl := cfg.RateLimit
	rl.Logger = logger
	limiter := llm.NewRateLimiter(rl)

	logger.Info("LLM provider configured",
		zap.String("provider", base.Name()),
		zap.String("model", base.Model()),
		zap.Bool("rate_limited", rl.Enabled),
		zap.Float64("requests_per_second", rl.RequestsPerSecond))
	return Wrap(base, limiter, cfg.Retry, logger, tracer), nil
}
