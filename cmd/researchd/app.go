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
package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/teradata-labs/loom-research/pkg/agent"
	"github.com/teradata-labs/loom-research/pkg/artifacts"
	"github.com/teradata-labs/loom-research/pkg/llm/factory"
	"github.com/teradata-labs/loom-research/pkg/observability"
	"github.com/teradata-labs/loom-research/pkg/prompts"
	"github.com/teradata-labs/loom-research/pkg/shuttle"
	"github.com/teradata-labs/loom-research/pkg/shuttle/builtin"
	"github.com/teradata-labs/loom-research/pkg/shuttle/mcp"
	"github.com/teradata-labs/loom-research/pkg/storage/backend"
	"github.com/teradata-labs/loom-research/pkg/workflow"
)

// app holds the components shared by serve and run.
type app struct {
	config   *Config
	logger   *zap.Logger
	tracer   observability.Tracer
	registry *prometheus.Registry

	store   backend.Store
	reports *artifacts.Store
	prompts *prompts.Registry
	tools   *shuttle.Registry
	mcp     *mcp.Source
	engine  *workflow.Engine
}

// newApp wires the workflow engine and its collaborators from cfg. withStore
// opens the job store; one-shot runs do without it.
func newApp(ctx context.Context, cfg *Config, logger *zap.Logger, withStore bool) (*app, error) {
	a := &app{config: cfg, logger: logger, tracer: observability.NewNoOpTracer()}
	ready := false
	defer func() {
		if !ready {
			a.Close()
		}
	}()

	var err error

	if cfg.Observability.Enabled {
		a.registry = prometheus.NewRegistry()
		a.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		a.tracer = observability.NewPrometheusTracer(a.registry, logger)
	}

	if withStore {
		a.store, err = backend.Open(ctx, cfg.Storage, a.tracer, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open job store: %w", err)
		}
	}

	a.reports, err = artifacts.NewStore(cfg.Artifacts.Dir, artifacts.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	promptOpts := []prompts.Option{prompts.WithLogger(logger)}
	if cfg.Prompts.Dir != "" {
		promptOpts = append(promptOpts, prompts.WithDirectory(cfg.Prompts.Dir))
	}
	a.prompts, err = prompts.NewRegistry(promptOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load prompt packs: %w", err)
	}

	a.tools = shuttle.NewRegistry()
	builtin.RegisterDefaults(a.tools, cfg.Tools)
	if err := a.connectMCP(ctx); err != nil {
		return nil, err
	}

	provider, err := factory.NewProvider(ctx, cfg.LLM, logger, a.tracer)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM provider: %w", err)
	}
	loop := agent.NewToolLoop(provider,
		agent.WithConfig(cfg.Agent),
		agent.WithLogger(logger),
		agent.WithTracer(a.tracer))

	a.engine, err = workflow.NewEngine(loop, a.prompts, a.reports,
		workflow.WithTools(a.tools.ListTools()...),
		workflow.WithConfig(cfg.Workflow),
		workflow.WithLogger(logger),
		workflow.WithTracer(a.tracer))
	if err != nil {
		return nil, fmt.Errorf("failed to create workflow engine: %w", err)
	}

	logger.Info("Research engine ready",
		zap.String("llm_provider", provider.Name()),
		zap.String("llm_model", provider.Model()),
		zap.Int("tools", a.tools.Count()),
		zap.Int("iteration_bound", cfg.Workflow.IterationBound))
	ready = true
	return a, nil
}

// connectMCP registers the tools of every configured MCP server. Servers
// that cannot be reached are skipped unless mcp.required is set.
func (a *app) connectMCP(ctx context.Context) error {
	if len(a.config.MCP.Servers) == 0 {
		return nil
	}
	a.mcp = mcp.NewSource(a.logger, a.tracer)

	for _, server := range a.config.MCP.Servers {
		cctx, cancel := context.WithTimeout(ctx, a.config.MCP.ConnectTimeout)
		err := a.mcp.Connect(cctx, server)
		cancel()
		if err != nil {
			if a.config.MCP.Required {
				return fmt.Errorf("failed to connect MCP server %s: %w", server.Name, err)
			}
			a.logger.Warn("Skipping unreachable MCP server",
				zap.String("server", server.Name),
				zap.Error(err))
		}
	}

	n, err := a.mcp.RegisterAll(ctx, a.tools)
	if err != nil {
		if a.config.MCP.Required {
			return fmt.Errorf("failed to list MCP tools: %w", err)
		}
		a.logger.Warn("Failed to list some MCP tools", zap.Error(err))
	}
	a.logger.Info("MCP tools registered", zap.Int("count", n))
	return nil
}

// Close releases everything newApp opened.
func (a *app) Close() {
	var errs []error
	if a.mcp != nil {
		errs = append(errs, a.mcp.Close())
	}
	if a.reports != nil {
		errs = append(errs, a.reports.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("Error while closing", zap.Error(err))
	}
}
