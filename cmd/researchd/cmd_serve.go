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
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/teradata-labs/loom-research/pkg/jobs"
	"github.com/teradata-labs/loom-research/pkg/prompts"
	"github.com/teradata-labs/loom-research/pkg/scheduler"
	"github.com/teradata-labs/loom-research/pkg/server"
	"github.com/teradata-labs/loom-research/pkg/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the research HTTP server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (default :8000)")
	_ = viper.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))
}

func runServe(cmd *cobra.Command, _ []string) error {
	if err := config.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	logger, err := NewLogger(config.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting research server", zap.String("version", rootCmd.Version))
	if used := viper.ConfigFileUsed(); used != "" {
		logger.Info("Config file loaded", zap.String("path", used))
	} else {
		logger.Info("No config file found, using defaults and environment variables")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, config, logger, true)
	if err != nil {
		return err
	}
	defer a.Close()

	manager := jobs.NewManager(a.store, a.engine,
		jobs.WithConfig(config.Jobs),
		jobs.WithLogger(logger),
		jobs.WithTracer(a.tracer),
		jobs.WithDoneFunc(func(job *storage.Job) {
			if job.Status == storage.StatusFailed {
				logger.Warn("Analysis failed", zap.String("job_id", job.ID), zap.String("error", job.Error))
			}
		}))

	sched, err := scheduler.New(a.store, a.reports, config.Retention,
		scheduler.WithLogger(logger),
		scheduler.WithTracer(a.tracer))
	if err != nil {
		return err
	}
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start retention scheduler: %w", err)
	}

	if config.Prompts.Dir != "" && config.Prompts.HotReload {
		updates, err := a.prompts.Watch(ctx)
		if err != nil {
			logger.Warn("Prompt hot reload disabled", zap.Error(err))
		} else {
			go logPromptUpdates(logger, updates)
		}
	}

	opts := []server.Option{server.WithLogger(logger), server.WithHealthCheck(a.store)}
	if a.registry != nil {
		opts = append(opts, server.WithMetrics(a.registry))
	}
	srv, err := server.New(config.Server, manager, a.reports, opts...)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), config.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown incomplete", zap.Error(err))
	}
	if err := manager.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Job manager shutdown incomplete", zap.Error(err))
	}
	if err := sched.Stop(shutdownCtx); err != nil {
		logger.Warn("Scheduler shutdown incomplete", zap.Error(err))
	}
	logger.Info("Shutdown complete")
	return nil
}

func logPromptUpdates(logger *zap.Logger, updates <-chan prompts.PackUpdate) {
	for u := range updates {
		if u.Error != nil {
			logger.Warn("Prompt pack reload failed", zap.String("path", u.Path), zap.Error(u.Error))
			continue
		}
		logger.Info("Prompt packs reloaded", zap.String("path", u.Path), zap.String("action", u.Action))
	}
}
