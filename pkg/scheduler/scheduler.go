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

// Package scheduler runs housekeeping for the research service on a cron
// schedule: expired jobs and their report directories are purged, and jobs
// left unfinished by a previous process are marked failed at startup.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/teradata-labs/loom-research/pkg/observability"
	"github.com/teradata-labs/loom-research/pkg/storage"
)

// StaleReason is the error recorded on jobs failed by RecoverStale.
const StaleReason = "interrupted: the server stopped before the job finished"

// Config tunes retention.
type Config struct {
	// Schedule is a standard cron expression or descriptor ("@every 1h").
	Schedule string `mapstructure:"schedule"`
	// Timezone for Schedule. Empty means UTC.
	Timezone string `mapstructure:"timezone"`
	// Retention is how long finished jobs and reports are kept. Zero keeps
	// them forever.
	Retention time.Duration `mapstructure:"retention"`
	// StaleAfter is how old an unfinished job must be to count as stale at
	// startup. Zero treats every unfinished job from before startup as stale.
	StaleAfter time.Duration `mapstructure:"stale_after"`
}

// DefaultConfig returns hourly purges with a one-week retention.
func DefaultConfig() Config {
	return Config{
		Schedule:  "@every 1h",
		Timezone:  "UTC",
		Retention: 7 * 24 * time.Hour,
	}
}

// Validate checks the schedule and timezone.
func (c Config) Validate() error {
	if c.Schedule == "" {
		return errors.New("retention schedule is required")
	}
	if _, err := cron.ParseStandard(c.Schedule); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	if _, err := loadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid timezone: %w", err)
	}
	if c.Retention < 0 || c.StaleAfter < 0 {
		return errors.New("retention durations must not be negative")
	}
	return nil
}

// Reports removes persisted report directories. *artifacts.Store
// implements it.
type Reports interface {
	RemoveJob(jobID string) error
	Sweep(olderThan time.Duration) ([]string, error)
}

// Summary describes one purge.
type Summary struct {
	At          time.Time
	JobsDeleted int
	DirsRemoved int
	Errors      int
}

// Scheduler owns the cron engine.
type Scheduler struct {
	store   storage.JobStore
	reports Reports
	config  Config
	logger  *zap.Logger
	tracer  observability.Tracer
	cron    *cron.Cron
	now     func() time.Time

	mu      sync.Mutex
	entry   cron.EntryID
	started bool
	last    Summary
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(tracer observability.Tracer) Option {
	return func(s *Scheduler) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// New creates a scheduler. reports may be nil when reports are not kept on
// local disk.
func New(store storage.JobStore, reports Reports, config Config, opts ...Option) (*Scheduler, error) {
	if store == nil {
		return nil, errors.New("job store is required")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	s := &Scheduler{
		store:   store,
		reports: reports,
		config:  config,
		logger:  zap.NewNop(),
		tracer:  observability.NewNoOpTracer(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	loc, _ := loadLocation(config.Timezone)
	cl := cronLogger{s.logger.Sugar()}
	s.cron = cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	return s, nil
}

// Start fails stale jobs and schedules the purge.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("scheduler already started")
	}

	if n, err := s.RecoverStale(ctx); err != nil {
		s.logger.Error("Failed to recover stale jobs", zap.Error(err))
	} else if n > 0 {
		s.logger.Warn("Marked interrupted jobs as failed", zap.Int("jobs", n))
	}

	id, err := s.cron.AddFunc(s.config.Schedule, func() {
		if _, err := s.Purge(context.Background()); err != nil {
			s.logger.Error("Retention purge failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule retention: %w", err)
	}
	s.entry = id
	s.cron.Start()
	s.started = true

	s.logger.Info("Retention scheduler started",
		zap.String("schedule", s.config.Schedule),
		zap.Duration("retention", s.config.Retention),
		zap.Time("next_run", s.cron.Entry(id).Next))
	return nil
}

// Stop halts the cron engine and waits for a running purge or for ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	started := s.started
	s.started = false
	s.mu.Unlock()
	if !started {
		return nil
	}

	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("retention purge still running: %w", ctx.Err())
	}
}

// NextRun returns when the purge runs next, or the zero time when stopped.
func (s *Scheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return time.Time{}
	}
	return s.cron.Entry(s.entry).Next
}

// LastRun returns the summary of the latest purge.
func (s *Scheduler) LastRun() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// RecoverStale marks unfinished jobs older than StaleAfter as failed.
func (s *Scheduler) RecoverStale(ctx context.Context) (int, error) {
	return s.store.FailStale(ctx, s.now().Add(-s.config.StaleAfter), StaleReason)
}

// Purge deletes finished jobs older than the retention window together with
// their report directories, then sweeps report directories with no job.
func (s *Scheduler) Purge(ctx context.Context) (Summary, error) {
	summary := Summary{At: s.now()}
	if s.config.Retention <= 0 {
		return summary, nil
	}

	ctx, span := s.tracer.StartSpan(ctx, "scheduler.purge")
	defer s.tracer.EndSpan(span)

	ids, err := s.store.DeleteBefore(ctx, summary.At.Add(-s.config.Retention))
	if err != nil {
		span.RecordError(err)
		return summary, err
	}
	summary.JobsDeleted = len(ids)

	if s.reports != nil {
		for _, id := range ids {
			if err := s.reports.RemoveJob(id); err != nil {
				summary.Errors++
				s.logger.Warn("Failed to remove report directory",
					zap.String("job_id", id),
					zap.Error(err))
				continue
			}
			summary.DirsRemoved++
		}
		swept, err := s.reports.Sweep(s.config.Retention)
		if err != nil {
			summary.Errors++
			s.logger.Warn("Report sweep failed", zap.Error(err))
		}
		summary.DirsRemoved += len(swept)
	}

	s.tracer.RecordMetric(observability.MetricRetentionPurged, float64(summary.JobsDeleted), map[string]string{"kind": "job"})
	s.tracer.RecordMetric(observability.MetricRetentionPurged, float64(summary.DirsRemoved), map[string]string{"kind": "report"})
	span.SetAttribute("jobs_deleted", summary.JobsDeleted)

	s.mu.Lock()
	s.last = summary
	s.mu.Unlock()

	s.logger.Info("Retention purge complete",
		zap.Int("jobs_deleted", summary.JobsDeleted),
		zap.Int("dirs_removed", summary.DirsRemoved),
		zap.Int("errors", summary.Errors))
	return summary, nil
}

func loadLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(name)
}

// cronLogger routes cron's logging to zap.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
