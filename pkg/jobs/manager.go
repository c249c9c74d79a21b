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

// Package jobs runs research workflows in the background. A Manager persists
// every job, starts the engine, hands its progress stream to a single
// consumer and records the terminal status when the run ends.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/teradata-labs/loom-research/internal/csync"
	"github.com/teradata-labs/loom-research/pkg/observability"
	"github.com/teradata-labs/loom-research/pkg/prompts"
	"github.com/teradata-labs/loom-research/pkg/storage"
	"github.com/teradata-labs/loom-research/pkg/stream"
	"github.com/teradata-labs/loom-research/pkg/workflow"
)

var (
	// ErrInvalidRequest wraps submission validation failures.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrShuttingDown is returned by Submit after Shutdown.
	ErrShuttingDown = errors.New("job manager is shutting down")
	// ErrNoStream is returned when a job has no live progress stream.
	ErrNoStream = errors.New("job has no live stream")
	// ErrNotRunning is returned when canceling a job that already finished.
	ErrNotRunning = errors.New("job is not running")
)

// Runner executes one workflow. *workflow.Engine implements it. Run must
// close req.Stream before returning.
type Runner interface {
	Run(ctx context.Context, req workflow.RunRequest) (*workflow.Result, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, req workflow.RunRequest) (*workflow.Result, error)

// Run calls f.
func (f RunnerFunc) Run(ctx context.Context, req workflow.RunRequest) (*workflow.Result, error) {
	return f(ctx, req)
}

// Config tunes the manager.
type Config struct {
	// MaxConcurrentJobs caps workflows running at once; 0 means no cap.
	// Jobs over the cap stay pending until a slot frees up.
	MaxConcurrentJobs int `mapstructure:"max_concurrent_jobs"`
	// StatusTimeout bounds each job store write made after a run ends.
	StatusTimeout time.Duration `mapstructure:"status_timeout"`
}

// DefaultConfig returns the standard manager settings.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentJobs: 4,
		StatusTimeout:     10 * time.Second,
	}
}

// DoneFunc observes a job after its terminal status is stored.
type DoneFunc func(job *storage.Job)

type run struct {
	queue  *stream.Queue
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager owns the running jobs.
type Manager struct {
	store  storage.JobStore
	runner Runner
	config Config
	logger *zap.Logger
	tracer observability.Tracer
	onDone []DoneFunc

	sem  *semaphore.Weighted
	live *csync.Map[string, *run]

	baseCtx context.Context
	stop    context.CancelFunc
	mu      sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
}

// Option configures a Manager.
type Option func(*Manager)

// WithConfig replaces the manager settings.
func WithConfig(cfg Config) Option {
	return func(m *Manager) { m.config = cfg }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(tracer observability.Tracer) Option {
	return func(m *Manager) {
		if tracer != nil {
			m.tracer = tracer
		}
	}
}

// WithDoneFunc registers a callback run after every job ends.
func WithDoneFunc(fn DoneFunc) Option {
	return func(m *Manager) { m.onDone = append(m.onDone, fn) }
}

// NewManager creates a manager.
func NewManager(store storage.JobStore, runner Runner, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		runner: runner,
		config: DefaultConfig(),
		logger: zap.NewNop(),
		tracer: observability.NewNoOpTracer(),
		live:   csync.NewMap[string, *run](),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.config.StatusTimeout <= 0 {
		m.config.StatusTimeout = DefaultConfig().StatusTimeout
	}
	if m.config.MaxConcurrentJobs > 0 {
		m.sem = semaphore.NewWeighted(int64(m.config.MaxConcurrentJobs))
	}
	m.baseCtx, m.stop = context.WithCancel(context.Background())
	return m
}

// Submit validates and persists a job, then starts it in the background.
func (m *Manager) Submit(ctx context.Context, query, analysisType string) (*storage.Job, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: query is required", ErrInvalidRequest)
	}
	t, err := prompts.ParseAnalysisType(analysisType)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrShuttingDown
	}

	job := storage.NewJob(query, string(t))
	if err := m.store.Create(ctx, job); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(m.baseCtx)
	r := &run{queue: stream.NewQueue(), cancel: cancel, done: make(chan struct{})}
	m.live.Set(job.ID, r)

	m.wg.Add(1)
	go m.execute(runCtx, job, r)

	m.logger.Info("Job submitted",
		zap.String("job_id", job.ID),
		zap.String("analysis_type", job.AnalysisType))
	return job, nil
}

func (m *Manager) execute(ctx context.Context, job *storage.Job, r *run) {
	defer m.wg.Done()
	defer close(r.done)
	defer m.live.Delete(job.ID)
	defer r.cancel()

	res, err := m.runJob(ctx, job, r)
	// Runners close the stream themselves; this covers runs that never started.
	r.queue.Close(err)

	update := storage.Update{Status: storage.StatusCompleted}
	if err != nil {
		update = storage.Update{Status: storage.StatusFailed, Error: err.Error()}
	} else {
		update.ReportPath = res.ReportPath
	}

	final, uerr := m.updateStatus(ctx, job.ID, update)
	if uerr != nil {
		m.logger.Error("Failed to record job status",
			zap.String("job_id", job.ID),
			zap.String("status", string(update.Status)),
			zap.Error(uerr))
		return
	}

	m.tracer.RecordMetric(observability.MetricJobsFinished, 1, map[string]string{"status": string(final.Status)})
	m.logger.Info("Job finished",
		zap.String("job_id", job.ID),
		zap.String("status", string(final.Status)),
		zap.String("report", final.ReportPath))
	for _, fn := range m.onDone {
		fn(final)
	}
}

func (m *Manager) runJob(ctx context.Context, job *storage.Job, r *run) (res *workflow.Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			res, err = nil, fmt.Errorf("job %s panicked: %v", job.ID, p)
		}
	}()

	if m.sem != nil {
		if err := m.sem.Acquire(ctx, 1); err != nil {
			return nil, fmt.Errorf("job canceled before start: %w", err)
		}
		defer m.sem.Release(1)
	}

	if _, err := m.updateStatus(ctx, job.ID, storage.Update{Status: storage.StatusInProgress}); err != nil {
		return nil, err
	}

	return m.runner.Run(ctx, workflow.RunRequest{
		JobID:        job.ID,
		Query:        job.Query,
		AnalysisType: prompts.AnalysisType(job.AnalysisType),
		Stream:       r.queue,
	})
}

// updateStatus writes even when the job's own context has been canceled.
func (m *Manager) updateStatus(ctx context.Context, id string, u storage.Update) (*storage.Job, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.config.StatusTimeout)
	defer cancel()
	return m.store.Update(ctx, id, u)
}

// Get returns the stored job.
func (m *Manager) Get(ctx context.Context, id string) (*storage.Job, error) {
	return m.store.Get(ctx, id)
}

// List returns the most recent jobs.
func (m *Manager) List(ctx context.Context, limit int) ([]*storage.Job, error) {
	return m.store.List(ctx, limit)
}

// Stream claims the live progress stream of a job. Only one consumer may
// hold it; call Release on the queue to give it up before the end.
func (m *Manager) Stream(id string) (*stream.Queue, error) {
	r, ok := m.live.Get(id)
	if !ok {
		return nil, ErrNoStream
	}
	if err := r.queue.Claim(); err != nil {
		return nil, err
	}
	return r.queue, nil
}

// Cancel stops a running or pending job. The job ends as failed.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	if r, ok := m.live.Get(id); ok {
		r.cancel()
		m.logger.Info("Job canceled", zap.String("job_id", id))
		return nil
	}
	if _, err := m.store.Get(ctx, id); err != nil {
		return err
	}
	return ErrNotRunning
}

// Wait blocks until the job ends and returns its stored record.
func (m *Manager) Wait(ctx context.Context, id string) (*storage.Job, error) {
	if r, ok := m.live.Get(id); ok {
		select {
		case <-r.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return m.store.Get(ctx, id)
}

// Active returns the number of jobs not yet finished.
func (m *Manager) Active() int {
	return m.live.Len()
}

// Shutdown rejects new jobs, cancels running ones and waits for them to
// record their status or for ctx to end.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.stop()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown: %d jobs still running: %w", m.live.Len(), ctx.Err())
	}
}
