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

// Package postgres implements storage.JobStore on PostgreSQL with a pgx
// connection pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/teradata-labs/loom-research/internal/pgxdriver"
	"github.com/teradata-labs/loom-research/pkg/observability"
	"github.com/teradata-labs/loom-research/pkg/storage"
)

const jobColumns = "id, query, analysis_type, status, report_path, error, created_at, updated_at"

// Store is a PostgreSQL job store.
type Store struct {
	pool     *pgxpool.Pool
	migrator *Migrator
	tracer   observability.Tracer
	logger   *zap.Logger
}

// Open connects to PostgreSQL. The schema is not touched until Migrate.
func Open(ctx context.Context, cfg pgxdriver.Config, tracer observability.Tracer, logger *zap.Logger) (*Store, error) {
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	pool, err := pgxdriver.NewPool(ctx, cfg, tracer)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	s, err := New(pool, tracer, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing pool.
func New(pool *pgxpool.Pool, tracer observability.Tracer, logger *zap.Logger) (*Store, error) {
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	migrator, err := NewMigrator(pool, tracer)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}
	return &Store{pool: pool, migrator: migrator, tracer: tracer, logger: logger}, nil
}

// Migrator returns the schema migrator.
func (s *Store) Migrator() *Migrator {
	return s.migrator
}

// Pool returns the underlying pool.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Migrate applies pending migrations.
func (s *Store) Migrate(ctx context.Context) error {
	applied, err := s.migrator.MigrateUp(ctx)
	if err != nil {
		return err
	}
	if applied > 0 {
		s.logger.Info("Applied job store migrations",
			zap.String("dialect", "postgres"),
			zap.Int("applied", applied))
	}
	return nil
}

// Create inserts a new job.
func (s *Store) Create(ctx context.Context, job *storage.Job) error {
	ctx, span := s.startSpan(ctx, "create", job.ID)
	defer s.tracer.EndSpan(span)

	_, err := s.pool.Exec(ctx,
		"INSERT INTO jobs ("+jobColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8)",
		job.ID, job.Query, job.AnalysisType, string(job.Status), job.ReportPath, job.Error,
		job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create job %s: %w", job.ID, err)
	}
	return nil
}

// Get returns a job by ID.
func (s *Store) Get(ctx context.Context, id string) (*storage.Job, error) {
	ctx, span := s.startSpan(ctx, "get", id)
	defer s.tracer.EndSpan(span)

	job, err := scanJob(s.pool.QueryRow(ctx, "SELECT "+jobColumns+" FROM jobs WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get job %s: %w", id, err)
	}
	return job, nil
}

// Update changes a job's status and returns the stored record.
func (s *Store) Update(ctx context.Context, id string, u storage.Update) (*storage.Job, error) {
	if err := u.Validate(); err != nil {
		return nil, err
	}
	ctx, span := s.startSpan(ctx, "update", id)
	defer s.tracer.EndSpan(span)

	job, err := scanJob(s.pool.QueryRow(ctx,
		"UPDATE jobs SET status = $2, report_path = $3, error = $4, updated_at = NOW() WHERE id = $1 RETURNING "+jobColumns,
		id, string(u.Status), u.ReportPath, u.Error,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to update job %s: %w", id, err)
	}
	return job, nil
}

// List returns the most recent jobs first.
func (s *Store) List(ctx context.Context, limit int) ([]*storage.Job, error) {
	ctx, span := s.startSpan(ctx, "list", "")
	defer s.tracer.EndSpan(span)

	query := "SELECT " + jobColumns + " FROM jobs ORDER BY created_at DESC, id"
	var args []any
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	jobs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*storage.Job, error) {
		return scanJob(row)
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to scan jobs: %w", err)
	}
	return jobs, nil
}

// DeleteBefore removes terminal jobs last updated before cutoff.
func (s *Store) DeleteBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	ctx, span := s.startSpan(ctx, "delete_before", "")
	defer s.tracer.EndSpan(span)

	var ids []string
	err := pgxdriver.WithTx(ctx, s.pool, func(ctx context.Context, tx pgx.Tx) error {
		rows, err := tx.Query(ctx,
			"DELETE FROM jobs WHERE status IN ($1, $2) AND updated_at < $3 RETURNING id",
			string(storage.StatusCompleted), string(storage.StatusFailed), cutoff,
		)
		if err != nil {
			return err
		}
		ids, err = pgx.CollectRows(rows, pgx.RowTo[string])
		return err
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to delete expired jobs: %w", err)
	}
	span.SetAttribute("jobs_deleted", len(ids))
	return ids, nil
}

// FailStale marks unfinished jobs last updated before cutoff as failed.
func (s *Store) FailStale(ctx context.Context, cutoff time.Time, reason string) (int, error) {
	ctx, span := s.startSpan(ctx, "fail_stale", "")
	defer s.tracer.EndSpan(span)

	tag, err := s.pool.Exec(ctx,
		"UPDATE jobs SET status = $1, error = $2, updated_at = NOW() WHERE status IN ($3, $4) AND updated_at < $5",
		string(storage.StatusFailed), reason,
		string(storage.StatusPending), string(storage.StatusInProgress), cutoff,
	)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to mark stale jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Ping verifies the connection is healthy.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) startSpan(ctx context.Context, op, jobID string) (context.Context, *observability.Span) {
	opts := []observability.SpanOption{
		observability.WithAttribute("db.dialect", "postgres"),
		observability.WithAttribute("db.operation", op),
	}
	if jobID != "" {
		opts = append(opts, observability.WithAttribute(observability.AttrJobID, jobID))
	}
	return s.tracer.StartSpan(ctx, observability.SpanStorageQuery, opts...)
}

func scanJob(row pgx.Row) (*storage.Job, error) {
	var (
		job    storage.Job
		status string
	)
	if err := row.Scan(&job.ID, &job.Query, &job.AnalysisType, &status,
		&job.ReportPath, &job.Error, &job.CreatedAt, &job.UpdatedAt); err != nil {
		return nil, err
	}
	job.Status = storage.Status(status)
	job.CreatedAt = job.CreatedAt.UTC()
	job.UpdatedAt = job.UpdatedAt.UTC()
	return &job, nil
}

var _ storage.JobStore = (*Store)(nil)
