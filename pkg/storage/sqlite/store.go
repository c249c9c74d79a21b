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

// Package sqlite implements storage.JobStore on database/sql. The SQLite
// dialect (pure-Go modernc driver) serves single-node deployments and tests;
// the MySQL dialect shares the same queries over go-sql-driver/mysql.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"github.com/teradata-labs/loom-research/internal/sqlitedriver"
	"github.com/teradata-labs/loom-research/pkg/observability"
	"github.com/teradata-labs/loom-research/pkg/storage"
)

const jobColumns = "id, query, analysis_type, status, report_path, error, created_at, updated_at"

// Store is a database/sql job store.
type Store struct {
	db       *sql.DB
	dialect  Dialect
	path     string
	migrator *Migrator
	tracer   observability.Tracer
	logger   *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithTracer sets the tracer.
func WithTracer(tracer observability.Tracer) Option {
	return func(s *Store) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// OpenSQLite opens the SQLite database at path.
func OpenSQLite(path string, opts ...Option) (*Store, error) {
	db, err := sqlitedriver.Open(path)
	if err != nil {
		return nil, err
	}
	s, err := New(db, SQLite, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.path = path
	return s, nil
}

// OpenMySQL opens a MySQL database from a go-sql-driver DSN
// ("user:pass@tcp(host:3306)/research").
func OpenMySQL(dsn string, opts ...Option) (*Store, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse mysql DSN: %w", err)
	}
	// Update reports matched rows, not changed rows, so an unchanged status
	// is not mistaken for a missing job.
	cfg.ClientFoundRows = true

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create mysql connector: %w", err)
	}
	db := sql.OpenDB(connector)
	db.SetConnMaxLifetime(time.Hour)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping mysql: %w", err)
	}

	s, err := New(db, MySQL, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an open database. The schema is not touched until Migrate.
func New(db *sql.DB, dialect Dialect, opts ...Option) (*Store, error) {
	s := &Store{
		db:      db,
		dialect: dialect,
		tracer:  observability.NewNoOpTracer(),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	migrator, err := NewMigrator(db, dialect, s.tracer)
	if err != nil {
		return nil, err
	}
	s.migrator = migrator
	return s, nil
}

// Dialect returns the SQL dialect in use.
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// Migrator returns the schema migrator.
func (s *Store) Migrator() *Migrator {
	return s.migrator
}

// Migrate applies pending migrations.
func (s *Store) Migrate(ctx context.Context) error {
	applied, err := s.migrator.MigrateUp(ctx)
	if err != nil {
		return err
	}
	if applied > 0 {
		s.logger.Info("Applied job store migrations",
			zap.String("dialect", s.dialect.Name),
			zap.Int("applied", applied))
	}
	return nil
}

// Create inserts a new job.
func (s *Store) Create(ctx context.Context, job *storage.Job) error {
	ctx, span := s.startSpan(ctx, "create", job.ID)
	defer s.tracer.EndSpan(span)

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO jobs ("+jobColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		job.ID, job.Query, job.AnalysisType, string(job.Status), job.ReportPath, job.Error,
		job.CreatedAt.UnixMilli(), job.UpdatedAt.UnixMilli(),
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

	row := s.db.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM jobs WHERE id = ?", id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get job %s: %w", id, err)
	}
	return job, nil
}

// Update changes a job's status.
func (s *Store) Update(ctx context.Context, id string, u storage.Update) (*storage.Job, error) {
	if err := u.Validate(); err != nil {
		return nil, err
	}
	ctx, span := s.startSpan(ctx, "update", id)
	defer s.tracer.EndSpan(span)

	res, err := s.db.ExecContext(ctx,
		"UPDATE jobs SET status = ?, report_path = ?, error = ?, updated_at = ? WHERE id = ?",
		string(u.Status), u.ReportPath, u.Error, nowMillis(), id,
	)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to update job %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, storage.ErrNotFound
	}
	return s.Get(ctx, id)
}

// List returns the most recent jobs first.
func (s *Store) List(ctx context.Context, limit int) ([]*storage.Job, error) {
	ctx, span := s.startSpan(ctx, "list", "")
	defer s.tracer.EndSpan(span)

	query := "SELECT " + jobColumns + " FROM jobs ORDER BY created_at DESC, id"
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*storage.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// DeleteBefore removes terminal jobs last updated before cutoff.
func (s *Store) DeleteBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	ctx, span := s.startSpan(ctx, "delete_before", "")
	defer s.tracer.EndSpan(span)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const where = " WHERE status IN (?, ?) AND updated_at < ?"
	args := []any{string(storage.StatusCompleted), string(storage.StatusFailed), cutoff.UnixMilli()}

	rows, err := tx.QueryContext(ctx, "SELECT id FROM jobs"+where, args...)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to find expired jobs: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan job id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM jobs"+where, args...); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to delete expired jobs: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	span.SetAttribute("jobs_deleted", len(ids))
	return ids, nil
}

// FailStale marks unfinished jobs last updated before cutoff as failed.
func (s *Store) FailStale(ctx context.Context, cutoff time.Time, reason string) (int, error) {
	ctx, span := s.startSpan(ctx, "fail_stale", "")
	defer s.tracer.EndSpan(span)

	res, err := s.db.ExecContext(ctx,
		"UPDATE jobs SET status = ?, error = ?, updated_at = ? WHERE status IN (?, ?) AND updated_at < ?",
		string(storage.StatusFailed), reason, nowMillis(),
		string(storage.StatusPending), string(storage.StatusInProgress), cutoff.UnixMilli(),
	)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to mark stale jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Backup writes a verified copy of a SQLite database next to it and returns
// its path.
func (s *Store) Backup(ctx context.Context) (string, error) {
	if s.dialect.Name != SQLite.Name || s.path == "" || s.path == ":memory:" {
		return "", fmt.Errorf("backup is only supported for file-backed sqlite stores")
	}
	return backup(ctx, s.db, s.path)
}

func (s *Store) startSpan(ctx context.Context, op, jobID string) (context.Context, *observability.Span) {
	opts := []observability.SpanOption{
		observability.WithAttribute("db.dialect", s.dialect.Name),
		observability.WithAttribute("db.operation", op),
	}
	if jobID != "" {
		opts = append(opts, observability.WithAttribute(observability.AttrJobID, jobID))
	}
	return s.tracer.StartSpan(ctx, observability.SpanStorageQuery, opts...)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*storage.Job, error) {
	var (
		job                  storage.Job
		status               string
		createdAt, updatedAt int64
	)
	if err := row.Scan(&job.ID, &job.Query, &job.AnalysisType, &status,
		&job.ReportPath, &job.Error, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	job.Status = storage.Status(strings.TrimSpace(status))
	job.CreatedAt = time.UnixMilli(createdAt).UTC()
	job.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &job, nil
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

var _ storage.JobStore = (*Store)(nil)
