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
package sqlite

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teradata-labs/loom-research/internal/sqlitedriver"
	"github.com/teradata-labs/loom-research/pkg/observability"
	"github.com/teradata-labs/loom-research/pkg/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "jobs.db"), WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func tableExists(t *testing.T, db *sql.DB, tableName string) bool {
	t.Helper()
	var count int
	err := db.QueryRow(SQLite.tableExists, tableName).Scan(&count)
	require.NoError(t, err)
	return count > 0
}

func TestMigrateUp_FreshDB(t *testing.T) {
	db, err := sqlitedriver.Open(filepath.Join(t.TempDir(), "fresh.db"))
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	migrator, err := NewMigrator(db, SQLite, observability.NewNoOpTracer())
	require.NoError(t, err)

	pending, err := migrator.PendingMigrations(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, pending)
	assert.Equal(t, 1, pending[0].Version)
	assert.Equal(t, "create_jobs", pending[0].Description)

	applied, err := migrator.MigrateUp(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(pending), applied)
	assert.True(t, tableExists(t, db, "jobs"))
	assert.True(t, tableExists(t, db, "schema_migrations"))

	// Idempotent.
	applied, err = migrator.MigrateUp(ctx)
	require.NoError(t, err)
	assert.Zero(t, applied)

	version, err := migrator.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, pending[len(pending)-1].Version, version)
}

func TestMigrateDown(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Migrator().MigrateDown(ctx, 1))
	assert.False(t, tableExists(t, s.db, "jobs"))

	version, err := s.Migrator().CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Zero(t, version)

	require.NoError(t, s.Migrate(ctx))
	assert.True(t, tableExists(t, s.db, "jobs"))
}

func TestLoadMigrations_BothDialects(t *testing.T) {
	for _, d := range []Dialect{SQLite, MySQL} {
		t.Run(d.Name, func(t *testing.T) {
			migrations, err := loadMigrations(d.migrationsDir)
			require.NoError(t, err)
			require.NotEmpty(t, migrations)
			for _, m := range migrations {
				assert.NotEmpty(t, m.UpSQL)
				assert.NotEmpty(t, m.DownSQL, "version %d has no down migration", m.Version)
			}
		})
	}
}

func TestSplitStatements(t *testing.T) {
	got := splitStatements("CREATE TABLE a (x INT);\n\n  CREATE INDEX i ON a (x);\n")
	assert.Equal(t, []string{"CREATE TABLE a (x INT)", "CREATE INDEX i ON a (x)"}, got)
	assert.Empty(t, splitStatements("  ;\n"))
}

func TestDialectByName(t *testing.T) {
	d, err := DialectByName("")
	require.NoError(t, err)
	assert.Equal(t, "sqlite", d.Name)

	d, err = DialectByName("mysql")
	require.NoError(t, err)
	assert.Equal(t, "mysql", d.Name)

	_, err = DialectByName("oracle")
	assert.Error(t, err)
}

func TestStore_CreateGetUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := storage.NewJob("EV charging in Kenya", "Industry Report")
	require.NoError(t, s.Create(ctx, job))

	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.Query, got.Query)
	assert.Equal(t, job.AnalysisType, got.AnalysisType)
	assert.Equal(t, storage.StatusPending, got.Status)
	assert.True(t, job.CreatedAt.Equal(got.CreatedAt))

	got, err = s.Update(ctx, job.ID, storage.Update{Status: storage.StatusInProgress})
	require.NoError(t, err)
	assert.Equal(t, storage.StatusInProgress, got.Status)

	// Repeating the same transition still finds the row.
	_, err = s.Update(ctx, job.ID, storage.Update{Status: storage.StatusInProgress})
	require.NoError(t, err)

	got, err = s.Update(ctx, job.ID, storage.Update{
		Status:     storage.StatusCompleted,
		ReportPath: job.ID + "/industry-report.md",
	})
	require.NoError(t, err)
	assert.Equal(t, storage.StatusCompleted, got.Status)
	assert.Equal(t, job.ID+"/industry-report.md", got.ReportPath)
	assert.False(t, got.UpdatedAt.Before(got.CreatedAt))
}

func TestStore_NotFoundAndInvalid(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = s.Update(ctx, "missing", storage.Update{Status: storage.StatusFailed})
	assert.ErrorIs(t, err, storage.ErrNotFound)

	job := storage.NewJob("q", "Barrier Report")
	require.NoError(t, s.Create(ctx, job))
	_, err = s.Update(ctx, job.ID, storage.Update{Status: "done"})
	assert.Error(t, err)

	assert.Error(t, s.Create(ctx, job), "duplicate IDs are rejected")
}

func TestStore_List(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour).UTC().Truncate(time.Millisecond)
	var ids []string
	for i := 0; i < 3; i++ {
		job := storage.NewJob("q", "Competitor Report")
		job.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		job.UpdatedAt = job.CreatedAt
		require.NoError(t, s.Create(ctx, job))
		ids = append(ids, job.ID)
	}

	all, err := s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, ids[2], all[0].ID)
	assert.Equal(t, ids[0], all[2].ID)

	limited, err := s.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestStore_DeleteBeforeAndFailStale(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := time.Now().Add(-48 * time.Hour).UTC().Truncate(time.Millisecond)
	mk := func(status storage.Status, at time.Time) string {
		job := storage.NewJob("q", "Sales Forecast Report")
		job.Status = status
		job.CreatedAt, job.UpdatedAt = at, at
		require.NoError(t, s.Create(ctx, job))
		return job.ID
	}
	oldDone := mk(storage.StatusCompleted, old)
	oldFailed := mk(storage.StatusFailed, old)
	oldRunning := mk(storage.StatusInProgress, old)
	fresh := mk(storage.StatusCompleted, time.Now().UTC())

	cutoff := time.Now().Add(-24 * time.Hour)
	deleted, err := s.DeleteBefore(ctx, cutoff)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{oldDone, oldFailed}, deleted)

	_, err = s.Get(ctx, oldDone)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = s.Get(ctx, fresh)
	assert.NoError(t, err)

	n, err := s.FailStale(ctx, cutoff, "interrupted by restart")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stale, err := s.Get(ctx, oldRunning)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusFailed, stale.Status)
	assert.Equal(t, "interrupted by restart", stale.Error)

	deleted, err = s.DeleteBefore(ctx, cutoff)
	require.NoError(t, err)
	assert.Empty(t, deleted, "a freshly failed job is not yet expired")
}

func TestStore_TracesQueries(t *testing.T) {
	tracer := observability.NewMockTracer()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "traced.db"), WithTracer(tracer))
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()
	require.NoError(t, s.Migrate(ctx))

	_, err = s.Get(ctx, "missing")
	require.ErrorIs(t, err, storage.ErrNotFound)

	assert.Len(t, tracer.GetSpansByName(observability.SpanStorageMigrate), 1)
	spans := tracer.GetSpansByName(observability.SpanStorageQuery)
	require.Len(t, spans, 1)
	op, _ := spans[0].Attribute("db.operation")
	assert.Equal(t, "get", op)
}

func TestStore_Backup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	job := storage.NewJob("q", "Industry Report")
	require.NoError(t, s.Create(ctx, job))

	backupPath, err := s.Backup(ctx)
	require.NoError(t, err)
	assert.True(t, strings.Contains(backupPath, ".backup."))
	require.NoError(t, VerifyBackup(backupPath))

	copyDB, err := sql.Open(sqlitedriver.DriverName, backupPath)
	require.NoError(t, err)
	defer copyDB.Close()
	var id string
	require.NoError(t, copyDB.QueryRow("SELECT id FROM jobs").Scan(&id))
	assert.Equal(t, job.ID, id)
}

func TestVerifyBackup_InvalidFile(t *testing.T) {
	invalidPath := filepath.Join(t.TempDir(), "invalid.db")
	require.NoError(t, os.WriteFile(invalidPath, []byte("this is not a sqlite database"), 0o644))
	assert.Error(t, VerifyBackup(invalidPath))
	assert.Error(t, VerifyBackup(filepath.Join(t.TempDir(), "missing.db")))
}
