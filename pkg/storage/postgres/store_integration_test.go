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
//go:build integration

package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teradata-labs/loom-research/internal/pgxdriver"
	"github.com/teradata-labs/loom-research/pkg/storage"
)

// testStore connects to the integration PostgreSQL instance and migrates it.
func testStore(t *testing.T) *Store {
	t.Helper()

	dsn := os.Getenv("TEST_POSTGRES_URL")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_URL not set; skipping PostgreSQL integration test")
	}

	ctx := context.Background()
	s, err := Open(ctx, pgxdriver.Config{DSN: dsn}, nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(ctx))
	t.Cleanup(func() {
		_, _ = s.pool.Exec(context.Background(), "DELETE FROM jobs")
		_ = s.Close()
	})
	return s
}

func TestStore_Lifecycle(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	job := storage.NewJob("EV charging in Kenya", "Industry Report")
	require.NoError(t, s.Create(ctx, job))

	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusPending, got.Status)

	got, err = s.Update(ctx, job.ID, storage.Update{Status: storage.StatusCompleted, ReportPath: "x/industry-report.md"})
	require.NoError(t, err)
	assert.Equal(t, "x/industry-report.md", got.ReportPath)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = s.Update(ctx, "missing", storage.Update{Status: storage.StatusFailed})
	assert.ErrorIs(t, err, storage.ErrNotFound)

	jobs, err := s.List(ctx, 10)
	require.NoError(t, err)
	assert.NotEmpty(t, jobs)
}

func TestStore_RetentionAndStale(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	old := time.Now().Add(-48 * time.Hour).UTC()
	done := storage.NewJob("q", "Barrier Report")
	done.Status, done.CreatedAt, done.UpdatedAt = storage.StatusCompleted, old, old
	running := storage.NewJob("q", "Barrier Report")
	running.Status, running.CreatedAt, running.UpdatedAt = storage.StatusInProgress, old, old
	require.NoError(t, s.Create(ctx, done))
	require.NoError(t, s.Create(ctx, running))

	cutoff := time.Now().Add(-24 * time.Hour)
	ids, err := s.DeleteBefore(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, []string{done.ID}, ids)

	n, err := s.FailStale(ctx, cutoff, "interrupted")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
