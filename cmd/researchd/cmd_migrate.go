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

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/teradata-labs/loom-research/pkg/observability"
	"github.com/teradata-labs/loom-research/pkg/storage/backend"
	"github.com/teradata-labs/loom-research/pkg/storage/postgres"
	"github.com/teradata-labs/loom-research/pkg/storage/sqlite"
)

var (
	migrateBackup bool
	migrateDown   int
	migrateStatus bool
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply job store schema migrations",
	Long: `Apply pending schema migrations to the configured job store.

With --backup a file-backed SQLite store is copied before migrating.
With --down N the last N migrations are rolled back instead.`,
	RunE: runMigrate,
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateBackup, "backup", false, "back up a SQLite store before migrating")
	migrateCmd.Flags().IntVar(&migrateDown, "down", 0, "roll back this many migrations")
	migrateCmd.Flags().BoolVar(&migrateStatus, "status", false, "print the schema version and pending migrations")
}

// versioner is the migrator surface shared by the SQL backends.
type versioner interface {
	CurrentVersion(ctx context.Context) (int, error)
	MigrateDown(ctx context.Context, steps int) error
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	if err := config.Storage.Validate(); err != nil {
		return err
	}
	logger, err := NewLogger(config.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx := cmd.Context()
	cfg := config.Storage
	cfg.AutoMigrate = false
	store, err := backend.Open(ctx, cfg, observability.NewNoOpTracer(), logger)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	var (
		m       versioner
		pending int
	)
	switch s := store.(type) {
	case *sqlite.Store:
		m = s.Migrator()
		list, err := s.Migrator().PendingMigrations(ctx)
		if err != nil {
			return err
		}
		pending = len(list)
		if migrateBackup {
			path, err := s.Backup(ctx)
			if err != nil {
				return fmt.Errorf("backup failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Backup written to %s\n", path)
		}
	case *postgres.Store:
		m = s.Migrator()
		list, err := s.Migrator().PendingMigrations(ctx)
		if err != nil {
			return err
		}
		pending = len(list)
		if migrateBackup {
			return fmt.Errorf("--backup is only supported for the sqlite backend")
		}
	default:
		return fmt.Errorf("unsupported store type %T", store)
	}

	if migrateStatus {
		version, err := m.CurrentVersion(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Schema version: %d\nPending migrations: %d\n", version, pending)
		return nil
	}

	if migrateDown > 0 {
		if err := m.MigrateDown(ctx, migrateDown); err != nil {
			return err
		}
		logger.Info("Migrations rolled back", zap.Int("steps", migrateDown))
		return nil
	}

	if err := store.Migrate(ctx); err != nil {
		return err
	}
	version, err := m.CurrentVersion(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Job store at schema version %d\n", version)
	return nil
}
