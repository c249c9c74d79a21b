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

// Package backend opens the configured job store. It sits above the
// driver-specific packages so they can depend on pkg/storage without cycles.
package backend

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/teradata-labs/loom-research/internal/pgxdriver"
	"github.com/teradata-labs/loom-research/pkg/observability"
	"github.com/teradata-labs/loom-research/pkg/storage"
	"github.com/teradata-labs/loom-research/pkg/storage/postgres"
	"github.com/teradata-labs/loom-research/pkg/storage/sqlite"
)

// Backend types.
const (
	TypeSQLite   = "sqlite"
	TypeMySQL    = "mysql"
	TypePostgres = "postgres"
)

// Config selects and configures the job store.
type Config struct {
	Backend string `mapstructure:"backend"`
	// Path is the SQLite database file.
	Path string `mapstructure:"path"`
	// DSN is the MySQL data source name.
	DSN string `mapstructure:"dsn"`

	Postgres pgxdriver.Config `mapstructure:"postgres"`
	// AutoMigrate applies pending migrations on open.
	AutoMigrate bool `mapstructure:"auto_migrate"`
}

// DefaultConfig returns an auto-migrated SQLite store at research.db.
func DefaultConfig() Config {
	return Config{
		Backend:     TypeSQLite,
		Path:        "research.db",
		AutoMigrate: true,
	}
}

// Validate checks that the selected backend has what it needs.
func (c Config) Validate() error {
	switch c.Backend {
	case "", TypeSQLite:
		if c.Path == "" {
			return fmt.Errorf("storage.path is required for the sqlite backend")
		}
	case TypeMySQL:
		if c.DSN == "" {
			return fmt.Errorf("storage.dsn is required for the mysql backend")
		}
	case TypePostgres:
		if c.Postgres.DSN == "" && (c.Postgres.Host == "" || c.Postgres.Database == "") {
			return fmt.Errorf("storage.postgres requires dsn or host+database")
		}
	default:
		return fmt.Errorf("unsupported storage backend %q", c.Backend)
	}
	return nil
}

// Store is a job store that can also migrate its schema.
type Store interface {
	storage.JobStore
	Migrate(ctx context.Context) error
}

// Open opens the configured store and, with AutoMigrate, migrates it.
func Open(ctx context.Context, cfg Config, tracer observability.Tracer, logger *zap.Logger) (Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		store Store
		err   error
	)
	switch cfg.Backend {
	case "", TypeSQLite:
		store, err = sqlite.OpenSQLite(cfg.Path, sqlite.WithTracer(tracer), sqlite.WithLogger(logger))
	case TypeMySQL:
		store, err = sqlite.OpenMySQL(cfg.DSN, sqlite.WithTracer(tracer), sqlite.WithLogger(logger))
	case TypePostgres:
		store, err = postgres.Open(ctx, cfg.Postgres, tracer, logger)
	}
	if err != nil {
		return nil, err
	}

	if cfg.AutoMigrate {
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to migrate job store: %w", err)
		}
	}

	logger.Info("Job store opened", zap.String("backend", backendName(cfg.Backend)))
	return store, nil
}

func backendName(b string) string {
	if b == "" {
		return TypeSQLite
	}
	return b
}
