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

import "fmt"

// Dialect holds the statements that differ between SQLite and MySQL. Both
// use "?" placeholders and store timestamps as Unix milliseconds.
type Dialect struct {
	Name string

	migrationsDir    string
	tableExists      string
	createMigrations string
	recordMigration  string
}

// SQLite is the embedded single-file dialect.
var SQLite = Dialect{
	Name:          "sqlite",
	migrationsDir: "migrations/sqlite",
	tableExists:   "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?",
	createMigrations: `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at INTEGER NOT NULL,
		description TEXT
	)`,
	recordMigration: "INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?) ON CONFLICT (version) DO NOTHING",
}

// MySQL is the shared-server dialect served by go-sql-driver/mysql.
var MySQL = Dialect{
	Name:          "mysql",
	migrationsDir: "migrations/mysql",
	tableExists:   "SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name = ?",
	createMigrations: `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INT NOT NULL PRIMARY KEY,
		applied_at BIGINT NOT NULL,
		description VARCHAR(255)
	)`,
	recordMigration: "INSERT IGNORE INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)",
}

// DialectByName returns the dialect called name.
func DialectByName(name string) (Dialect, error) {
	switch name {
	case "", SQLite.Name:
		return SQLite, nil
	case MySQL.Name:
		return MySQL, nil
	}
	return Dialect{}, fmt.Errorf("unsupported sql dialect %q", name)
}
