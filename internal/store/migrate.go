package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/inboxhunter/inboxhunter/internal/model"
)

type column struct {
	table string
	name  string
	decl  string
}

// migration is one additive schema step. Statements use IF NOT EXISTS and
// columns are added only when missing, so a step can be applied to a
// database that already has parts of it.
type migration struct {
	version int
	name    string
	tables  []string
	columns []column
	indexes []string
}

var migrations = []migration{
	{
		version: 1,
		name:    "base tables",
		tables: []string{
			`CREATE TABLE IF NOT EXISTS processed_urls (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				url TEXT NOT NULL UNIQUE,
				source TEXT DEFAULT 'unknown',
				status TEXT NOT NULL,
				fields_filled TEXT,
				error_message TEXT,
				processed_at DATETIME DEFAULT CURRENT_TIMESTAMP
			)`,
			`CREATE TABLE IF NOT EXISTS scraped_urls (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				url TEXT NOT NULL UNIQUE,
				ad_id TEXT,
				advertiser TEXT,
				scraped_at DATETIME DEFAULT CURRENT_TIMESTAMP,
				processed INTEGER DEFAULT 0
			)`,
			`CREATE TABLE IF NOT EXISTS api_sessions (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				session_start DATETIME DEFAULT CURRENT_TIMESTAMP,
				model TEXT NOT NULL,
				input_tokens INTEGER DEFAULT 0,
				output_tokens INTEGER DEFAULT 0,
				cost TEXT DEFAULT '0.0',
				api_calls INTEGER DEFAULT 0
			)`,
		},
		indexes: []string{
			`CREATE INDEX IF NOT EXISTS idx_processed_url ON processed_urls(url)`,
			`CREATE INDEX IF NOT EXISTS idx_processed_status ON processed_urls(status)`,
			`CREATE INDEX IF NOT EXISTS idx_scraped_url ON scraped_urls(url)`,
			`CREATE INDEX IF NOT EXISTS idx_scraped_processed ON scraped_urls(processed)`,
			`CREATE INDEX IF NOT EXISTS idx_api_sessions_model ON api_sessions(model)`,
		},
	},
	{
		version: 2,
		name:    "error categories",
		columns: []column{
			{table: "processed_urls", name: "error_category", decl: "TEXT"},
			{table: "processed_urls", name: "details", decl: "TEXT"},
		},
		indexes: []string{
			`CREATE INDEX IF NOT EXISTS idx_processed_category ON processed_urls(error_category)`,
		},
	},
	{
		version: 3,
		name:    "attempt evidence",
		columns: []column{
			{table: "processed_urls", name: "screenshot_path", decl: "TEXT"},
			{table: "processed_urls", name: "confirmation_data", decl: "TEXT"},
			{table: "processed_urls", name: "network_data", decl: "TEXT"},
		},
	},
}

// LatestSchemaVersion is the version a freshly opened store ends up with.
var LatestSchemaVersion = migrations[len(migrations)-1].version

func migrate(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TEXT NOT NULL
		)`,
	)
	if err != nil {
		return fmt.Errorf("%w: creating schema_migrations: %w", model.ErrSchema, err)
	}

	for _, m := range migrations {
		if err := apply(ctx, db, m); err != nil {
			return fmt.Errorf("%w: migration %d (%s): %w", model.ErrSchema, m.version, m.name, err)
		}
	}
	return nil
}

func apply(ctx context.Context, db *sql.DB, m migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer rollback(ctx, tx, "migrate")

	var applied int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, m.version,
	).Scan(&applied)
	if err != nil {
		return err
	}
	if applied > 0 {
		return nil
	}

	for _, stmt := range m.tables {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	for _, c := range m.columns {
		ok, err := hasColumn(ctx, tx, c.table, c.name)
		if err != nil {
			return err
		}
		if ok {
			continue
		}
		stmt := fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s %s`, c.table, c.name, c.decl)
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	for _, stmt := range m.indexes {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)`,
		m.version, m.name, formatTime(time.Now()),
	)
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction failed: %w", err)
	}
	slog.DebugContext(ctx, "schema migration applied", "version", m.version, "name", m.name)
	return nil
}

func hasColumn(ctx context.Context, tx *sql.Tx, table, name string) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`, table, name,
	).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
