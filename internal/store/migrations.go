package store

import (
	"database/sql"
	"fmt"
)

// execer is satisfied by *sql.DB; migrations run their statements through
// it directly rather than via *sql.Tx, because database/sql's Tx gives no
// way to customize the BEGIN statement and this store needs BEGIN
// IMMEDIATE (see runInTx).
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

// migration is a forward schema step with an optional inverse. Grounded in
// original_source/trading/db_migrations.py's MIGRATIONS/MIGRATION_DOWNS
// registry, translated to Go's numbered-function idiom.
type migration struct {
	version int
	up      func(execer) error
	down    func(execer) error // nil if irreversible
}

var migrations = []migration{
	{
		version: 1,
		up: func(ex execer) error {
			stmts := []string{
				`CREATE TABLE IF NOT EXISTS positions (
					position_id TEXT PRIMARY KEY,
					value TEXT NOT NULL,
					updated_at INTEGER NOT NULL
				)`,
				`CREATE TABLE IF NOT EXISTS orders (
					order_id TEXT PRIMARY KEY,
					position_id TEXT,
					value TEXT NOT NULL,
					state TEXT,
					created_at INTEGER NOT NULL,
					updated_at INTEGER NOT NULL
				)`,
				`CREATE TABLE IF NOT EXISTS kv (
					key TEXT PRIMARY KEY,
					value TEXT NOT NULL,
					updated_at INTEGER NOT NULL
				)`,
			}
			for _, s := range stmts {
				if _, err := ex.Exec(s); err != nil {
					return err
				}
			}
			return nil
		},
		down: func(ex execer) error {
			for _, s := range []string{
				`DROP TABLE IF EXISTS orders`,
				`DROP TABLE IF EXISTS positions`,
				`DROP TABLE IF EXISTS kv`,
			} {
				if _, err := ex.Exec(s); err != nil {
					return err
				}
			}
			return nil
		},
	},
	{
		version: 2,
		up: func(ex execer) error {
			for _, s := range []string{
				`CREATE INDEX IF NOT EXISTS idx_positions_id ON positions(position_id)`,
				`CREATE INDEX IF NOT EXISTS idx_orders_position_id ON orders(position_id)`,
				`CREATE INDEX IF NOT EXISTS idx_orders_state ON orders(state)`,
			} {
				if _, err := ex.Exec(s); err != nil {
					return err
				}
			}
			return nil
		},
		down: func(ex execer) error {
			for _, s := range []string{
				`DROP INDEX IF EXISTS idx_positions_id`,
				`DROP INDEX IF EXISTS idx_orders_position_id`,
				`DROP INDEX IF EXISTS idx_orders_state`,
			} {
				if _, err := ex.Exec(s); err != nil {
					return err
				}
			}
			return nil
		},
	},
	{
		version: 3,
		up: func(ex execer) error {
			_, err := ex.Exec(`CREATE TABLE IF NOT EXISTS schema_version_notes (
				version INTEGER PRIMARY KEY,
				note TEXT NOT NULL
			)`)
			if err != nil {
				return err
			}
			_, err = ex.Exec(`INSERT OR REPLACE INTO schema_version_notes(version, note) VALUES (3, 'portfolio rebalance support added in application layer, no schema change required')`)
			return err
		},
		// Irreversible by design: dropping schema_version_notes would lose
		// the audit trail of why this version exists.
		down: nil,
	},
}

// ApplyMigrations runs every migration not yet recorded in
// schema_migrations, each inside its own BEGIN IMMEDIATE transaction
// (spec.md §4.5 — persistence writes are always transactional). Returns
// the versions applied, in order; an empty, non-nil slice means the
// schema was already current (idempotent re-apply, P7).
func ApplyMigrations(db *sql.DB) ([]int, error) {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at TEXT NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("store: create schema_migrations: %w", err)
	}

	applied := make(map[int]bool)
	rows, err := db.Query(`SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("store: read schema_migrations: %w", err)
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return nil, err
		}
		applied[v] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	appliedNow := []int{}
	for _, m := range migrations {
		if applied[m.version] {
			continue
		}
		if err := runInTx(db, func(ex execer) error {
			if err := m.up(ex); err != nil {
				return err
			}
			_, err := ex.Exec(`INSERT INTO schema_migrations(version, applied_at) VALUES (?, strftime('%Y-%m-%dT%H:%M:%fZ','now'))`, m.version)
			return err
		}); err != nil {
			return appliedNow, fmt.Errorf("store: apply migration %d: %w", m.version, err)
		}
		appliedNow = append(appliedNow, m.version)
	}
	return appliedNow, nil
}

// RollbackLast reverses the highest applied migration version. It returns
// an error, rolling nothing back, if that version has no registered down
// migration; it returns 0, nil if no migration has been applied.
func RollbackLast(db *sql.DB) (int, error) {
	var version int
	err := db.QueryRow(`SELECT version FROM schema_migrations ORDER BY version DESC LIMIT 1`).Scan(&version)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("store: read latest migration: %w", err)
	}

	var m *migration
	for i := range migrations {
		if migrations[i].version == version {
			m = &migrations[i]
			break
		}
	}
	if m == nil || m.down == nil {
		return 0, fmt.Errorf("store: no down migration registered for version %d", version)
	}

	if err := runInTx(db, func(ex execer) error {
		if err := m.down(ex); err != nil {
			return err
		}
		_, err := ex.Exec(`DELETE FROM schema_migrations WHERE version = ?`, version)
		return err
	}); err != nil {
		return 0, fmt.Errorf("store: rollback migration %d: %w", version, err)
	}
	return version, nil
}

// runInTx wraps fn in a BEGIN IMMEDIATE transaction executed directly
// against db. database/sql's *sql.Tx gives no way to customize the BEGIN
// statement, so — matching original_source/trading/persistence_sqlite.py's
// conn.execute("BEGIN IMMEDIATE") — the transaction is driven with raw
// Exec calls; Open (store.go) pins the pool to a single connection so
// this never interleaves with another goroutine's transaction.
func runInTx(db *sql.DB, fn func(execer) error) error {
	if _, err := db.Exec(`BEGIN IMMEDIATE`); err != nil {
		return fmt.Errorf("store: begin immediate: %w", err)
	}
	if err := fn(db); err != nil {
		_, _ = db.Exec(`ROLLBACK`)
		return err
	}
	if _, err := db.Exec(`COMMIT`); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}
