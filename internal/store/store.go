// Package store implements the persistent store (C5): SQLite-backed
// position/order history with transactional writes and a forward-only
// migration chain, grounded in
// original_source/trading/persistence_sqlite.py and db_migrations.py and
// using the same database/sql + zerolog idiom as seen in
// web3guy0-polybot/storage/database.go) rather than an ORM — a migration
// contract needing BEGIN IMMEDIATE control does not sit well under
// gorm.io/gorm's AutoMigrate (see DESIGN.md).
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// DefaultPositionID is the key used when the caller does not track
// multiple positions under distinct IDs (backward-compat with the
// original's single-position "position" default).
const DefaultPositionID = "position"

// Store wraps a SQLite connection pool pinned to a single connection —
// SQLite serializes writers anyway, and BEGIN IMMEDIATE transactions
// issued as raw Exec calls (see migrations.go) require every statement in
// a transaction to land on the same underlying connection.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// Open creates (if needed) the parent directory, opens the database file,
// applies all pending migrations, and returns a ready Store.
func Open(path string, log zerolog.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: create data dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := ApplyMigrations(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, log: log}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error { return s.db.Close() }

// SavePosition upserts a position's JSON-encoded state, matching the
// original's dual-write to positions and the legacy kv table.
func (s *Store) SavePosition(positionID string, data []byte) error {
	return runInTx(s.db, func(ex execer) error {
		if _, err := ex.Exec(
			`INSERT OR REPLACE INTO positions(position_id, value, updated_at) VALUES (?, ?, strftime('%s','now'))`,
			positionID, string(data),
		); err != nil {
			return err
		}
		_, err := ex.Exec(
			`INSERT OR REPLACE INTO kv(key, value, updated_at) VALUES (?, ?, strftime('%s','now'))`,
			positionID, string(data),
		)
		return err
	})
}

// LoadPosition returns the raw JSON state for a position, falling back to
// the legacy kv table, or nil if there is none.
func (s *Store) LoadPosition(positionID string) ([]byte, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM positions WHERE position_id = ?`, positionID).Scan(&value)
	if err == nil {
		return []byte(value), nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("store: load position %s: %w", positionID, err)
	}
	err = s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, positionID).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: load legacy position %s: %w", positionID, err)
	}
	return []byte(value), nil
}

// ListPositions returns all known position IDs.
func (s *Store) ListPositions() ([]string, error) {
	rows, err := s.db.Query(`SELECT position_id FROM positions`)
	if err != nil {
		return nil, fmt.Errorf("store: list positions: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeletePosition removes a position's row (used after position close).
func (s *Store) DeletePosition(positionID string) error {
	return runInTx(s.db, func(ex execer) error {
		_, err := ex.Exec(`DELETE FROM positions WHERE position_id = ?`, positionID)
		return err
	})
}

// OrderRecord is a persisted order row, joining the venue-facing order
// JSON with its store-tracked lifecycle state.
type OrderRecord struct {
	OrderID    string
	PositionID string
	State      string
	Value      json.RawMessage
}

// SaveOrder upserts an order's state, preserving its original created_at
// on repeated saves.
func (s *Store) SaveOrder(orderID, positionID string, data []byte, state string) error {
	return runInTx(s.db, func(ex execer) error {
		_, err := ex.Exec(
			`INSERT INTO orders(order_id, position_id, value, state, created_at, updated_at)
			 VALUES (?, ?, ?, ?, strftime('%s','now'), strftime('%s','now'))
			 ON CONFLICT(order_id) DO UPDATE SET
				position_id = excluded.position_id,
				value = excluded.value,
				state = excluded.state,
				updated_at = strftime('%s','now')`,
			orderID, positionID, string(data), state,
		)
		return err
	})
}

// GetOrder returns a single order record, or nil if unknown.
func (s *Store) GetOrder(orderID string) (*OrderRecord, error) {
	var rec OrderRecord
	var value string
	err := s.db.QueryRow(
		`SELECT order_id, position_id, value, state FROM orders WHERE order_id = ?`, orderID,
	).Scan(&rec.OrderID, &rec.PositionID, &value, &rec.State)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get order %s: %w", orderID, err)
	}
	rec.Value = json.RawMessage(value)
	return &rec, nil
}

// ListOrders returns every order recorded against a position.
func (s *Store) ListOrders(positionID string) ([]OrderRecord, error) {
	rows, err := s.db.Query(
		`SELECT order_id, position_id, value, state FROM orders WHERE position_id = ?`, positionID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list orders for %s: %w", positionID, err)
	}
	defer rows.Close()
	var out []OrderRecord
	for rows.Next() {
		var rec OrderRecord
		var value string
		if err := rows.Scan(&rec.OrderID, &rec.PositionID, &value, &rec.State); err != nil {
			return nil, err
		}
		rec.Value = json.RawMessage(value)
		out = append(out, rec)
	}
	return out, rows.Err()
}
