package store

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tstopd.db")
	s, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_AppliesMigrationsIdempotently(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tstopd.db")
	s1, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	s1.Close()

	// P7: re-opening an already-migrated database applies nothing new and
	// does not error.
	s2, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	defer s2.Close()

	applied, err := ApplyMigrations(s2.db)
	require.NoError(t, err)
	require.Empty(t, applied)
}

func TestSaveAndLoadPosition_RoundTrips(t *testing.T) {
	s := newTestStore(t)
	data := []byte(`{"entry_price":"100"}`)
	require.NoError(t, s.SavePosition("pos-1", data))

	loaded, err := s.LoadPosition("pos-1")
	require.NoError(t, err)
	require.JSONEq(t, string(data), string(loaded))
}

func TestLoadPosition_FallsBackToLegacyKV(t *testing.T) {
	s := newTestStore(t)
	_, err := s.db.Exec(`INSERT INTO kv(key, value, updated_at) VALUES (?, ?, strftime('%s','now'))`,
		"legacy-pos", `{"entry_price":"50"}`)
	require.NoError(t, err)

	loaded, err := s.LoadPosition("legacy-pos")
	require.NoError(t, err)
	require.JSONEq(t, `{"entry_price":"50"}`, string(loaded))
}

func TestLoadPosition_UnknownReturnsNil(t *testing.T) {
	s := newTestStore(t)
	loaded, err := s.LoadPosition("nope")
	require.NoError(t, err)
	require.Nil(t, loaded)
}

func TestListPositions(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SavePosition("a", []byte(`{}`)))
	require.NoError(t, s.SavePosition("b", []byte(`{}`)))

	ids, err := s.ListPositions()
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a", "b"}, ids)
}

func TestSaveOrder_PreservesCreatedAtAcrossUpdates(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SaveOrder("ord-1", "pos-1", []byte(`{"price":"100"}`), "open"))

	var firstCreatedAt int64
	require.NoError(t, s.db.QueryRow(`SELECT created_at FROM orders WHERE order_id = ?`, "ord-1").Scan(&firstCreatedAt))

	require.NoError(t, s.SaveOrder("ord-1", "pos-1", []byte(`{"price":"100"}`), "filled"))

	rec, err := s.GetOrder("ord-1")
	require.NoError(t, err)
	require.Equal(t, "filled", rec.State)

	var secondCreatedAt int64
	require.NoError(t, s.db.QueryRow(`SELECT created_at FROM orders WHERE order_id = ?`, "ord-1").Scan(&secondCreatedAt))
	require.Equal(t, firstCreatedAt, secondCreatedAt)
}

func TestListOrders_FiltersByPosition(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SaveOrder("ord-1", "pos-1", []byte(`{}`), "open"))
	require.NoError(t, s.SaveOrder("ord-2", "pos-2", []byte(`{}`), "open"))

	orders, err := s.ListOrders("pos-1")
	require.NoError(t, err)
	require.Len(t, orders, 1)
	require.Equal(t, "ord-1", orders[0].OrderID)
}

func TestGetOrder_UnknownReturnsNil(t *testing.T) {
	s := newTestStore(t)
	rec, err := s.GetOrder("nope")
	require.NoError(t, err)
	require.Nil(t, rec)
}

func TestRollbackLast_RefusesIrreversibleLatestMigration(t *testing.T) {
	s := newTestStore(t)
	// Migration 3, the latest, has no down migration, so RollbackLast
	// errors and rolls nothing back, confirming the irreversible guard.
	v, err := RollbackLast(s.db)
	require.Error(t, err)
	require.Equal(t, 0, v)
}

func TestDeletePosition(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SavePosition("pos-1", []byte(`{}`)))
	require.NoError(t, s.DeletePosition("pos-1"))

	ids, err := s.ListPositions()
	require.NoError(t, err)
	require.NotContains(t, ids, "pos-1")
}
