package kvstore

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTempSQLite(t *testing.T) *SQLite {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "nested", "kv.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// exerciseStore runs the shared Store contract against an implementation.
func exerciseStore(t *testing.T, s Store) {
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "a", "1"))
	require.NoError(t, s.Set(ctx, "b", "2"))
	require.NoError(t, s.Set(ctx, "a", "3"))

	v, ok, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "3", v)

	require.NoError(t, s.Delete(ctx, "a", "b", "never-set"))
	_, ok, err = s.Get(ctx, "b")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Delete(ctx))
}

func TestMemory_Contract(t *testing.T) {
	exerciseStore(t, NewMemory())
}

func TestSQLite_Contract(t *testing.T) {
	exerciseStore(t, openTempSQLite(t))
}

func TestSQLite_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "kv.db")

	s, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "@IRISeller:offlineQueue", `[{"id":"q1"}]`))
	require.NoError(t, s.Close())

	s2, err := Open(ctx, path)
	require.NoError(t, err)
	defer func() { _ = s2.Close() }()

	v, ok, err := s2.Get(ctx, "@IRISeller:offlineQueue")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `[{"id":"q1"}]`, v)
	assert.NoError(t, s2.HealthCheck(ctx))
}

func TestRunMigrations_Error(t *testing.T) {
	orig := gooseUpContext
	t.Cleanup(func() { gooseUpContext = orig })
	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		return errors.New("migration failed")
	}

	_, err := Open(context.Background(), filepath.Join(t.TempDir(), "kv.db"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "migration failed")
}

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	type rec struct {
		ID    string `json:"id"`
		Count int    `json:"count"`
	}

	var out rec
	ok, err := GetJSON(ctx, s, "k", &out)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, SetJSON(ctx, s, "k", rec{ID: "x", Count: 2}))
	ok, err = GetJSON(ctx, s, "k", &out)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, rec{ID: "x", Count: 2}, out)

	require.NoError(t, s.Set(ctx, "bad", "{not json"))
	_, err = GetJSON(ctx, s, "bad", &out)
	assert.Error(t, err)

	assert.Error(t, SetJSON(ctx, s, "chan", make(chan int)))
}

func TestMemory_ClosedAndCanceled(t *testing.T) {
	s := NewMemory()
	require.NoError(t, s.Set(context.Background(), "k", "v"))
	assert.Equal(t, []string{"k"}, s.Keys())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Set(ctx, "k", "v"), context.Canceled)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	_, _, err := s.Get(context.Background(), "k")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Delete(context.Background(), "k"), ErrClosed)
}
