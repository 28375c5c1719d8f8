package kv

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	key := Key("sess-1", "funnel_state")

	_, err := s.Get(ctx, key)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set(ctx, key, []byte(`{"answers":[]}`)))
	got, err := s.Get(ctx, key)
	require.NoError(t, err)
	require.JSONEq(t, `{"answers":[]}`, string(got))

	require.NoError(t, s.Set(ctx, key, []byte(`{"answers":[],"gender":"MUJER"}`)))
	got, err = s.Get(ctx, key)
	require.NoError(t, err)
	require.JSONEq(t, `{"answers":[],"gender":"MUJER"}`, string(got))

	other := Key("sess-2", "funnel_state")
	_, err = s.Get(ctx, other)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Delete(ctx, key))
	_, err = s.Get(ctx, key)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Delete(ctx, key), "deleting a missing key is not an error")
}

func TestMemory(t *testing.T) {
	exerciseStore(t, NewMemory())
}

func TestMemoryCopiesValues(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	buf := []byte("50")
	require.NoError(t, m.Set(ctx, "k", buf))
	buf[0] = '4'
	got, err := m.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, "50", string(got))
}

func TestMemoryHonorsCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, NewMemory().Set(ctx, "k", nil), context.Canceled)
}

func TestSQLite(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "funnel.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	exerciseStore(t, s)
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "funnel.db")
	ctx := context.Background()

	s, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "sess:spots_left", []byte("42")))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	got, err := s.Get(ctx, "sess:spots_left")
	require.NoError(t, err)
	require.Equal(t, "42", string(got))
}

func TestOpenSQLiteRequiresPath(t *testing.T) {
	_, err := OpenSQLite("  ")
	require.Error(t, err)
}

var (
	_ Store = (*Memory)(nil)
	_ Store = (*SQLite)(nil)
	_ Store = (*Redis)(nil)
	_ Store = (*Firebase)(nil)
)
