package state

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := NewStore(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func TestUnchanged_NeverSeen(t *testing.T) {
	store := newTestStore(t)

	unchanged, err := store.Unchanged(context.Background(), "doc-1", time.Now())
	require.NoError(t, err)
	assert.False(t, unchanged)
}

func TestUnchanged_SameInstant(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	modified := time.Date(2024, 5, 20, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.Record(ctx, "doc-1", "drive_item", modified, "crawl-a"))

	unchanged, err := store.Unchanged(ctx, "doc-1", modified)
	require.NoError(t, err)
	assert.True(t, unchanged)
}

func TestUnchanged_ModifiedUpstream(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	modified := time.Date(2024, 5, 20, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.Record(ctx, "doc-1", "drive_item", modified, "crawl-a"))

	unchanged, err := store.Unchanged(ctx, "doc-1", modified.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, unchanged)
}

func TestUnchanged_ZeroTimeNeverUnchanged(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Record(ctx, "doc-1", "site_collection", time.Time{}, "crawl-a"))

	unchanged, err := store.Unchanged(ctx, "doc-1", time.Time{})
	require.NoError(t, err)
	assert.False(t, unchanged, "documents without a modification instant are always re-emitted")
}

func TestUnchanged_TimezoneNormalized(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	loc := time.FixedZone("UTC+2", 2*60*60)
	modified := time.Date(2024, 5, 20, 14, 0, 0, 0, loc)

	require.NoError(t, store.Record(ctx, "doc-1", "drive_item", modified, "crawl-a"))

	unchanged, err := store.Unchanged(ctx, "doc-1", modified.UTC())
	require.NoError(t, err)
	assert.True(t, unchanged)
}

func TestRecord_Upsert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	first := time.Date(2024, 5, 20, 12, 0, 0, 0, time.UTC)
	second := first.Add(24 * time.Hour)

	require.NoError(t, store.Record(ctx, "doc-1", "drive_item", first, "crawl-a"))
	require.NoError(t, store.Record(ctx, "doc-1", "drive_item", second, "crawl-b"))

	unchanged, err := store.Unchanged(ctx, "doc-1", first)
	require.NoError(t, err)
	assert.False(t, unchanged)

	unchanged, err = store.Unchanged(ctx, "doc-1", second)
	require.NoError(t, err)
	assert.True(t, unchanged)
}

func TestNewStore_FileDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")

	store, err := NewStore(path, nil)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	// Reopening must find the already-applied schema.
	store, err = NewStore(path, nil)
	require.NoError(t, err)
	require.NoError(t, store.Close())
}
