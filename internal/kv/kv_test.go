package kv

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetGetRoundTrip(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "capacity", "20"))

	got, found, err := s.Get(ctx, "capacity")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "20", got)
}

func TestGetMissingKey(t *testing.T) {
	s := setupTestStore(t)

	got, found, err := s.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, got)
}

func TestGetDefault(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	got, err := s.GetDefault(ctx, "thumb_max_dim", "256")
	require.NoError(t, err)
	assert.Equal(t, "256", got)

	require.NoError(t, s.Set(ctx, "thumb_max_dim", "320"))
	got, err = s.GetDefault(ctx, "thumb_max_dim", "256")
	require.NoError(t, err)
	assert.Equal(t, "320", got)
}

func TestSetReplacesExistingValue(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "history", `[]`))
	require.NoError(t, s.Set(ctx, "history", `[{"id":"x"}]`))

	got, found, err := s.Get(ctx, "history")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, `[{"id":"x"}]`, got)
}

func TestDelete(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "stale", "value"))
	require.NoError(t, s.Delete(ctx, "stale"))

	_, found, err := s.Get(ctx, "stale")
	require.NoError(t, err)
	assert.False(t, found)

	// Deleting an absent key is a no-op.
	assert.NoError(t, s.Delete(ctx, "stale"))
}

func TestLargeValueSurvives(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	big := make([]byte, 1<<20)
	for i := range big {
		big[i] = byte('a' + i%26)
	}
	require.NoError(t, s.Set(ctx, "history", string(big)))

	got, found, err := s.Get(ctx, "history")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, string(big), got)
}

func TestOpenCreatesDatabaseOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vestige.db")

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "k", "v"))
	got, found, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "v", got)
}

func TestReopenSeesPersistedData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vestige.db")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Set(context.Background(), "capacity", "7"))
	require.NoError(t, s.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	got, found, err := s2.Get(context.Background(), "capacity")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "7", got)
}
