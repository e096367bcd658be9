package persist

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.klb.dev/vestige/internal/entry"
	"go.klb.dev/vestige/internal/kv"
	"go.klb.dev/vestige/internal/resource"
	"go.klb.dev/vestige/internal/textpolicy"
)

func openTestKV(t *testing.T) *kv.Store {
	t.Helper()
	s, err := kv.Open(filepath.Join(t.TempDir(), "vestige.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleEntries() []entry.Entry {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return []entry.Entry{
		{
			ID:        "b",
			Kind:      entry.KindImage,
			Signature: entry.Signature("sig-img"),
			CreatedAt: at.Add(time.Second),
			ImageRef:  "b.png",
			ThumbRef:  "b-thumb.jpg",
			Width:     640,
			Height:    480,
		},
		{
			ID:           "a",
			Kind:         entry.KindText,
			Signature:    entry.Signature("sig-txt"),
			CreatedAt:    at,
			Compressed:   true,
			Blob:         []byte{0x1f, 0x8b, 0x08, 0x00},
			OriginalSize: 50000,
			Truncated:    true,
		},
	}
}

func TestHistoryRoundTrip(t *testing.T) {
	kvs := openTestKV(t)
	ctx := context.Background()
	want := sampleEntries()

	require.NoError(t, SaveHistory(ctx, kvs, want))
	got := LoadHistory(ctx, kvs)

	assert.Equal(t, want, got)
}

func TestLoadHistoryMissingKey(t *testing.T) {
	kvs := openTestKV(t)
	assert.Nil(t, LoadHistory(context.Background(), kvs))
}

func TestLoadHistoryCorruptSnapshot(t *testing.T) {
	kvs := openTestKV(t)
	ctx := context.Background()

	require.NoError(t, kvs.Set(ctx, KeyHistory, "{definitely not json"))
	assert.Nil(t, LoadHistory(ctx, kvs))
}

func TestAdapterPersistsThroughKV(t *testing.T) {
	kvs := openTestKV(t)
	want := sampleEntries()

	NewAdapter(kvs).Persist(want)

	assert.Equal(t, want, LoadHistory(context.Background(), kvs))
}

func TestLoadSettingsDefaultsOnEmptyStore(t *testing.T) {
	kvs := openTestKV(t)

	got := LoadSettings(context.Background(), kvs)

	assert.Equal(t, DefaultSettings(), got)
	assert.Equal(t, 20, got.Capacity)
	assert.Equal(t, 256, got.ThumbMaxDim)
	assert.Equal(t, textpolicy.DefaultTruncateLimit, got.TruncateLimit)
	assert.Equal(t, textpolicy.DefaultCompressThreshold, got.CompressThreshold)
}

func TestSettingsRoundTrip(t *testing.T) {
	kvs := openTestKV(t)
	ctx := context.Background()
	want := Settings{
		Capacity:          7,
		ThumbMaxDim:       300,
		TruncateLimit:     15 << 10,
		CompressThreshold: 8 << 10,
	}

	require.NoError(t, SaveSettings(ctx, kvs, want))
	assert.Equal(t, want, LoadSettings(ctx, kvs))
}

func TestLoadSettingsMalformedValueFallsBack(t *testing.T) {
	kvs := openTestKV(t)
	ctx := context.Background()

	require.NoError(t, kvs.Set(ctx, KeyCapacity, "banana"))
	got := LoadSettings(ctx, kvs)

	assert.Equal(t, DefaultSettings().Capacity, got.Capacity)
}

func TestSaveCapacity(t *testing.T) {
	kvs := openTestKV(t)
	ctx := context.Background()

	require.NoError(t, SaveCapacity(ctx, kvs, 5))
	assert.Equal(t, 5, LoadSettings(ctx, kvs).Capacity)
}

func TestClampForcesRanges(t *testing.T) {
	got := Settings{
		Capacity:          0,
		ThumbMaxDim:       1000,
		TruncateLimit:     1,
		CompressThreshold: 1 << 30,
	}.Clamp()

	assert.Equal(t, 1, got.Capacity)
	assert.Equal(t, resource.MaxThumbMaxDim, got.ThumbMaxDim)
	assert.Equal(t, textpolicy.MinTruncateLimit, got.TruncateLimit)
	assert.Less(t, got.CompressThreshold, got.TruncateLimit)
}

func TestPersistedOutOfRangeSettingsAreClampedOnLoad(t *testing.T) {
	kvs := openTestKV(t)
	ctx := context.Background()

	require.NoError(t, kvs.Set(ctx, KeyThumbMaxDim, "9999"))
	require.NoError(t, kvs.Set(ctx, KeyCapacity, "-3"))

	got := LoadSettings(ctx, kvs)
	assert.Equal(t, resource.MaxThumbMaxDim, got.ThumbMaxDim)
	assert.Equal(t, 1, got.Capacity)
}
