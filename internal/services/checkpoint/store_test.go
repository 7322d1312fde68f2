package checkpoint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/harvester/internal/common"
	"github.com/ternarybob/harvester/internal/models"
)

const testURL = "https://example.com/vagas/home-office/"

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir(), arbor.NewLogger())
	require.NoError(t, err)
	return store
}

func TestStore_LoadMissingReturnsEmpty(t *testing.T) {
	store := newTestStore(t)

	cp := store.Load(testURL)
	require.NotNil(t, cp)
	assert.Equal(t, testURL, cp.URL)
	assert.Zero(t, cp.Size())
}

func TestStore_CommitThenLoadRoundTrip(t *testing.T) {
	store := newTestStore(t)

	cp := models.NewCheckpoint(testURL)
	cp.Add(models.Fingerprint("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"))
	cp.Add(models.Fingerprint("bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"))
	cp.Stats = models.CheckpointStats{New: 2}
	cp.PerformanceScore = 0.65
	require.NoError(t, store.Commit(cp))

	loaded := store.Load(testURL)
	assert.Equal(t, 2, loaded.Size())
	assert.True(t, loaded.Seen("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"))
	assert.True(t, loaded.Seen("bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"))
	assert.False(t, loaded.Seen("cccccccccccccccccccccccccccccccc"))
	assert.Equal(t, 2, loaded.Stats.New)
	assert.Equal(t, 0.65, loaded.PerformanceScore)
	assert.False(t, loaded.LastRunAt.IsZero())
}

func TestStore_CorruptFileFallsBackToEmpty(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, arbor.NewLogger())
	require.NoError(t, err)

	path := filepath.Join(dir, common.URLHash(testURL)+".json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	cp := store.Load(testURL)
	require.NotNil(t, cp)
	assert.Zero(t, cp.Size())

	// A fresh commit replaces the corrupt file and recovery sticks.
	cp.Add(models.Fingerprint("dddddddddddddddddddddddddddddddd"))
	require.NoError(t, store.Commit(cp))
	assert.Equal(t, 1, store.Load(testURL).Size())
}

func TestStore_CommitIsAtomicReplacement(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, arbor.NewLogger())
	require.NoError(t, err)

	cp := models.NewCheckpoint(testURL)
	cp.Add(models.Fingerprint("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"))
	require.NoError(t, store.Commit(cp))

	cp.Add(models.Fingerprint("bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"))
	require.NoError(t, store.Commit(cp))

	// No temp files left behind and exactly one checkpoint on disk.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, common.URLHash(testURL)+".json", entries[0].Name())

	assert.Equal(t, 2, store.Load(testURL).Size())
}

func TestStore_ResetAndCount(t *testing.T) {
	store := newTestStore(t)

	first := models.NewCheckpoint(testURL)
	second := models.NewCheckpoint("https://example.com/vagas/junior/")
	require.NoError(t, store.Commit(first))
	require.NoError(t, store.Commit(second))

	n, err := store.Count()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, store.Reset(testURL))
	require.NoError(t, store.Reset(testURL)) // idempotent

	n, err = store.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, store.ResetAll())
	n, err = store.Count()
	require.NoError(t, err)
	assert.Zero(t, n)
}
