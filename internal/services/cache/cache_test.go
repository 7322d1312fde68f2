package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/harvester/internal/common"
	"github.com/ternarybob/harvester/internal/models"
)

func testCacheConfig(dir string) common.CacheConfig {
	return common.CacheConfig{
		Dir:              dir,
		CompressionLevel: 6,
		MaxSizeMB:        64,
		MaxAgeDays:       30,
		HotEntries:       16,
	}
}

func entryFor(title, company, url string, seen time.Time, techs ...string) *models.CacheEntry {
	record := models.JobRecord{
		URL:          url,
		Title:        title,
		Company:      company,
		Location:     "sao paulo",
		Modality:     models.ModalityRemote,
		Technologies: techs,
		CollectedAt:  seen,
	}
	record.SetFingerprint()
	return &models.CacheEntry{
		Record:       record,
		FirstSeenAt:  seen,
		LastSeenAt:   seen,
		Observations: 1,
	}
}

func TestCache_PutGetRoundTrip(t *testing.T) {
	c, err := New(testCacheConfig(t.TempDir()), arbor.NewLogger())
	require.NoError(t, err)
	defer c.Close()

	now := time.Now().UTC().Truncate(time.Second)
	entry := entryFor("Senior Go Developer", "Acme", "https://example.com/vagas/123", now, "go", "kubernetes")
	require.NoError(t, c.Put(entry))

	got, err := c.Get(entry.Fingerprint())
	require.NoError(t, err)
	assert.Equal(t, "Senior Go Developer", got.Record.Title)
	assert.Equal(t, []string{"go", "kubernetes"}, got.Record.Technologies)

	_, err = c.Get("ffffffffffffffffffffffffffffffff")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCache_GetReturnsSnapshots(t *testing.T) {
	c, err := New(testCacheConfig(t.TempDir()), arbor.NewLogger())
	require.NoError(t, err)
	defer c.Close()

	now := time.Now().UTC()
	entry := entryFor("Senior Go", "Acme", "https://example.com/vagas/123", now)
	require.NoError(t, c.Put(entry))

	// Mutating what Put was given must not reach the cache.
	entry.Observations = 99

	first, err := c.Get(entry.Fingerprint())
	require.NoError(t, err)
	assert.Equal(t, 1, first.Observations)

	// Each Get hands out its own copy; callers mutate freely until they
	// write back with Put.
	first.Observations = 42
	first.Record.SalaryText = "changed"

	second, err := c.Get(entry.Fingerprint())
	require.NoError(t, err)
	assert.Equal(t, 1, second.Observations)
	assert.Empty(t, second.Record.SalaryText)
}

func TestCache_UpdateReplacesEntry(t *testing.T) {
	c, err := New(testCacheConfig(t.TempDir()), arbor.NewLogger())
	require.NoError(t, err)
	defer c.Close()

	now := time.Now().UTC()
	entry := entryFor("Senior Go", "Acme", "https://example.com/vagas/123", now)
	entry.Record.SalaryText = "8k"
	require.NoError(t, c.Put(entry))

	updated := entryFor("Senior Go", "Acme", "https://example.com/vagas/123", now.Add(time.Hour))
	updated.Record.SalaryText = "10k"
	updated.Observations = 2
	require.NoError(t, c.Put(updated))

	assert.Equal(t, 1, c.Len())
	got, err := c.Get(entry.Fingerprint())
	require.NoError(t, err)
	assert.Equal(t, "10k", got.Record.SalaryText)
	assert.Equal(t, 2, got.Observations)
}

func TestCache_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	now := time.Now().UTC().Truncate(time.Second)

	c, err := New(testCacheConfig(dir), arbor.NewLogger())
	require.NoError(t, err)
	entry := entryFor("Data Engineer", "Globex", "https://example.com/vagas/77", now, "python")
	require.NoError(t, c.Put(entry))
	require.NoError(t, c.Close())

	reopened, err := New(testCacheConfig(dir), arbor.NewLogger())
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, 1, reopened.Len())
	got, err := reopened.Get(entry.Fingerprint())
	require.NoError(t, err)
	assert.Equal(t, "Globex", got.Record.Company)
}

func TestCache_RebuildsIndexOnChecksumMismatch(t *testing.T) {
	dir := t.TempDir()
	now := time.Now().UTC()

	c, err := New(testCacheConfig(dir), arbor.NewLogger())
	require.NoError(t, err)
	entry := entryFor("SRE", "Initech", "https://example.com/vagas/9", now, "terraform")
	require.NoError(t, c.Put(entry))
	require.NoError(t, c.Close())

	// Stale checksum simulates a crash between primary append and index
	// flush.
	path := filepath.Join(dir, indexFileName)
	require.NoError(t, os.WriteFile(path, []byte(`{"checksum":"deadbeef","companies":{},"technologies":{},"locations":{}}`), 0o644))

	reopened, err := New(testCacheConfig(dir), arbor.NewLogger())
	require.NoError(t, err)
	defer reopened.Close()

	results, err := reopened.Search(Query{Companies: []string{"Initech"}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "SRE", results[0].Record.Title)
}

func TestCache_SearchIntersectsFields(t *testing.T) {
	c, err := New(testCacheConfig(t.TempDir()), arbor.NewLogger())
	require.NoError(t, err)
	defer c.Close()

	now := time.Now().UTC()
	require.NoError(t, c.Put(entryFor("Go Dev", "Acme", "https://example.com/v/1", now, "go")))
	require.NoError(t, c.Put(entryFor("Go Lead", "Acme", "https://example.com/v/2", now, "go", "aws")))
	require.NoError(t, c.Put(entryFor("Go Dev", "Globex", "https://example.com/v/3", now, "go")))

	results, err := c.Search(Query{Companies: []string{"acme"}, Technologies: []string{"aws"}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Go Lead", results[0].Record.Title)

	// No filters returns everything.
	results, err = c.Search(Query{})
	require.NoError(t, err)
	assert.Len(t, results, 3)

	// Time window excludes older observations.
	results, err = c.Search(Query{Since: now.Add(time.Minute)})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestCache_TopCompaniesAndTechnologies(t *testing.T) {
	c, err := New(testCacheConfig(t.TempDir()), arbor.NewLogger())
	require.NoError(t, err)
	defer c.Close()

	now := time.Now().UTC()
	require.NoError(t, c.Put(entryFor("A", "Acme", "https://example.com/v/1", now, "go")))
	require.NoError(t, c.Put(entryFor("B", "Acme", "https://example.com/v/2", now, "go")))
	require.NoError(t, c.Put(entryFor("C", "Globex", "https://example.com/v/3", now, "python")))

	companies := c.TopCompanies(10)
	require.NotEmpty(t, companies)
	assert.Equal(t, TokenCount{Token: "acme", Count: 2}, companies[0])

	techs := c.TopTechnologies(1)
	require.Len(t, techs, 1)
	assert.Equal(t, TokenCount{Token: "go", Count: 2}, techs[0])
}

func TestCache_EvictByAge(t *testing.T) {
	cfg := testCacheConfig(t.TempDir())
	cfg.MaxAgeDays = 7
	c, err := New(cfg, arbor.NewLogger())
	require.NoError(t, err)
	defer c.Close()

	now := time.Now().UTC()
	stale := entryFor("Old", "Acme", "https://example.com/v/1", now.Add(-30*24*time.Hour), "go")
	fresh := entryFor("New", "Acme", "https://example.com/v/2", now, "go")
	require.NoError(t, c.Put(stale))
	require.NoError(t, c.Put(fresh))

	evicted, err := c.Evict(now)
	require.NoError(t, err)
	assert.Equal(t, 1, evicted)
	assert.Equal(t, 1, c.Len())

	_, err = c.Get(stale.Fingerprint())
	assert.ErrorIs(t, err, ErrNotFound)

	// Index integrity: the evicted entry left no dangling postings.
	results, err := c.Search(Query{Companies: []string{"Acme"}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "New", results[0].Record.Title)
}

func TestCache_EvictBySizeDropsOldestObserved(t *testing.T) {
	cfg := testCacheConfig(t.TempDir())
	cfg.MaxAgeDays = 0
	c, err := New(cfg, arbor.NewLogger())
	require.NoError(t, err)
	defer c.Close()

	now := time.Now().UTC()
	oldest := entryFor("First", "Acme", "https://example.com/v/1", now.Add(-3*time.Hour))
	middle := entryFor("Second", "Acme", "https://example.com/v/2", now.Add(-2*time.Hour))
	newest := entryFor("Third", "Acme", "https://example.com/v/3", now.Add(-time.Hour))
	require.NoError(t, c.Put(oldest))
	require.NoError(t, c.Put(middle))
	require.NoError(t, c.Put(newest))

	// Force the size bound below current usage so eviction must run.
	c.mu.Lock()
	c.maxSize = c.liveBytes - 1
	c.mu.Unlock()

	evicted, err := c.Evict(now)
	require.NoError(t, err)
	require.GreaterOrEqual(t, evicted, 1)

	_, err = c.Get(oldest.Fingerprint())
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = c.Get(newest.Fingerprint())
	assert.NoError(t, err)
}
