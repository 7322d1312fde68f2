package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/harvester/internal/common"
	"github.com/ternarybob/harvester/internal/models"
)

// memCatalog is an in-memory CatalogStorage for scheduler tests.
type memCatalog struct {
	urls map[string]*models.CatalogURL
}

func newMemCatalog(urls ...*models.CatalogURL) *memCatalog {
	m := &memCatalog{urls: make(map[string]*models.CatalogURL)}
	for _, u := range urls {
		m.urls[u.URL] = u
	}
	return m
}

func (m *memCatalog) SaveURL(_ context.Context, u *models.CatalogURL) error {
	m.urls[u.URL] = u
	return nil
}

func (m *memCatalog) GetURL(_ context.Context, url string) (*models.CatalogURL, error) {
	return m.urls[url], nil
}

func (m *memCatalog) ListURLs(_ context.Context) ([]*models.CatalogURL, error) {
	out := make([]*models.CatalogURL, 0, len(m.urls))
	for _, u := range m.urls {
		out = append(out, u)
	}
	return out, nil
}

func (m *memCatalog) ListEnabled(_ context.Context) ([]*models.CatalogURL, error) {
	var out []*models.CatalogURL
	for _, u := range m.urls {
		if u.Enabled {
			out = append(out, u)
		}
	}
	return out, nil
}

func (m *memCatalog) DeleteURL(_ context.Context, url string) error {
	delete(m.urls, url)
	return nil
}

func (m *memCatalog) CountURLs(_ context.Context) (int, error) {
	return len(m.urls), nil
}

func catalogURL(url string, category models.URLCategory) *models.CatalogURL {
	return &models.CatalogURL{URL: url, Category: category, Enabled: true, PerformanceScore: 0.5}
}

func fullCatalog() *memCatalog {
	return newMemCatalog(
		catalogURL("https://x.com/vagas/home-office", models.CategoryRemote),
		catalogURL("https://x.com/vagas/presencial", models.CategoryOnSite),
		catalogURL("https://x.com/vagas/hibrido", models.CategoryHybrid),
		catalogURL("https://x.com/vagas/sao-paulo-sp", models.CategoryGeographic),
		catalogURL("https://x.com/vagas/rio-de-janeiro-rj", models.CategoryGeographic),
		catalogURL("https://x.com/vagas/area-ti", models.CategoryProfessional),
		catalogURL("https://x.com/vagas/junior", models.CategorySeniority),
		catalogURL("https://x.com/vagas", models.CategoryGeneral),
	)
}

func scraperConfig(mode string, n int) common.ScraperConfig {
	return common.ScraperConfig{URLsPerSession: n, DiversityMode: mode}
}

func TestSelect_BalancedCoversCategories(t *testing.T) {
	s := New(fullCatalog(), arbor.NewLogger())

	urls, err := s.Select(context.Background(), scraperConfig("balanced", 5), 42, time.Now())
	require.NoError(t, err)
	require.Len(t, urls, 5)

	assert.Contains(t, urls, "https://x.com/vagas/home-office")
	assert.Contains(t, urls, "https://x.com/vagas/presencial")
	assert.Contains(t, urls, "https://x.com/vagas/hibrido")
	assert.Contains(t, urls, "https://x.com/vagas")
	assertNoDuplicates(t, urls)
}

func TestSelect_DeterministicForSameSeed(t *testing.T) {
	s := New(fullCatalog(), arbor.NewLogger())
	cfg := scraperConfig("balanced", 5)

	first, err := s.Select(context.Background(), cfg, 1234, time.Now())
	require.NoError(t, err)
	second, err := s.Select(context.Background(), cfg, 1234, time.Now())
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestSelect_CategoryPolicies(t *testing.T) {
	s := New(fullCatalog(), arbor.NewLogger())

	urls, err := s.Select(context.Background(), scraperConfig("remote_only", 3), 7, time.Now())
	require.NoError(t, err)
	assert.Equal(t, []string{"https://x.com/vagas/home-office"}, urls,
		"never pads with other categories when the pool is short")

	urls, err = s.Select(context.Background(), scraperConfig("geographic", 1), 7, time.Now())
	require.NoError(t, err)
	require.Len(t, urls, 1)
	assert.Contains(t, []string{
		"https://x.com/vagas/sao-paulo-sp",
		"https://x.com/vagas/rio-de-janeiro-rj",
	}, urls[0])
}

func TestSelect_CustomReturnsPinnedList(t *testing.T) {
	s := New(fullCatalog(), arbor.NewLogger())
	cfg := scraperConfig("custom", 2)
	cfg.ActiveURLs = []string{"https://x.com/a", "https://x.com/a", "https://x.com/b", "https://x.com/c"}

	urls, err := s.Select(context.Background(), cfg, 99, time.Now())
	require.NoError(t, err)
	assert.Equal(t, []string{"https://x.com/a", "https://x.com/b"}, urls)
}

func TestSelect_CompleteSamplesEveryCategory(t *testing.T) {
	s := New(fullCatalog(), arbor.NewLogger())

	urls, err := s.Select(context.Background(), scraperConfig("complete", 8), 11, time.Now())
	require.NoError(t, err)
	assert.Len(t, urls, 8)
	assertNoDuplicates(t, urls)
}

func TestSelect_SkipsDisabledURLs(t *testing.T) {
	catalog := fullCatalog()
	catalog.urls["https://x.com/vagas/home-office"].Enabled = false
	s := New(catalog, arbor.NewLogger())

	urls, err := s.Select(context.Background(), scraperConfig("remote_only", 3), 7, time.Now())
	require.NoError(t, err)
	assert.Empty(t, urls)
}

func TestSelect_MLRanksByScore(t *testing.T) {
	now := time.Now()
	strong := catalogURL("https://x.com/vagas/strong", models.CategoryGeneral)
	strong.TotalRuns = 10
	strong.PerformanceScore = 0.9
	strong.LastRunAt = now.Add(-24 * time.Hour)

	weak := catalogURL("https://x.com/vagas/weak", models.CategoryGeneral)
	weak.TotalRuns = 10
	weak.PerformanceScore = 0.2
	weak.LastRunAt = now.Add(-24 * time.Hour)

	unproven := catalogURL("https://x.com/vagas/unproven", models.CategoryGeneral)
	unproven.TotalRuns = 2 // below the session gate, keeps the 0.5 prior
	unproven.PerformanceScore = 0.99
	unproven.LastRunAt = now.Add(-24 * time.Hour)

	s := New(newMemCatalog(strong, weak, unproven), arbor.NewLogger())

	urls, err := s.Select(context.Background(), scraperConfig("ml", 2), 1, now)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://x.com/vagas/strong", "https://x.com/vagas/unproven"}, urls)
}

func TestSelect_MLStalenessPenalty(t *testing.T) {
	now := time.Now()
	fresh := catalogURL("https://x.com/vagas/fresh", models.CategoryGeneral)
	fresh.TotalRuns = 10
	fresh.PerformanceScore = 0.6
	fresh.LastRunAt = now.Add(-24 * time.Hour)

	stale := catalogURL("https://x.com/vagas/stale", models.CategoryGeneral)
	stale.TotalRuns = 10
	stale.PerformanceScore = 0.65
	stale.LastRunAt = now.Add(-40 * 24 * time.Hour) // full 0.1 penalty

	s := New(newMemCatalog(fresh, stale), arbor.NewLogger())

	urls, err := s.Select(context.Background(), scraperConfig("ml", 1), 1, now)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://x.com/vagas/fresh"}, urls)
}

func TestSessionScore_RecencyPenalty(t *testing.T) {
	now := time.Now()
	u := catalogURL("https://x.com/vagas/u", models.CategoryGeneral)
	u.TotalRuns = 10
	u.PerformanceScore = 0.6

	// The penalty scales linearly from the first idle day and saturates
	// at 30 days.
	u.LastRunAt = now.Add(-24 * time.Hour)
	assert.InDelta(t, 0.6-0.1/30, sessionScore(u, now), 1e-9)

	u.LastRunAt = now.Add(-15 * 24 * time.Hour)
	assert.InDelta(t, 0.55, sessionScore(u, now), 1e-9)

	u.LastRunAt = now.Add(-60 * 24 * time.Hour)
	assert.InDelta(t, 0.5, sessionScore(u, now), 1e-9)
}

func TestSelect_MLHourlyBonus(t *testing.T) {
	now := time.Now()
	hour := now.Hour()

	steady := catalogURL("https://x.com/vagas/steady", models.CategoryGeneral)
	steady.TotalRuns = 10
	steady.TotalNewJobs = 50
	steady.PerformanceScore = 0.6
	steady.LastRunAt = now.Add(-24 * time.Hour)

	peaky := catalogURL("https://x.com/vagas/peaky", models.CategoryGeneral)
	peaky.TotalRuns = 10
	peaky.TotalNewJobs = 50
	peaky.PerformanceScore = 0.6
	peaky.LastRunAt = now.Add(-24 * time.Hour)
	peaky.HourlyStats = map[int]models.BucketStats{
		hour: {Runs: 3, NewJobs: 45}, // 15/run against a 5/run average
	}

	s := New(newMemCatalog(steady, peaky), arbor.NewLogger())

	urls, err := s.Select(context.Background(), scraperConfig("ml", 1), 1, now)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://x.com/vagas/peaky"}, urls)
}

func TestSelect_UnknownPolicyFails(t *testing.T) {
	s := New(fullCatalog(), arbor.NewLogger())
	_, err := s.Select(context.Background(), scraperConfig("chaotic", 3), 1, time.Now())
	require.Error(t, err)
}

func assertNoDuplicates(t *testing.T, urls []string) {
	t.Helper()
	seen := make(map[string]struct{}, len(urls))
	for _, u := range urls {
		if _, ok := seen[u]; ok {
			t.Fatalf("duplicate url in selection: %s", u)
		}
		seen[u] = struct{}{}
	}
}
