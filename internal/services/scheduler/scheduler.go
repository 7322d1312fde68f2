package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/harvester/internal/common"
	"github.com/ternarybob/harvester/internal/interfaces"
	"github.com/ternarybob/harvester/internal/models"
)

// mlMinSessions gates the learned score: a URL with fewer recorded runs
// keeps the neutral prior so one lucky run cannot dominate the ranking.
const mlMinSessions = 5

// balancedOrder is the category rotation the balanced policy walks
// before filling remaining slots at random.
var balancedOrder = []models.URLCategory{
	models.CategoryRemote,
	models.CategoryOnSite,
	models.CategoryHybrid,
	models.CategoryGeographic,
	models.CategoryGeneral,
}

// Scheduler resolves which catalog URLs a session should harvest.
type Scheduler struct {
	catalog interfaces.CatalogStorage
	logger  arbor.ILogger
}

func New(catalog interfaces.CatalogStorage, logger arbor.ILogger) *Scheduler {
	return &Scheduler{catalog: catalog, logger: logger}
}

// Select returns up to cfg.URLsPerSession distinct URLs under the
// configured diversity policy. The seed drives every random choice so a
// recorded session can be replayed deterministically.
func (s *Scheduler) Select(ctx context.Context, cfg common.ScraperConfig, seed int64, now time.Time) ([]string, error) {
	n := cfg.URLsPerSession

	if cfg.DiversityMode == "custom" {
		return dedupeHead(cfg.ActiveURLs, n), nil
	}

	catalog, err := s.catalog.ListEnabled(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}
	if len(catalog) == 0 {
		return nil, fmt.Errorf("catalog has no enabled urls")
	}

	// Storage iteration order is not promised; a stable starting order
	// makes the seeded shuffles reproducible.
	sort.Slice(catalog, func(i, j int) bool { return catalog[i].URL < catalog[j].URL })
	rng := rand.New(rand.NewSource(seed))

	var urls []string
	switch cfg.DiversityMode {
	case "balanced":
		urls = s.selectBalanced(catalog, n, rng)
	case "geographic":
		urls = s.selectCategory(catalog, models.CategoryGeographic, n, rng)
	case "remote_only":
		urls = s.selectCategory(catalog, models.CategoryRemote, n, rng)
	case "professional":
		urls = s.selectCategory(catalog, models.CategoryProfessional, n, rng)
	case "seniority":
		urls = s.selectCategory(catalog, models.CategorySeniority, n, rng)
	case "complete":
		urls = s.selectProportional(catalog, n, rng)
	case "ml":
		urls = s.selectByScore(catalog, n, now)
	default:
		return nil, fmt.Errorf("unknown diversity mode %q", cfg.DiversityMode)
	}

	s.logger.Debug().
		Str("policy", cfg.DiversityMode).
		Int("requested", n).
		Int("selected", len(urls)).
		Msg("Session URLs resolved")
	return urls, nil
}

// selectBalanced takes one URL per category in rotation order, then
// fills leftover slots randomly from the rest of the catalog.
func (s *Scheduler) selectBalanced(catalog []*models.CatalogURL, n int, rng *rand.Rand) []string {
	byCategory := groupByCategory(catalog)
	chosen := make([]string, 0, n)
	taken := make(map[string]struct{})

	for _, category := range balancedOrder {
		if len(chosen) >= n {
			break
		}
		pool := byCategory[category]
		if len(pool) == 0 {
			continue
		}
		pick := pool[rng.Intn(len(pool))]
		chosen = append(chosen, pick.URL)
		taken[pick.URL] = struct{}{}
	}

	var rest []string
	for _, u := range catalog {
		if _, ok := taken[u.URL]; !ok {
			rest = append(rest, u.URL)
		}
	}
	rng.Shuffle(len(rest), func(i, j int) { rest[i], rest[j] = rest[j], rest[i] })
	for _, url := range rest {
		if len(chosen) >= n {
			break
		}
		chosen = append(chosen, url)
	}
	return chosen
}

// selectCategory restricts to one category. Fewer matches than n is not
// an error; duplicates are never padded in.
func (s *Scheduler) selectCategory(catalog []*models.CatalogURL, category models.URLCategory, n int, rng *rand.Rand) []string {
	var pool []string
	for _, u := range catalog {
		if u.Category == category {
			pool = append(pool, u.URL)
		}
	}
	rng.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
	if len(pool) > n {
		pool = pool[:n]
	}
	return pool
}

// selectProportional allocates slots across categories proportionally
// to their catalog share, with every non-empty category getting at
// least a chance at one slot.
func (s *Scheduler) selectProportional(catalog []*models.CatalogURL, n int, rng *rand.Rand) []string {
	byCategory := groupByCategory(catalog)

	categories := make([]models.URLCategory, 0, len(byCategory))
	for category := range byCategory {
		categories = append(categories, category)
	}
	sort.Slice(categories, func(i, j int) bool { return categories[i] < categories[j] })

	chosen := make([]string, 0, n)
	taken := make(map[string]struct{})

	for _, category := range categories {
		pool := byCategory[category]
		share := (len(pool)*n + len(catalog) - 1) / len(catalog) // ceiling
		rng.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
		for _, u := range pool {
			if share == 0 || len(chosen) >= n {
				break
			}
			chosen = append(chosen, u.URL)
			taken[u.URL] = struct{}{}
			share--
		}
	}

	// Rounding may leave slots open; top up from anywhere.
	if len(chosen) < n {
		var rest []string
		for _, u := range catalog {
			if _, ok := taken[u.URL]; !ok {
				rest = append(rest, u.URL)
			}
		}
		rng.Shuffle(len(rest), func(i, j int) { rest[i], rest[j] = rest[j], rest[i] })
		for _, url := range rest {
			if len(chosen) >= n {
				break
			}
			chosen = append(chosen, url)
		}
	}
	return chosen
}

// selectByScore ranks the catalog by learned performance adjusted for
// the current hour and staleness, and returns the top n.
func (s *Scheduler) selectByScore(catalog []*models.CatalogURL, n int, now time.Time) []string {
	type scored struct {
		url   string
		score float64
	}
	ranked := make([]scored, 0, len(catalog))
	for _, u := range catalog {
		ranked = append(ranked, scored{url: u.URL, score: sessionScore(u, now)})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].url < ranked[j].url
	})

	if len(ranked) > n {
		ranked = ranked[:n]
	}
	out := make([]string, len(ranked))
	for i, r := range ranked {
		out[i] = r.url
	}
	return out
}

// sessionScore is the ml-policy ranking value: the stored performance
// score (neutral prior below the session gate), plus a bonus when the
// current hour historically outperforms the URL's overall average,
// minus a recency penalty of 0.1 * min(daysSinceLastRun/30, 1).
func sessionScore(u *models.CatalogURL, now time.Time) float64 {
	base := 0.5
	if u.TotalRuns >= mlMinSessions {
		base = u.PerformanceScore
	}

	bonus := 0.0
	if hourly, ok := u.HourlyStats[now.Hour()]; ok && hourly.Runs > 0 {
		hourlyAvg := float64(hourly.NewJobs) / float64(hourly.Runs)
		overallAvg := u.AvgNewJobs()
		if overallAvg > 0 && hourlyAvg > overallAvg {
			bonus = 0.2 * (hourlyAvg/overallAvg - 1)
		}
	}

	penalty := 0.0
	if !u.LastRunAt.IsZero() {
		frac := now.Sub(u.LastRunAt).Hours() / 24 / 30
		if frac > 1 {
			frac = 1
		}
		penalty = 0.1 * frac
	}

	return base + bonus - penalty
}

func groupByCategory(catalog []*models.CatalogURL) map[models.URLCategory][]*models.CatalogURL {
	out := make(map[models.URLCategory][]*models.CatalogURL)
	for _, u := range catalog {
		out[u.Category] = append(out[u.Category], u)
	}
	return out
}

func dedupeHead(urls []string, n int) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, n)
	for _, url := range urls {
		if _, ok := seen[url]; ok {
			continue
		}
		seen[url] = struct{}{}
		out = append(out, url)
		if len(out) >= n {
			break
		}
	}
	return out
}
