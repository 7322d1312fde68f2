package recorder

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/harvester/internal/interfaces"
	"github.com/ternarybob/harvester/internal/models"
)

// Score normalization anchors: a URL averaging this many new postings
// per run, or taking this long, saturates its share of the score.
const (
	scoreMaxNewJobs  = 50.0
	scoreMaxDuration = 60 * time.Second
)

// Recorder accumulates per-URL outcomes in memory during a session and
// flushes them to storage in one pass when the session ends. The
// scheduler's ml policy reads what the recorder writes.
type Recorder struct {
	catalog interfaces.CatalogStorage
	history interfaces.HistoryStorage
	logger  arbor.ILogger

	mu      sync.Mutex
	pending []*models.URLOutcome
}

func New(catalog interfaces.CatalogStorage, history interfaces.HistoryStorage, logger arbor.ILogger) *Recorder {
	return &Recorder{catalog: catalog, history: history, logger: logger}
}

// Record queues one URL outcome. Nothing is persisted until Flush.
func (r *Recorder) Record(sessionID string, metrics models.URLMetrics) {
	outcome := &models.URLOutcome{
		URL:            metrics.URL,
		SessionID:      sessionID,
		Timestamp:      time.Now().UTC(),
		NewJobs:        metrics.New,
		TotalJobs:      metrics.New + metrics.Updated + metrics.Duplicate,
		Errors:         metrics.Errors,
		Duration:       metrics.Duration,
		PagesProcessed: metrics.PagesProcessed,
	}

	r.mu.Lock()
	r.pending = append(r.pending, outcome)
	r.mu.Unlock()
}

// Flush persists every queued outcome and folds it into the catalog's
// running totals, hour/weekday buckets and performance score.
func (r *Recorder) Flush(ctx context.Context) error {
	r.mu.Lock()
	outcomes := r.pending
	r.pending = nil
	r.mu.Unlock()

	for _, outcome := range outcomes {
		if err := r.history.AppendOutcome(ctx, outcome); err != nil {
			return fmt.Errorf("failed to persist outcome for %s: %w", outcome.URL, err)
		}
		if err := r.updateCatalog(ctx, outcome); err != nil {
			return err
		}
	}

	if len(outcomes) > 0 {
		r.logger.Debug().Int("outcomes", len(outcomes)).Msg("Recorder flushed")
	}
	return nil
}

// CurrentScore returns the catalog's performance score for a URL. URLs
// outside the catalog, or whose row cannot be read, get the neutral
// prior.
func (r *Recorder) CurrentScore(ctx context.Context, url string) float64 {
	u, err := r.catalog.GetURL(ctx, url)
	if err != nil || u == nil {
		return 0.5
	}
	return u.PerformanceScore
}

// BestHours returns the hours of day that historically produced the
// most new postings for a URL, best first. With no history it returns
// business hours as a neutral default.
func (r *Recorder) BestHours(ctx context.Context, url string, n int) ([]int, error) {
	u, err := r.catalog.GetURL(ctx, url)
	if err != nil {
		return nil, err
	}
	if u == nil || len(u.HourlyStats) == 0 {
		hours := make([]int, 0, 10)
		for h := 8; h < 18; h++ {
			hours = append(hours, h)
		}
		if len(hours) > n {
			hours = hours[:n]
		}
		return hours, nil
	}

	type hourScore struct {
		hour int
		avg  float64
	}
	scored := make([]hourScore, 0, len(u.HourlyStats))
	for hour, bucket := range u.HourlyStats {
		if bucket.Runs == 0 {
			continue
		}
		scored = append(scored, hourScore{hour: hour, avg: float64(bucket.NewJobs) / float64(bucket.Runs)})
	}
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].avg != scored[j].avg {
			return scored[i].avg > scored[j].avg
		}
		return scored[i].hour < scored[j].hour
	})

	if len(scored) > n {
		scored = scored[:n]
	}
	hours := make([]int, len(scored))
	for i, s := range scored {
		hours[i] = s.hour
	}
	return hours, nil
}

// Recommend derives a read-only tuning suggestion from catalog history.
// It is surfaced on the session result, never applied silently.
func (r *Recorder) Recommend(ctx context.Context, urlsPerSession int) (*models.TuningRecommendation, error) {
	catalog, err := r.catalog.ListEnabled(ctx)
	if err != nil {
		return nil, err
	}

	productive := 0
	sampled := 0
	for _, u := range catalog {
		if u.TotalRuns == 0 {
			continue
		}
		sampled++
		if u.PerformanceScore >= 0.6 {
			productive++
		}
	}
	if sampled < 3 {
		return nil, nil
	}

	switch {
	case productive > urlsPerSession:
		return &models.TuningRecommendation{
			URLsPerSession: productive,
			Reason:         fmt.Sprintf("%d catalog urls score above 0.6 but only %d run per session", productive, urlsPerSession),
		}, nil
	case productive > 0 && productive < urlsPerSession:
		return &models.TuningRecommendation{
			URLsPerSession: productive,
			Reason:         fmt.Sprintf("only %d of %d sampled urls score above 0.6", productive, sampled),
		}, nil
	}
	return nil, nil
}

func (r *Recorder) updateCatalog(ctx context.Context, outcome *models.URLOutcome) error {
	u, err := r.catalog.GetURL(ctx, outcome.URL)
	if err != nil {
		return err
	}
	if u == nil {
		// Outcomes for URLs outside the catalog (custom policy) still
		// land in history but have no catalog row to maintain.
		return nil
	}

	u.TotalRuns++
	u.TotalNewJobs += outcome.NewJobs
	u.TotalJobsSeen += outcome.TotalJobs
	u.TotalErrors += outcome.Errors
	u.TotalDuration += outcome.Duration
	u.LastRunAt = outcome.Timestamp

	if u.HourlyStats == nil {
		u.HourlyStats = make(map[int]models.BucketStats)
	}
	hour := outcome.Timestamp.Hour()
	hb := u.HourlyStats[hour]
	hb.Runs++
	hb.NewJobs += outcome.NewJobs
	u.HourlyStats[hour] = hb

	if u.DailyStats == nil {
		u.DailyStats = make(map[time.Weekday]models.BucketStats)
	}
	day := outcome.Timestamp.Weekday()
	db := u.DailyStats[day]
	db.Runs++
	db.NewJobs += outcome.NewJobs
	u.DailyStats[day] = db

	u.PerformanceScore = Score(u)

	return r.catalog.SaveURL(ctx, u)
}

// Score computes the weighted performance score in [0,1]: new-posting
// yield 0.4, uniqueness 0.3, speed 0.2, error freedom 0.1.
func Score(u *models.CatalogURL) float64 {
	if u.TotalRuns == 0 {
		return 0.5
	}

	normNewJobs := u.AvgNewJobs() / scoreMaxNewJobs
	if normNewJobs > 1 {
		normNewJobs = 1
	}
	normSpeed := 1 - float64(u.AvgDuration())/float64(scoreMaxDuration)
	if normSpeed < 0 {
		normSpeed = 0
	}
	errorFreedom := 1 - u.ErrorRate()
	if errorFreedom < 0 {
		errorFreedom = 0
	}

	score := 0.4*normNewJobs + 0.3*u.UniquenessRatio() + 0.2*normSpeed + 0.1*errorFreedom
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
