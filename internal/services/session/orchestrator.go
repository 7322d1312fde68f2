package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/harvester/internal/common"
	"github.com/ternarybob/harvester/internal/interfaces"
	"github.com/ternarybob/harvester/internal/models"
	"github.com/ternarybob/harvester/internal/services/checkpoint"
	"github.com/ternarybob/harvester/internal/services/dedup"
	"github.com/ternarybob/harvester/internal/services/recorder"
)

// incrementalStopAfter is how many consecutive fully-known pages end a
// URL early when incremental mode is on. One page is not enough: the
// portal occasionally reorders listings so a known page can precede an
// unseen one.
const incrementalStopAfter = 2

// urlScheduler resolves the session's URL list.
type urlScheduler interface {
	Select(ctx context.Context, cfg common.ScraperConfig, seed int64, now time.Time) ([]string, error)
}

// browserPool is the pool lifecycle the orchestrator drives. Leasing
// happens inside the fetcher.
type browserPool interface {
	Start(size int) error
	Shutdown()
}

// cacheMaintainer is the retention/flush surface of the cache.
type cacheMaintainer interface {
	Flush() error
	Evict(now time.Time) (int, error)
}

// Orchestrator runs one harvesting session end to end: URL selection,
// bounded-parallel fetching, dedup, checkpoint advancement, recording.
type Orchestrator struct {
	config      *common.Config
	scheduler   urlScheduler
	pool        browserPool
	fetcher     interfaces.Fetcher
	dedup       *dedup.Deduplicator
	checkpoints *checkpoint.Store
	recorder    *recorder.Recorder
	cache       cacheMaintainer
	results     *ResultWriter
	events      interfaces.EventSink
	logger      arbor.ILogger

	// overridable in tests for reproducible URL selection
	seed func() int64
}

func New(
	config *common.Config,
	scheduler urlScheduler,
	pool browserPool,
	fetcher interfaces.Fetcher,
	deduplicator *dedup.Deduplicator,
	checkpoints *checkpoint.Store,
	rec *recorder.Recorder,
	cacheMaint cacheMaintainer,
	results *ResultWriter,
	events interfaces.EventSink,
	logger arbor.ILogger,
) *Orchestrator {
	return &Orchestrator{
		config:      config,
		scheduler:   scheduler,
		pool:        pool,
		fetcher:     fetcher,
		dedup:       deduplicator,
		checkpoints: checkpoints,
		recorder:    rec,
		cache:       cacheMaint,
		results:     results,
		events:      events,
		logger:      logger,
		seed:        func() int64 { return time.Now().UnixNano() },
	}
}

// Run executes one session. The returned result is non-nil even when
// err is set; fatal errors abort after draining in-flight work and
// releasing every resource. The orchestrator writes nothing to the
// terminal; consumers watch the event sink.
func (o *Orchestrator) Run(ctx context.Context) (*models.SessionResult, error) {
	result := &models.SessionResult{
		SessionID: uuid.New().String(),
		StartedAt: time.Now().UTC(),
		Seed:      o.seed(),
		Policy:    o.config.Scraper.DiversityMode,
	}

	runCtx, cancel := context.WithTimeout(ctx, o.config.RunDeadline())
	defer cancel()

	urls, err := o.scheduler.Select(runCtx, o.config.Scraper, result.Seed, result.StartedAt)
	if err != nil {
		result.FinishedAt = time.Now().UTC()
		return result, models.NewError(models.ErrKindConfig, "", 0, err)
	}
	result.URLs = urls

	poolSize := len(urls)
	if poolSize > o.config.Scraper.MaxConcurrent {
		poolSize = o.config.Scraper.MaxConcurrent
	}
	if err := o.pool.Start(poolSize); err != nil {
		// No checkpoint has been touched yet; the run aborts cleanly.
		result.FinishedAt = time.Now().UTC()
		return result, err
	}

	o.publish(models.Event{Type: models.EventSessionStarted, SessionID: result.SessionID, Count: len(urls)})
	o.logger.Info().
		Str("session_id", result.SessionID).
		Str("policy", result.Policy).
		Int("urls", len(urls)).
		Int("workers", poolSize).
		Msg("Session started")

	state := &sessionState{result: result}
	o.runWorkers(runCtx, urls, poolSize, state)

	// Workers have drained; tear the pool down before any bookkeeping.
	o.pool.Shutdown()

	result.Cancelled = runCtx.Err() != nil
	o.finish(result)

	o.publish(models.Event{Type: models.EventSessionCompleted, SessionID: result.SessionID, Count: len(result.Records)})
	o.logger.Info().
		Str("session_id", result.SessionID).
		Int("new", result.Dedup.New).
		Int("updated", result.Dedup.Updated).
		Int("duplicate", result.Dedup.Duplicate).
		Bool("cancelled", result.Cancelled).
		Msg("Session completed")
	return result, nil
}

// sessionState is the shared aggregation workers append into.
type sessionState struct {
	mu     sync.Mutex
	result *models.SessionResult
}

func (s *sessionState) addBatch(records []models.JobRecord, stats models.DedupStats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.result.Records = append(s.result.Records, records...)
	s.result.Dedup.Processed += stats.Processed
	s.result.Dedup.New += stats.New
	s.result.Dedup.Updated += stats.Updated
	s.result.Dedup.Duplicate += stats.Duplicate
	s.result.Dedup.BatchCollapsed += stats.BatchCollapsed
	s.result.Dedup.SimilarityMerged += stats.SimilarityMerged
}

func (s *sessionState) addMetrics(m models.URLMetrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.result.PerURL = append(s.result.PerURL, m)
}

func (s *sessionState) addError(err *models.HarvestError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.result.Errors = append(s.result.Errors, err)
}

func (o *Orchestrator) runWorkers(ctx context.Context, urls []string, workers int, state *sessionState) {
	queue := make(chan string)
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for url := range queue {
				o.harvestURL(ctx, url, state)
			}
		}()
	}

	for _, url := range urls {
		queue <- url
	}
	close(queue)
	wg.Wait()
}

// harvestURL paginates one catalog URL in ascending page order so the
// end-of-pagination signal stays meaningful.
func (o *Orchestrator) harvestURL(ctx context.Context, url string, state *sessionState) {
	sessionID := state.result.SessionID
	o.publish(models.Event{Type: models.EventURLStarted, SessionID: sessionID, URL: url})

	metrics := models.URLMetrics{URL: url}
	start := time.Now()

	cp := o.loadCheckpoint(url)
	allSeenStreak := 0

	for page := 1; page <= o.config.Scraper.MaxPages; page++ {
		if ctx.Err() != nil {
			metrics.EndReason = "cancelled"
			break
		}

		pageResult, err := o.fetcher.FetchPage(ctx, url, page)
		if err != nil {
			o.recordPageError(err, url, page, &metrics, state)
			break
		}

		metrics.PagesProcessed++
		o.publish(models.Event{
			Type: models.EventPageFetched, SessionID: sessionID,
			URL: url, Page: page, Count: len(pageResult.Records),
		})

		if pageResult.End {
			metrics.EndReason = "end_of_pagination"
			break
		}
		if len(pageResult.Records) == 0 {
			continue
		}

		unseen := 0
		for i := range pageResult.Records {
			if !cp.Seen(pageResult.Records[i].Fingerprint) {
				unseen++
			}
			cp.Add(pageResult.Records[i].Fingerprint)
		}

		dedupResult, err := o.dedup.Process(pageResult.Records)
		if err != nil {
			o.recordPageError(err, url, page, &metrics, state)
			break
		}

		metrics.New += dedupResult.Stats.New
		metrics.Updated += dedupResult.Stats.Updated
		metrics.Duplicate += dedupResult.Stats.Duplicate

		// Surfaced keeps the extractor's order for this page, with
		// duplicates filtered out.
		state.addBatch(dedupResult.Surfaced, dedupResult.Stats)

		if o.config.Scraper.EnableIncremental && unseen == 0 {
			allSeenStreak++
			if allSeenStreak >= incrementalStopAfter {
				metrics.EndReason = "incremental_stop"
				break
			}
		} else {
			allSeenStreak = 0
		}
	}
	metrics.Duration = time.Since(start)
	if metrics.EndReason == "" {
		metrics.EndReason = "max_pages"
	}

	// One completed page is the commit threshold: a URL cancelled or
	// failed before its first page leaves the prior checkpoint intact.
	if metrics.PagesProcessed > 0 {
		cp.Stats = models.CheckpointStats{New: metrics.New, Updated: metrics.Updated, Duplicate: metrics.Duplicate}
		// Background context: a cancelled session still commits the pages
		// it completed.
		cp.PerformanceScore = o.recorder.CurrentScore(context.Background(), url)
		if err := o.checkpoints.Commit(cp); err != nil {
			o.logger.Warn().Err(err).Str("url", url).Msg("Checkpoint commit failed")
		}
		o.recorder.Record(sessionID, metrics)
	}

	state.addMetrics(metrics)
	o.publish(models.Event{
		Type: models.EventURLCompleted, SessionID: sessionID,
		URL: url, Page: metrics.PagesProcessed, Count: metrics.New,
	})
}

func (o *Orchestrator) loadCheckpoint(url string) *models.Checkpoint {
	if !o.config.Scraper.EnableIncremental || o.config.Scraper.ForceFull {
		// The fresh state still gets committed at the end, which is the
		// documented recovery path for suspected corruption.
		return models.NewCheckpoint(url)
	}
	return o.checkpoints.Load(url)
}

func (o *Orchestrator) recordPageError(err error, url string, page int, metrics *models.URLMetrics, state *sessionState) {
	kind := models.KindOf(err)
	if kind == models.ErrKindCancelled {
		metrics.EndReason = "cancelled"
		return
	}

	metrics.Errors++
	metrics.EndReason = string(kind)
	state.addError(models.NewError(kind, url, page, err))
	o.publish(models.Event{
		Type: models.EventURLFailed, SessionID: state.result.SessionID,
		URL: url, Page: page, Error: err.Error(),
	})
}

// finish flushes the recorder, applies cache retention, persists the
// session result and attaches the tuning recommendation. Flushing uses
// a background context: a cancelled session keeps its partial results.
func (o *Orchestrator) finish(result *models.SessionResult) {
	flushCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := o.recorder.Flush(flushCtx); err != nil {
		o.logger.Warn().Err(err).Msg("Recorder flush failed")
	}

	if o.cache != nil {
		if _, err := o.cache.Evict(time.Now().UTC()); err != nil {
			o.logger.Warn().Err(err).Msg("Cache eviction failed")
		}
		if err := o.cache.Flush(); err != nil {
			o.logger.Warn().Err(err).Msg("Cache flush failed")
		}
	}

	if tuning, err := o.recorder.Recommend(flushCtx, o.config.Scraper.URLsPerSession); err == nil {
		result.Tuning = tuning
	}

	result.FinishedAt = time.Now().UTC()

	if o.results != nil {
		if err := o.results.Write(result); err != nil {
			o.logger.Warn().Err(err).Msg("Session result write failed")
		}
	}
}

func (o *Orchestrator) publish(event models.Event) {
	if o.events == nil {
		return
	}
	event.Timestamp = time.Now().UTC()
	o.events.Publish(event)
}
