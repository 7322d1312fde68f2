package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/harvester/internal/common"
	"github.com/ternarybob/harvester/internal/interfaces"
	"github.com/ternarybob/harvester/internal/models"
	"github.com/ternarybob/harvester/internal/services/browser"
	"github.com/ternarybob/harvester/internal/services/cache"
	"github.com/ternarybob/harvester/internal/services/checkpoint"
	"github.com/ternarybob/harvester/internal/services/dedup"
	"github.com/ternarybob/harvester/internal/services/extractor"
	"github.com/ternarybob/harvester/internal/services/fetcher"
	"github.com/ternarybob/harvester/internal/services/limiter"
	"github.com/ternarybob/harvester/internal/services/recorder"
	"github.com/ternarybob/harvester/internal/services/scheduler"
	"github.com/ternarybob/harvester/internal/services/session"
	badgerstore "github.com/ternarybob/harvester/internal/storage/badger"
)

// App is the composition root. It owns every long-lived resource and
// wires the session pipeline together; cmd/harvester only parses flags
// and decides when a session runs.
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	storage      interfaces.StorageManager
	cache        *cache.Cache
	orchestrator *session.Orchestrator
	closeOnce    sync.Once
}

// New builds the full pipeline from configuration. Storage is opened and
// the catalog seeded here; browser pages are not launched until a
// session actually runs.
func New(config *common.Config, logger arbor.ILogger) (*App, error) {
	storage, err := badgerstore.NewManager(logger, &config.Storage.Badger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	if err := badgerstore.LoadCatalogFromFile(context.Background(), storage.CatalogStorage(), config.Catalog.SeedFile, logger); err != nil {
		storage.Close()
		return nil, fmt.Errorf("failed to seed catalog: %w", err)
	}

	contentCache, err := cache.New(config.Cache, logger)
	if err != nil {
		storage.Close()
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}

	checkpoints, err := checkpoint.NewStore(config.Checkpoint.Dir, logger)
	if err != nil {
		contentCache.Close()
		storage.Close()
		return nil, fmt.Errorf("failed to open checkpoint store: %w", err)
	}

	results, err := session.NewResultWriter(config.Results.Dir, config.Results.MaxFilesPerType, logger)
	if err != nil {
		contentCache.Close()
		storage.Close()
		return nil, fmt.Errorf("failed to open results directory: %w", err)
	}

	lim := limiter.New(config.Limiter.RequestsPerSecond, config.Limiter.BurstLimit, logger)
	pool := browser.NewPool(config.Browser, logger)
	ext := extractor.New(logger)

	orchestrator := session.New(
		config,
		scheduler.New(storage.CatalogStorage(), logger),
		pool,
		fetcher.New(lim, pool, ext, config.Scraper, config.Browser, logger),
		dedup.New(contentCache, config.Scraper.EnableDeduplication, config.Scraper.EnableSimilarity, logger),
		checkpoints,
		recorder.New(storage.CatalogStorage(), storage.HistoryStorage(), logger),
		contentCache,
		results,
		newLogSink(logger),
		logger,
	)

	return &App{
		Config:       config,
		Logger:       logger,
		storage:      storage,
		cache:        contentCache,
		orchestrator: orchestrator,
	}, nil
}

// RunSession executes one harvesting session and logs its summary.
func (a *App) RunSession(ctx context.Context) (*models.SessionResult, error) {
	result, err := a.orchestrator.Run(ctx)
	if err != nil {
		return result, err
	}

	a.Logger.Info().
		Str("session_id", result.SessionID).
		Int("new", result.Dedup.New).
		Int("updated", result.Dedup.Updated).
		Int("duplicate", result.Dedup.Duplicate).
		Int("cached_total", a.cache.Len()).
		Msg("Harvest session finished")
	return result, nil
}

// Close flushes the cache and releases storage. Idempotent: callers on
// error paths close explicitly before exiting and the deferred close
// becomes a no-op.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		if err := a.cache.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Cache close failed")
		}
		if err := a.storage.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Storage close failed")
		}
	})
}
