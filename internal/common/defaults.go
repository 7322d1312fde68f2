package common

import "time"

// DefaultConfig returns the baseline configuration. Every value here can
// be overridden by config files, environment variables or CLI flags.
func DefaultConfig() *Config {
	return &Config{
		Scraper: ScraperConfig{
			URLsPerSession:      5,
			MaxPages:            10,
			MaxConcurrent:       3,
			DiversityMode:       "balanced",
			EnableIncremental:   true,
			EnableDeduplication: true,
			EnableSimilarity:    false,
			RetryAttempts:       3,
			RetryDelay:          2 * time.Second,
		},
		Limiter: LimiterConfig{
			RequestsPerSecond: 1.5,
			BurstLimit:        3,
		},
		Browser: BrowserConfig{
			Headless:           true,
			UserAgent:          "Harvester/1.0",
			ViewportWidth:      1920,
			ViewportHeight:     1080,
			PoolMin:            1,
			PoolMax:            4,
			PageLoadTimeout:    30 * time.Second,
			ElementWaitTimeout: 10 * time.Second,
			LeaseDeadline:      15 * time.Second,
			IdleTTL:            2 * time.Minute,
		},
		Cache: CacheConfig{
			Dir:              "./data/cache",
			CompressionLevel: 6,
			MaxSizeMB:        256,
			MaxAgeDays:       30,
			HotEntries:       512,
		},
		Checkpoint: CheckpointConfig{
			Dir: "./data/checkpoints",
		},
		Results: ResultsConfig{
			Dir:             "./data/results",
			MaxFilesPerType: 30,
		},
		Catalog: CatalogConfig{
			SeedFile: "./catalog.yaml",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data/harvester.db",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout"},
		},
		Schedule: ScheduleConfig{
			Enabled: false,
			Cron:    "0 */6 * * *",
		},
	}
}
