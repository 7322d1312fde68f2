package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config is the harvester configuration. Loaded in layers: defaults,
// then each file in order, then environment overrides, then CLI flags.
type Config struct {
	Scraper    ScraperConfig    `toml:"scraper"`
	Limiter    LimiterConfig    `toml:"limiter"`
	Browser    BrowserConfig    `toml:"browser"`
	Cache      CacheConfig      `toml:"cache"`
	Checkpoint CheckpointConfig `toml:"checkpoint"`
	Results    ResultsConfig    `toml:"results"`
	Catalog    CatalogConfig    `toml:"catalog"`
	Storage    StorageConfig    `toml:"storage"`
	Logging    LoggingConfig    `toml:"logging"`
	Schedule   ScheduleConfig   `toml:"schedule"`
}

// ScraperConfig drives the scheduler, fetcher and deduplicator.
type ScraperConfig struct {
	URLsPerSession      int           `toml:"urls_per_session" validate:"gt=0"`
	MaxPages            int           `toml:"max_pages" validate:"gt=0"`
	MaxConcurrent       int           `toml:"max_concurrent" validate:"gt=0"`
	DiversityMode       string        `toml:"diversity_mode" validate:"oneof=balanced geographic remote_only professional seniority complete custom ml"`
	ActiveURLs          []string      `toml:"active_urls"` // used by the custom policy
	EnableIncremental   bool          `toml:"enable_incremental"`
	EnableDeduplication bool          `toml:"enable_deduplication"`
	EnableSimilarity    bool          `toml:"enable_similarity"` // same-batch fuzzy dedup, off by default
	ForceFull           bool          `toml:"force_full"`        // ignore checkpoints for this run only
	RetryAttempts       int           `toml:"retry_attempts" validate:"gte=0"`
	RetryDelay          time.Duration `toml:"retry_delay"`
}

// LimiterConfig tunes the shared token bucket.
type LimiterConfig struct {
	RequestsPerSecond float64 `toml:"requests_per_second" validate:"gt=0"`
	BurstLimit        int     `toml:"burst_limit" validate:"gt=0"`
}

// BrowserConfig holds headless-engine knobs and pool sizing.
type BrowserConfig struct {
	Headless           bool          `toml:"headless"`
	UserAgent          string        `toml:"user_agent"`
	ViewportWidth      int           `toml:"viewport_width"`
	ViewportHeight     int           `toml:"viewport_height"`
	CustomArgs         []string      `toml:"custom_args"`
	PoolMin            int           `toml:"pool_min" validate:"gt=0"`
	PoolMax            int           `toml:"pool_max" validate:"gtefield=PoolMin"`
	PageLoadTimeout    time.Duration `toml:"page_load_timeout"`
	ElementWaitTimeout time.Duration `toml:"element_wait_timeout"`
	LeaseDeadline      time.Duration `toml:"lease_deadline"`
	IdleTTL            time.Duration `toml:"idle_ttl"`
}

// CacheConfig bounds the compressed content-addressed store.
type CacheConfig struct {
	Dir              string `toml:"dir" validate:"required"`
	CompressionLevel int    `toml:"compression_level" validate:"gte=1,lte=9"`
	MaxSizeMB        int    `toml:"max_size_mb" validate:"gt=0"`
	MaxAgeDays       int    `toml:"max_age_days" validate:"gte=0"` // 0 disables time eviction
	HotEntries       int    `toml:"hot_entries"`                   // decompressed LRU capacity
}

type CheckpointConfig struct {
	Dir string `toml:"dir" validate:"required"`
}

type ResultsConfig struct {
	Dir             string `toml:"dir" validate:"required"`
	MaxFilesPerType int    `toml:"max_files_per_type" validate:"gt=0"`
}

// CatalogConfig points at the seeded query list.
type CatalogConfig struct {
	SeedFile string `toml:"seed_file"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig configures the catalog/history database.
type BadgerConfig struct {
	Path           string `toml:"path" validate:"required"`
	ResetOnStartup bool   `toml:"reset_on_startup"`
}

type LoggingConfig struct {
	Level  string   `toml:"level" validate:"oneof=debug info warn error"`
	Output []string `toml:"output"` // "stdout", "file"
}

// ScheduleConfig enables periodic runs from cmd/harvester.
type ScheduleConfig struct {
	Enabled bool   `toml:"enabled"`
	Cron    string `toml:"cron"` // standard 5-field cron expression
}

// LoadFromFiles loads configuration with layered precedence. Later files
// override earlier ones; environment variables override files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := DefaultConfig()

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks the configuration before any I/O happens.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Scraper.MaxConcurrent > c.Browser.PoolMax {
		return fmt.Errorf("invalid configuration: max_concurrent (%d) exceeds browser pool_max (%d)",
			c.Scraper.MaxConcurrent, c.Browser.PoolMax)
	}
	if c.Scraper.DiversityMode == "custom" && len(c.Scraper.ActiveURLs) == 0 {
		return fmt.Errorf("invalid configuration: diversity_mode=custom requires active_urls")
	}
	return nil
}

// RunDeadline derives the whole-run deadline from pagination bounds.
func (c *Config) RunDeadline() time.Duration {
	return time.Duration(c.Scraper.MaxPages*c.Scraper.MaxConcurrent) *
		(c.Browser.PageLoadTimeout + time.Second)
}

func applyEnvOverrides(config *Config) {
	if v := os.Getenv("HARVESTER_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	if v := os.Getenv("HARVESTER_CACHE_DIR"); v != "" {
		config.Cache.Dir = v
	}
	if v := os.Getenv("HARVESTER_BADGER_PATH"); v != "" {
		config.Storage.Badger.Path = v
	}
	if v := os.Getenv("HARVESTER_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.Scraper.MaxConcurrent = n
		}
	}
	if v := os.Getenv("HARVESTER_HEADLESS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			config.Browser.Headless = b
		}
	}
}
