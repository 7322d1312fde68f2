package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/harvester/internal/app"
	"github.com/ternarybob/harvester/internal/common"
)

// configPaths is a custom flag type that allows multiple -config flags
type configPaths []string

func (c *configPaths) String() string {
	return fmt.Sprintf("%v", *c)
}

func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

var (
	configFiles  configPaths
	policyFlag   = flag.String("policy", "", "URL selection policy for this run (overrides config)")
	forceFull    = flag.Bool("force-full", false, "Ignore checkpoints and harvest every page")
	showVersion  = flag.Bool("version", false, "Print version information")
	showVersionV = flag.Bool("v", false, "Print version information (shorthand)")
)

func init() {
	flag.Var(&configFiles, "config", "Configuration file path (can be specified multiple times, later files override earlier ones)")
	flag.Var(&configFiles, "c", "Configuration file path (shorthand)")
}

func main() {
	flag.Parse()

	if *showVersion || *showVersionV {
		fmt.Printf("Harvester version %s\n", common.GetVersion())
		os.Exit(0)
	}

	// Startup sequence (REQUIRED ORDER):
	// 1. Load config (defaults -> file1 -> file2 -> ... -> env)
	// 2. Apply CLI overrides (highest priority)
	// 3. Initialize logger
	// 4. Print banner

	if len(configFiles) == 0 {
		if _, err := os.Stat("harvester.toml"); err == nil {
			configFiles = append(configFiles, "harvester.toml")
		} else if _, err := os.Stat("deployments/local/harvester.toml"); err == nil {
			configFiles = append(configFiles, "deployments/local/harvester.toml")
		}
	}

	config, err := common.LoadFromFiles(configFiles...)
	if err != nil {
		tempLogger := arbor.NewLogger()
		tempLogger.Fatal().Strs("paths", configFiles).Err(err).Msg("Failed to load configuration")
		os.Exit(1)
	}

	if *policyFlag != "" {
		config.Scraper.DiversityMode = *policyFlag
	}
	if *forceFull {
		config.Scraper.ForceFull = true
	}
	if err := config.Validate(); err != nil {
		tempLogger := arbor.NewLogger()
		tempLogger.Fatal().Err(err).Msg("Invalid configuration after flag overrides")
		os.Exit(1)
	}

	logger := common.InitLogger(config)
	common.PrintBanner(common.GetVersion())

	logger.Info().
		Strs("config_files", configFiles).
		Str("policy", config.Scraper.DiversityMode).
		Int("urls_per_session", config.Scraper.URLsPerSession).
		Bool("incremental", config.Scraper.EnableIncremental).
		Msg("Harvester configuration loaded")

	application, err := app.New(config, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize harvester")
	}
	defer application.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received, finishing in-flight pages")
		cancel()
	}()

	if config.Schedule.Enabled {
		runScheduled(ctx, application, config, logger)
		return
	}

	if _, err := application.RunSession(ctx); err != nil {
		logger.Error().Err(err).Msg("Harvest session failed")
		// os.Exit skips deferred calls; flush state before leaving.
		application.Close()
		os.Exit(1)
	}
}

// runScheduled runs sessions on the configured cron expression until the
// process is signalled. Overlapping runs are skipped, not queued.
func runScheduled(ctx context.Context, application *app.App, config *common.Config, logger arbor.ILogger) {
	running := make(chan struct{}, 1)

	c := cron.New()
	_, err := c.AddFunc(config.Schedule.Cron, func() {
		select {
		case running <- struct{}{}:
		default:
			logger.Warn().Msg("Previous session still running, skipping this tick")
			return
		}
		defer func() { <-running }()

		if _, err := application.RunSession(ctx); err != nil {
			logger.Error().Err(err).Msg("Scheduled harvest session failed")
		}
	})
	if err != nil {
		logger.Fatal().Err(err).Str("cron", config.Schedule.Cron).Msg("Invalid schedule expression")
	}

	c.Start()
	logger.Info().Str("cron", config.Schedule.Cron).Msg("Scheduler started - Press Ctrl+C to stop")

	<-ctx.Done()
	stopCtx := c.Stop()
	<-stopCtx.Done()
	logger.Info().Msg("Scheduler stopped")
}
