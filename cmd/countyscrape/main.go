package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"countyscrape/internal/config"
	"countyscrape/internal/dedupe"
	"countyscrape/internal/driver"
	server "countyscrape/internal/http"
	"countyscrape/internal/migrate"
	"countyscrape/internal/queue"
	"countyscrape/internal/scraper"
	"countyscrape/internal/store"
	"countyscrape/internal/terms"
	"countyscrape/internal/token"
	"countyscrape/internal/worker"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	role := flag.String("role", "all", "process role: api|worker|driver|all")
	flag.Parse()

	cfg := config.Load(*configPath)

	runAPI := *role == "api" || *role == "all"
	runWorker := *role == "worker" || *role == "all"
	runDriver := *role == "driver" || *role == "all"
	if !runAPI && !runWorker && !runDriver {
		log.Fatalf("invalid role: %s (expected api|worker|driver|all)", *role)
	}

	// Run migrations on a short-lived connection
	if err := migrate.Run(cfg.Database.DSN); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	// Create a shared *sql.DB with pooling for the Store
	db, err := sql.Open("pgx", cfg.Database.DSN)
	if err != nil {
		log.Fatalf("open db failed: %v", err)
	}
	// Basic pool settings; adjust as needed
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	st := store.New(db)

	logger := newLogger(cfg.Logging.Level)

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	q := queue.New(rdb, queue.Options{
		Prefix:             cfg.Redis.KeyPrefix,
		VisibilityTimeout:  time.Duration(cfg.Queue.VisibilityTimeoutMs) * time.Millisecond,
		DefaultMaxAttempts: cfg.Queue.MaxAttempts,
		DefaultBackoff:     time.Duration(cfg.Queue.RetryBaseDelayMs) * time.Millisecond,
		RemoveOnComplete:   cfg.Queue.RemoveOnComplete,
		RemoveOnFail:       cfg.Queue.RemoveOnFail,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Term plumbing is shared by the driver and the ops surface.
	var (
		deduper   *dedupe.Deduplicator
		optimizer *terms.Optimizer
	)
	if runDriver || runAPI {
		deduper = dedupe.New(st, dedupe.DefaultPolicy(), logger)
		if err := deduper.Reload(ctx); err != nil {
			logger.Warn("used_terms_reload_failed", "error", err.Error())
		}
		optimizer = terms.NewOptimizer(st, optimizerPolicy(cfg), logger)
	}

	// The scraping roles hold the process-wide token.
	var provider *token.Provider
	if runWorker || runDriver {
		capture := scraper.NewTokenCapture(cfg.Upstream.BaseURL, cfg.Scraper.BrowserURL,
			scrapeTimeout(cfg), logger)
		provider = token.New(cfg.Token.Value, capture.Capture, logger)
		if cfg.Token.AutoRefresh {
			interval := time.Duration(cfg.Token.RefreshIntervalMinutes) * time.Minute
			if interval <= 0 {
				interval = 30 * time.Minute
			}
			if err := provider.StartAutoRefresh(interval); err != nil {
				log.Fatalf("token auto refresh failed: %v", err)
			}
			defer provider.StopAutoRefresh()
		}
	}

	var wg sync.WaitGroup

	if runWorker {
		pool := worker.NewPool(q, st, buildExecutor(cfg, provider, logger), worker.Options{
			Concurrency:   cfg.Worker.Concurrency,
			PollInterval:  time.Duration(cfg.Queue.PollIntervalMs) * time.Millisecond,
			ChunkSize:     cfg.Database.UpsertChunkSize,
			ShutdownGrace: time.Duration(cfg.Worker.ShutdownGraceMs) * time.Millisecond,
			Retention: worker.RetentionOptions{
				Enabled:       cfg.Retention.Enabled,
				SweepInterval: time.Duration(cfg.Retention.SweepIntervalMinutes) * time.Minute,
				SnapshotDays:  cfg.Retention.SnapshotDays,
			},
		}, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			pool.Run(ctx)
		}()
	}

	if runDriver {
		gen := terms.NewGenerator(deduper, optimizer, terms.Options{
			OptimizationInterval: cfg.Generator.OptimizationInterval,
			RefreshMaxAge:        time.Duration(cfg.Generator.RefreshIntervalMinutes) * time.Minute,
			MaxAttemptsFactor:    cfg.Generator.MaxAttemptsFactor,
		}, logger)
		drv := driver.New(st, gen, q, st, driver.Options{
			Target:              int64(cfg.Driver.TargetProperties),
			BatchSize:           cfg.Driver.BatchSize,
			DelayBetweenBatches: time.Duration(cfg.Driver.DelayBetweenBatchesMs) * time.Millisecond,
			CheckInterval:       time.Duration(cfg.Driver.CheckIntervalMs) * time.Millisecond,
			RefillThreshold:     int64(cfg.Driver.QueueRefillThreshold),
			Priority:            cfg.Driver.Priority,
			FreshStart:          cfg.Driver.FreshStart,
		}, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := drv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("driver_failed", "error", err.Error())
			}
		}()
	}

	if runAPI {
		srv := server.NewServer(cfg, server.Dependencies{
			Store:     st,
			Queue:     q,
			Dedupe:    deduper,
			Optimizer: optimizer,
			Redis:     rdb,
		}, logger)
		go func() {
			<-ctx.Done()
			if err := srv.Shutdown(); err != nil {
				logger.Warn("server_shutdown_failed", "error", err.Error())
			}
		}()
		if err := srv.Listen(); err != nil {
			log.Fatalf("server failed: %v", err)
		}
	} else {
		<-ctx.Done()
	}

	// Wait for the worker pool and driver to flush.
	wg.Wait()
}

func newLogger(level string) *slog.Logger {
	lvl := slog.LevelInfo
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func scrapeTimeout(cfg *config.Config) time.Duration {
	return time.Duration(cfg.Scraper.TimeoutMs) * time.Millisecond
}

func buildExecutor(cfg *config.Config, provider *token.Provider, logger *slog.Logger) *scraper.Executor {
	api := scraper.NewAPIClient(cfg.Upstream.APIURL, cfg.Upstream.Year, scrapeTimeout(cfg))

	var gate *scraper.RobotsGate
	if cfg.Scraper.RespectRobots {
		gate = scraper.NewRobotsGate(cfg.Upstream.BaseURL, "countyscrape", 10*time.Second, logger)
	}
	fallback := scraper.NewRodFallback(scraper.FallbackConfig{
		BaseURL:     cfg.Upstream.BaseURL,
		BrowserURL:  cfg.Scraper.BrowserURL,
		Timeout:     scrapeTimeout(cfg),
		RowLimit:    cfg.Scraper.DOMRowLimit,
		SnapshotMax: cfg.Scraper.SnapshotMaxBytes,
	}, gate, logger)

	return scraper.NewExecutor(api, provider, fallback, scraper.ExecutorConfig{
		MaxAttempts:    cfg.Scraper.MaxAttempts,
		RetryBaseDelay: time.Duration(cfg.Scraper.RetryBaseDelayMs) * time.Millisecond,
		PageSizes:      cfg.Scraper.PageSizes,
		MaxPages:       cfg.Scraper.MaxPages,
	}, logger)
}

// optimizerPolicy overlays the config onto the tuned defaults; zero
// values keep the default thresholds.
func optimizerPolicy(cfg *config.Config) terms.OptimizerPolicy {
	policy := terms.DefaultOptimizerPolicy()
	if cfg.Optimizer.MinEfficiency > 0 {
		policy.MinEfficiency = cfg.Optimizer.MinEfficiency
	}
	if cfg.Optimizer.MinSuccessRate > 0 {
		policy.MinSuccessRate = cfg.Optimizer.MinSuccessRate
	}
	if cfg.Optimizer.RecentDays > 0 {
		policy.RecentDays = cfg.Optimizer.RecentDays
	}
	if cfg.Optimizer.HighPerformerLimit > 0 {
		policy.HighPerformerLimit = cfg.Optimizer.HighPerformerLimit
	}
	if cfg.Optimizer.SuggestionLimit > 0 {
		policy.SuggestionLimit = cfg.Optimizer.SuggestionLimit
	}
	return policy
}
