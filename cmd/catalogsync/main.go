package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/catalogsync/backend/config"
	"github.com/catalogsync/backend/internal/domain"
	"github.com/catalogsync/backend/internal/infrastructure/cache"
	"github.com/catalogsync/backend/internal/infrastructure/catalog"
	"github.com/catalogsync/backend/internal/infrastructure/feed"
	"github.com/catalogsync/backend/internal/infrastructure/history"
	"github.com/catalogsync/backend/internal/infrastructure/metrics"
	"github.com/catalogsync/backend/internal/usecase"
	"github.com/sirupsen/logrus"
)

const (
	exitOK       = 0
	exitAborted  = 1
	exitBadInput = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "Config file (default: search ./config.yaml, ./config/, /etc/catalogsync/)")
	feedPath := flag.String("feed", "", "Feed file, overrides feed.path")
	feedFormat := flag.String("format", "", "Feed format csv|xlsx, overrides feed.format")
	dryRun := flag.Bool("dry-run", false, "Plan operations without writing to the catalog")
	flag.Parse()

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		return exitBadInput
	}
	if *feedPath != "" {
		cfg.Feed.Path = *feedPath
	}
	if *feedFormat != "" {
		cfg.Feed.Format = *feedFormat
	}
	if *dryRun {
		cfg.DryRun = true
	}

	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		return exitBadInput
	}
	if err := cfg.ValidateSync(); err != nil {
		config.LogError(logger, "main", "run", "validate configuration", nil, err)
		return exitBadInput
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, cleanup, err := wire(ctx, cfg, logger)
	if err != nil {
		config.LogError(logger, "main", "wire", "build dependencies", nil, err)
		if errors.Is(err, domain.ErrInvalidConfig) {
			return exitBadInput
		}
		return exitAborted
	}
	defer cleanup()

	logger.WithFields(logrus.Fields{
		"feed":           cfg.Feed.Path,
		"catalog":        cfg.Catalog.BaseURL,
		"batch_size":     cfg.Batch.Size,
		"max_concurrent": cfg.Batch.MaxConcurrent,
		"window_delay":   cfg.Batch.WindowDelay.String(),
		"dry_run":        cfg.DryRun,
	}).Info("starting catalog sync")

	report, err := app.svc.Run(ctx, app.source)
	if err != nil {
		config.LogError(logger, "main", "run", "sync run aborted", nil, err)
		if errors.Is(err, domain.ErrInvalidConfig) {
			return exitBadInput
		}
		return exitAborted
	}
	app.afterRun(context.WithoutCancel(ctx), cfg, logger)

	fmt.Fprint(os.Stdout, report.Summary())
	return exitOK
}

// application is the wired sync service plus the collaborators used after a run
type application struct {
	svc      *usecase.SyncService
	source   domain.FeedSource
	store    *history.SQLiteStore
	recorder *metrics.PrometheusRecorder
}

// afterRun prunes old history and pushes metrics. Failures are logged only.
func (a *application) afterRun(ctx context.Context, cfg *config.Config, logger *logrus.Logger) {
	if cfg.History.Retention > 0 {
		removed, err := a.store.Prune(ctx, time.Now().Add(-cfg.History.Retention))
		if err != nil {
			config.LogError(logger, "main", "afterRun", "prune run history", nil, err)
		} else if removed > 0 {
			logger.WithField("removed", removed).Info("pruned run history")
		}
	}

	if a.recorder != nil {
		if err := a.recorder.Push(ctx, cfg.Metrics.PushgatewayURL, cfg.Metrics.Job); err != nil {
			config.LogError(logger, "main", "afterRun", "push metrics", nil, err)
		}
	}
}

// wire builds the sync service and the feed source from configuration
func wire(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*application, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*application, func(), error) {
		cleanup()
		return nil, nil, err
	}

	syncConfig, err := cfg.SyncServiceConfig()
	if err != nil {
		return fail(err)
	}
	vocabulary, err := cfg.Vocabulary()
	if err != nil {
		return fail(err)
	}

	source, err := feed.Open(cfg.Feed.Path, feed.Format(cfg.Feed.Format), feed.Options{
		Sheet:     cfg.Feed.Sheet,
		Delimiter: cfg.Feed.Delimiter,
		Columns:   feed.DefaultColumns().Merge(cfg.Feed.Columns),
	})
	if err != nil {
		return fail(err)
	}

	client := catalog.NewClient(catalog.ClientConfig{
		BaseURL:           cfg.Catalog.BaseURL,
		AccessToken:       cfg.Catalog.AccessToken,
		TokenHeader:       cfg.Catalog.TokenHeader,
		RequestsPerSecond: cfg.Catalog.RequestsPerSecond,
		Burst:             cfg.Catalog.Burst,
		PageSize:          cfg.Catalog.PageSize,
		Timeout:           cfg.Catalog.Timeout,
		BreakerFailures:   cfg.Catalog.BreakerFailures,
	}, logger)

	var (
		cacheRepo domain.CacheRepository
		locker    domain.RunLocker
	)
	switch cfg.Cache.Type {
	case "redis":
		rdb, err := cache.NewRedisClient(ctx, cfg.Cache.RedisURL)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, func() { rdb.Close() })
		cacheRepo = cache.NewRedisCache(rdb)
		locker = cache.NewRedisLocker(rdb)
	default:
		// process-local: only shared by runs within this process
		memoryCache := cache.NewMemoryCache()
		closers = append(closers, func() { memoryCache.Close() })
		cacheRepo = memoryCache
		locker = cache.NewMemoryLocker()
	}

	store, err := history.NewSQLiteStore(cfg.History.Path)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, func() { store.Close() })

	app := &application{source: source, store: store}
	deps := usecase.SyncDependencies{
		Reader:  client,
		Writer:  client,
		Builder: usecase.NewCatalogPayloadBuilder(usecase.NewTaxonomyResolver(vocabulary)),
		Cache:   cacheRepo,
		Locker:  locker,
		Reports: store,
		Logger:  logger,
	}
	// nothing scrapes a one-shot run, so metrics are only collected when they can be pushed
	if cfg.Metrics.PushgatewayURL != "" {
		app.recorder = metrics.NewPrometheusRecorder()
		deps.Metrics = app.recorder
	}

	app.svc, err = usecase.NewSyncService(deps, syncConfig)
	if err != nil {
		return fail(err)
	}

	return app, cleanup, nil
}
