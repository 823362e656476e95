// Package app initializes and holds the long-lived services of the
// harvester, acting as the dependency injection point for the CLI and the
// HTTP server.
package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/licitabr/pncp-harvester/internal/api"
	"github.com/licitabr/pncp-harvester/internal/clock/system"
	"github.com/licitabr/pncp-harvester/internal/collector"
	"github.com/licitabr/pncp-harvester/internal/config"
	"github.com/licitabr/pncp-harvester/internal/crawler"
	"github.com/licitabr/pncp-harvester/internal/harvest"
	"github.com/licitabr/pncp-harvester/internal/logging"
	"github.com/licitabr/pncp-harvester/internal/match"
	"github.com/licitabr/pncp-harvester/internal/metrics"
	"github.com/licitabr/pncp-harvester/internal/notify"
	"github.com/licitabr/pncp-harvester/internal/pncp"
	"github.com/licitabr/pncp-harvester/internal/storage/postgres"
	"github.com/licitabr/pncp-harvester/internal/transform"
)

// App holds the wired services for one process.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	pool   *pgxpool.Pool

	crawler   *crawler.Crawler
	collector *collector.Collector
	pipeline  *transform.Pipeline
	notifier  *notify.Service
}

// New connects the database, ensures the schema and wires every service.
// It fails fast: a process with a broken dependency should not start.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	metrics.Init()

	pool, err := postgres.Connect(ctx, postgres.PoolConfig{
		DSN:             cfg.DB.DSN,
		MaxConns:        cfg.DB.MaxConns,
		MinConns:        cfg.DB.MinConns,
		MaxConnLifetime: cfg.DB.MaxConnLifetime(),
	})
	if err != nil {
		return nil, err
	}
	if err := postgres.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	noticeStore, err := postgres.NewNoticeStore(pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	watermarkStore, err := postgres.NewWatermarkStore(pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	collectorStore, err := postgres.NewCollectorStore(pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	transformStore, err := postgres.NewTransformStore(pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	profileStore, err := postgres.NewProfileStore(pool)
	if err != nil {
		pool.Close()
		return nil, err
	}

	client := pncp.New(pncp.Config{
		ListURL:   cfg.PNCP.ListURL,
		ItemsBase: cfg.PNCP.ItemsBase,
		UserAgent: cfg.PNCP.UserAgent,
		PageSize:  cfg.PNCP.PageSize,
		Timeout:   cfg.PNCP.Timeout(),
	})
	clock := system.Clock{}

	engine := match.NewEngine(profileStore, clock, match.Config{
		MaxNotices:        cfg.Notify.MaxNotices,
		MaxItemsPerNotice: cfg.Notify.MaxItemsPerNotice,
		PublishedStatus:   cfg.Notify.PublishedStatus,
	}, logger)

	a := &App{
		cfg:    cfg,
		logger: logger,
		pool:   pool,
		crawler: crawler.New(client, noticeStore, watermarkStore, clock, crawler.Config{
			Categories:      cfg.Crawl.Categories,
			Lookback:        cfg.Crawl.Lookback(),
			PageWorkers:     cfg.Crawl.PageWorkers,
			CategoryWorkers: cfg.Crawl.CategoryWorkers,
			PageDelay:       cfg.Crawl.PageDelay(),
		}, logger),
		collector: collector.New(client, collectorStore, clock, collector.Config{
			BatchSize:  cfg.Items.BatchSize,
			Workers:    cfg.Items.Workers,
			PageSize:   cfg.PNCP.PageSize,
			PageDelay:  cfg.Items.PageDelay(),
			MaxNotices: cfg.Items.MaxNotices,
		}, logger),
		pipeline: transform.New(transformStore, clock, transform.Config{
			NoticeBatchSize: cfg.Transform.NoticeBatchSize,
			ItemBatchSize:   cfg.Transform.ItemBatchSize,
			Workers:         cfg.Transform.Workers,
			CategoryLabels:  cfg.Crawl.Labels(),
		}, logger),
		notifier: notify.NewService(profileStore, engine, notify.NewLogMailer(logger), clock, logger),
	}
	return a, nil
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config {
	return a.cfg
}

// Crawl runs the watermark crawler once.
func (a *App) Crawl(ctx context.Context) (harvest.CrawlSummary, error) {
	return a.crawler.Run(ctx)
}

// Items runs the sub-item collector once.
func (a *App) Items(ctx context.Context) (harvest.CollectSummary, error) {
	return a.collector.Run(ctx)
}

// Transform runs the normalization pipeline once.
func (a *App) Transform(ctx context.Context) (harvest.TransformSummary, error) {
	return a.pipeline.Run(ctx)
}

// Notify runs the matching/notification pass once.
func (a *App) Notify(ctx context.Context) (harvest.NotifySummary, error) {
	return a.notifier.Run(ctx)
}

// Pipeline chains crawl, items, transform and notify, failing fast.
func (a *App) Pipeline(ctx context.Context) (harvest.PipelineSummary, error) {
	return runPipeline(ctx, a.Crawl, a.Items, a.Transform, a.Notify, system.Clock{}, a.logger)
}

// Runners exposes the stage entrypoints to the HTTP server.
func (a *App) Runners() api.Runners {
	return api.Runners{
		Crawl:     a.Crawl,
		Items:     a.Items,
		Transform: a.Transform,
		Notify:    a.Notify,
		Pipeline:  a.Pipeline,
	}
}

// Ready reports whether the database answers.
func (a *App) Ready(ctx context.Context) error {
	if err := a.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	return nil
}

// Server builds the HTTP server over this app's runners.
func (a *App) Server() *api.Server {
	return api.NewServer(a.Runners(), a.Ready, a.cfg, a.logger)
}

// Close releases the shared resources.
func (a *App) Close() {
	a.pool.Close()
	_ = a.logger.Sync()
}
