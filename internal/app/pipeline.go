package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/licitabr/pncp-harvester/internal/harvest"
	"github.com/licitabr/pncp-harvester/internal/metrics"
)

// runPipeline chains the four stages in order, failing fast: a later stage
// only sees what an earlier one produced, so running on after a failure
// would notify on stale data.
func runPipeline(
	ctx context.Context,
	crawl func(context.Context) (harvest.CrawlSummary, error),
	items func(context.Context) (harvest.CollectSummary, error),
	transformRun func(context.Context) (harvest.TransformSummary, error),
	notifyRun func(context.Context) (harvest.NotifySummary, error),
	clock harvest.Clock,
	logger *zap.Logger,
) (harvest.PipelineSummary, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	start := clock.Now()
	summary := harvest.PipelineSummary{}

	var err error
	if summary.Crawl, err = crawl(ctx); err != nil {
		summary.Duration = clock.Now().Sub(start)
		return summary, fmt.Errorf("crawl stage: %w", err)
	}
	logger.Info("pipeline stage done", zap.String("stage", "crawl"),
		zap.Duration("duration", summary.Crawl.Duration))

	if summary.Collect, err = items(ctx); err != nil {
		summary.Duration = clock.Now().Sub(start)
		return summary, fmt.Errorf("items stage: %w", err)
	}
	logger.Info("pipeline stage done", zap.String("stage", "items"),
		zap.Duration("duration", summary.Collect.Duration))

	if summary.Transform, err = transformRun(ctx); err != nil {
		summary.Duration = clock.Now().Sub(start)
		return summary, fmt.Errorf("transform stage: %w", err)
	}
	logger.Info("pipeline stage done", zap.String("stage", "transform"),
		zap.Duration("duration", summary.Transform.Duration))

	if summary.Notify, err = notifyRun(ctx); err != nil {
		summary.Duration = clock.Now().Sub(start)
		return summary, fmt.Errorf("notify stage: %w", err)
	}
	logger.Info("pipeline stage done", zap.String("stage", "notify"),
		zap.Duration("duration", summary.Notify.Duration))

	summary.Duration = clock.Now().Sub(start)
	metrics.ObserveStage("pipeline", summary.Duration)
	return summary, nil
}
