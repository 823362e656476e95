// Package collector drains notices awaiting sub-item collection: it extracts
// the business keys from each raw payload, pages the PNCP item endpoint and
// stores the items together with the COMPLETED status flip.
package collector

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/licitabr/pncp-harvester/internal/harvest"
	"github.com/licitabr/pncp-harvester/internal/metrics"
)

// Config controls one collection run.
type Config struct {
	// BatchSize is how many pending notices are pulled per round.
	BatchSize int
	// Workers caps the notices collected concurrently.
	Workers int
	// PageSize is the expected item page length; a shorter page ends
	// pagination.
	PageSize int
	// PageDelay spaces successive item-page fetches per notice.
	PageDelay time.Duration
	// MaxNotices bounds one run; zero means drain everything pending.
	MaxNotices int
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.Workers <= 0 {
		c.Workers = 5
	}
	if c.PageSize <= 0 {
		c.PageSize = 50
	}
	if c.PageDelay < 0 {
		c.PageDelay = 0
	}
	return c
}

// Collector fetches and stores line items for harvested notices.
type Collector struct {
	fetcher harvest.ItemFetcher
	store   harvest.CollectorStore
	clock   harvest.Clock
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Collector.
func New(
	fetcher harvest.ItemFetcher,
	store harvest.CollectorStore,
	clock harvest.Clock,
	cfg Config,
	logger *zap.Logger,
) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{
		fetcher: fetcher,
		store:   store,
		clock:   clock,
		cfg:     cfg.withDefaults(),
		logger:  logger.Named("collector"),
	}
}

type noticeResult struct {
	items   int
	skipped bool
	failed  bool
}

// Run drains pending notices in rounds until the queue is empty or the run
// cap is reached. A notice that fails stays PENDING and is retried on the
// next run; a notice whose payload lacks the business keys is terminally
// skipped.
func (c *Collector) Run(ctx context.Context) (harvest.CollectSummary, error) {
	start := c.clock.Now()
	summary := harvest.CollectSummary{}

	for {
		if ctx.Err() != nil {
			break
		}
		limit := c.cfg.BatchSize
		if c.cfg.MaxNotices > 0 {
			remaining := c.cfg.MaxNotices - summary.Notices
			if remaining <= 0 {
				break
			}
			if remaining < limit {
				limit = remaining
			}
		}

		pending, err := c.store.PendingItemCollection(ctx, limit)
		if err != nil {
			summary.Duration = c.clock.Now().Sub(start)
			return summary, err
		}
		if len(pending) == 0 {
			summary.Exhausted = true
			break
		}

		results := c.collectBatch(ctx, pending)
		roundItems, roundFailed := 0, 0
		for _, res := range results {
			summary.Notices++
			summary.Items += res.items
			roundItems += res.items
			if res.skipped {
				summary.Skipped++
			}
			if res.failed {
				summary.Failed++
				roundFailed++
			}
		}
		metrics.ObserveItemsCollected(roundItems)

		if len(pending) < limit {
			summary.Exhausted = true
			break
		}
		// Failed notices stay PENDING and would be claimed again right away.
		if roundFailed == len(pending) {
			break
		}
	}

	summary.Duration = c.clock.Now().Sub(start)
	metrics.ObserveStage("items", summary.Duration)
	c.logger.Info("item collection finished",
		zap.Int("notices", summary.Notices),
		zap.Int("items", summary.Items),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
		zap.Bool("exhausted", summary.Exhausted),
		zap.Duration("duration", summary.Duration))
	return summary, nil
}

func (c *Collector) collectBatch(ctx context.Context, pending []harvest.RawNotice) []noticeResult {
	results := make([]noticeResult, len(pending))

	sem := make(chan struct{}, c.cfg.Workers)
	var wg sync.WaitGroup
	for i := range pending {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			metrics.IncActiveWorkers()
			defer metrics.DecActiveWorkers()
			results[i] = c.collectNotice(ctx, pending[i])
		}(i)
	}
	wg.Wait()
	return results
}

func (c *Collector) collectNotice(ctx context.Context, notice harvest.RawNotice) noticeResult {
	logger := c.logger.With(zap.String("control_number", notice.ControlNumber))

	cnpj, year, seq, ok := harvest.ItemKeys(notice.Payload)
	if !ok {
		if err := c.store.MarkItemsSkipped(ctx, notice.ControlNumber); err != nil {
			logger.Error("mark skipped failed", zap.Error(err))
			return noticeResult{failed: true}
		}
		logger.Warn("payload lacks item business keys, notice skipped")
		return noticeResult{skipped: true}
	}

	var payloads [][]byte
	for page := 1; ; page++ {
		fetched, err := c.fetcher.FetchItemPage(ctx, cnpj, year, seq, page)
		if err != nil {
			metrics.ObservePage("items", "error")
			logger.Warn("item page fetch failed, notice left pending",
				zap.Int("page", page), zap.Error(err))
			return noticeResult{failed: true}
		}
		metrics.ObservePage("items", "ok")
		payloads = append(payloads, fetched...)
		if len(fetched) < c.cfg.PageSize {
			break
		}
		if c.cfg.PageDelay > 0 {
			select {
			case <-time.After(c.cfg.PageDelay):
			case <-ctx.Done():
				return noticeResult{failed: true}
			}
		}
	}

	if err := c.store.SaveItems(ctx, notice.ControlNumber, payloads); err != nil {
		logger.Error("save items failed, notice left pending", zap.Error(err))
		return noticeResult{failed: true}
	}
	return noticeResult{items: len(payloads)}
}
