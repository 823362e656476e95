// Package crawler implements the incremental, watermark-driven harvest of
// procurement notices from the PNCP list API into the bronze store.
package crawler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/licitabr/pncp-harvester/internal/harvest"
	"github.com/licitabr/pncp-harvester/internal/metrics"
)

// Config controls one crawl run.
type Config struct {
	// Categories are the PNCP modality codes to harvest.
	Categories []int
	// Lookback bounds the date range when a category has no watermark yet.
	Lookback time.Duration
	// PageWorkers caps the concurrent page fetches within one category.
	PageWorkers int
	// CategoryWorkers caps the categories crawled concurrently.
	CategoryWorkers int
	// PageDelay spaces successive page fetches per worker.
	PageDelay time.Duration
}

func (c Config) withDefaults() Config {
	if len(c.Categories) == 0 {
		c.Categories = []int{6, 8, 9}
	}
	if c.Lookback <= 0 {
		c.Lookback = 7 * 24 * time.Hour
	}
	if c.PageWorkers <= 0 {
		c.PageWorkers = 5
	}
	if c.CategoryWorkers <= 0 {
		c.CategoryWorkers = 3
	}
	if c.PageDelay < 0 {
		c.PageDelay = 0
	}
	return c
}

// Crawler harvests notices for all configured categories.
type Crawler struct {
	fetcher harvest.PageFetcher
	notices harvest.NoticeStore
	marks   harvest.WatermarkStore
	clock   harvest.Clock
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Crawler.
func New(
	fetcher harvest.PageFetcher,
	notices harvest.NoticeStore,
	marks harvest.WatermarkStore,
	clock harvest.Clock,
	cfg Config,
	logger *zap.Logger,
) *Crawler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Crawler{
		fetcher: fetcher,
		notices: notices,
		marks:   marks,
		clock:   clock,
		cfg:     cfg.withDefaults(),
		logger:  logger.Named("crawler"),
	}
}

type categoryResult struct {
	pages     int
	inserted  int
	updated   int
	unchanged int
	failed    int
	newest    time.Time
	// truncated means a page fetch failed and the category stopped paging
	// early; the watermark stays put so the next run re-covers the window.
	truncated bool
	err       error
}

// Run crawls every configured category. Categories run concurrently under
// the category cap; one category failing does not abort the others. A fetch
// failure only truncates that category's pagination; the run errors when a
// category hits an infrastructure failure (watermark store unreachable).
func (c *Crawler) Run(ctx context.Context) (harvest.CrawlSummary, error) {
	start := c.clock.Now()
	results := make([]categoryResult, len(c.cfg.Categories))

	sem := make(chan struct{}, c.cfg.CategoryWorkers)
	var wg sync.WaitGroup
	for i, category := range c.cfg.Categories {
		wg.Add(1)
		go func(i, category int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = c.crawlCategory(ctx, category)
		}(i, category)
	}
	wg.Wait()

	summary := harvest.CrawlSummary{Duration: c.clock.Now().Sub(start)}
	failedCategories := 0
	for i, res := range results {
		summary.Pages += res.pages
		summary.Inserted += res.inserted
		summary.Updated += res.updated
		summary.Unchanged += res.unchanged
		summary.Failed += res.failed
		if res.err != nil {
			failedCategories++
			c.logger.Error("category crawl failed",
				zap.Int("category", c.cfg.Categories[i]), zap.Error(res.err))
			continue
		}
		if res.truncated {
			c.logger.Warn("category crawl truncated, window will be re-covered next run",
				zap.Int("category", c.cfg.Categories[i]), zap.Int("pages", res.pages))
			continue
		}
		summary.Categories++
	}
	metrics.ObserveStage("crawl", summary.Duration)

	c.logger.Info("crawl run finished",
		zap.Int("categories", summary.Categories),
		zap.Int("pages", summary.Pages),
		zap.Int("inserted", summary.Inserted),
		zap.Int("updated", summary.Updated),
		zap.Int("unchanged", summary.Unchanged),
		zap.Int("failed_records", summary.Failed),
		zap.Duration("duration", summary.Duration))

	if failedCategories > 0 {
		return summary, fmt.Errorf("%d of %d categories failed", failedCategories, len(c.cfg.Categories))
	}
	return summary, nil
}

// crawlCategory fetches page 1 synchronously to learn the page count, then
// drains the remaining pages with a bounded pool. The watermark is advanced
// only after the whole category succeeded, so a partial run re-covers the
// same window next time instead of skipping records.
func (c *Crawler) crawlCategory(ctx context.Context, category int) categoryResult {
	var res categoryResult

	now := c.clock.Now()
	from := now.Add(-c.cfg.Lookback)
	if last, found, err := c.marks.Last(ctx, category); err != nil {
		res.err = fmt.Errorf("read watermark: %w", err)
		return res
	} else if found && last.After(from) {
		from = last
	}

	logger := c.logger.With(zap.Int("category", category))
	logger.Info("crawling category",
		zap.Time("from", from), zap.Time("to", now))

	first, err := c.fetcher.FetchPage(ctx, category, from, now, 1)
	if err != nil {
		metrics.ObservePage("notices", "error")
		logger.Warn("fetch page 1 failed, category truncated", zap.Error(err))
		res.truncated = true
		return res
	}
	metrics.ObservePage("notices", "ok")
	res.pages = 1
	c.persistPage(ctx, category, first, &res, logger)

	if first.TotalPages > 1 {
		pr := c.crawlRemainingPages(ctx, category, from, now, first.TotalPages, logger)
		res.pages += pr.pages
		res.inserted += pr.inserted
		res.updated += pr.updated
		res.unchanged += pr.unchanged
		res.failed += pr.failed
		if pr.newest.After(res.newest) {
			res.newest = pr.newest
		}
		if pr.truncated {
			res.truncated = true
			return res
		}
	}

	if !res.newest.IsZero() {
		if err := c.marks.Advance(ctx, category, res.newest); err != nil {
			res.err = err
			return res
		}
	}
	return res
}

func (c *Crawler) crawlRemainingPages(
	ctx context.Context,
	category int,
	from, to time.Time,
	totalPages int,
	logger *zap.Logger,
) categoryResult {
	pages := make(chan int)
	out := make(chan categoryResult)
	stop := make(chan struct{})
	var stopOnce sync.Once

	workers := c.cfg.PageWorkers
	if remaining := totalPages - 1; remaining < workers {
		workers = remaining
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for page := range pages {
				select {
				case <-stop:
					continue
				default:
				}
				var pr categoryResult
				fetched, err := c.fetcher.FetchPage(ctx, category, from, to, page)
				if err != nil {
					metrics.ObservePage("notices", "error")
					logger.Warn("page fetch failed, truncating pagination",
						zap.Int("page", page), zap.Error(err))
					stopOnce.Do(func() { close(stop) })
					pr.truncated = true
					out <- pr
					continue
				}
				metrics.ObservePage("notices", "ok")
				pr.pages = 1
				c.persistPage(ctx, category, fetched, &pr, logger)
				out <- pr
				if c.cfg.PageDelay > 0 {
					select {
					case <-time.After(c.cfg.PageDelay):
					case <-ctx.Done():
					}
				}
			}
		}()
	}

	go func() {
		defer close(pages)
		for page := 2; page <= totalPages; page++ {
			select {
			case pages <- page:
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		wg.Wait()
		close(out)
	}()

	var agg categoryResult
	for pr := range out {
		agg.pages += pr.pages
		agg.inserted += pr.inserted
		agg.updated += pr.updated
		agg.unchanged += pr.unchanged
		agg.failed += pr.failed
		if pr.newest.After(agg.newest) {
			agg.newest = pr.newest
		}
		if pr.truncated {
			agg.truncated = true
		}
	}
	return agg
}

// persistPage upserts every record on a page. A malformed record is counted
// and logged, never fatal: the rest of the page still lands.
func (c *Crawler) persistPage(
	ctx context.Context,
	category int,
	page harvest.Page,
	res *categoryResult,
	logger *zap.Logger,
) {
	for _, payload := range page.Records {
		controlNumber := harvest.ControlNumber(payload)
		if controlNumber == "" {
			res.failed++
			logger.Warn("record without control number skipped")
			continue
		}
		publishedAt, err := harvest.PublishedAt(payload)
		if err != nil {
			res.failed++
			logger.Warn("record with unparseable publication date skipped",
				zap.String("control_number", controlNumber), zap.Error(err))
			continue
		}

		outcome, err := c.notices.Upsert(ctx, controlNumber, publishedAt, category, payload)
		if err != nil {
			res.failed++
			logger.Warn("notice upsert failed",
				zap.String("control_number", controlNumber), zap.Error(err))
			continue
		}
		metrics.ObserveUpsert(outcome.String())
		switch outcome {
		case harvest.UpsertInserted:
			res.inserted++
		case harvest.UpsertUpdated:
			res.updated++
		default:
			res.unchanged++
		}
		if publishedAt.After(res.newest) {
			res.newest = publishedAt
		}
	}
}
