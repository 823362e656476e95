// Package transform normalizes bronze payloads into the silver tables: first
// notices, then their line items, then a purge of already-closed notices.
package transform

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/licitabr/pncp-harvester/internal/harvest"
	"github.com/licitabr/pncp-harvester/internal/metrics"
)

// Config controls one transform run.
type Config struct {
	// NoticeBatchSize is the claim size for raw notices.
	NoticeBatchSize int
	// ItemBatchSize is the claim size for raw items.
	ItemBatchSize int
	// Workers caps concurrent batch claims per phase.
	Workers int
	// CategoryLabels maps modality codes to display names.
	CategoryLabels map[int]string
}

func (c Config) withDefaults() Config {
	if c.NoticeBatchSize <= 0 {
		c.NoticeBatchSize = 500
	}
	if c.ItemBatchSize <= 0 {
		c.ItemBatchSize = 2000
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.CategoryLabels == nil {
		c.CategoryLabels = map[int]string{
			6: "Pregão - Eletrônico",
			8: "Dispensa",
			9: "Inexigibilidade",
		}
	}
	return c
}

// Pipeline drains pending bronze rows into the silver tables.
type Pipeline struct {
	store  harvest.TransformStore
	clock  harvest.Clock
	cfg    Config
	logger *zap.Logger
}

// New constructs a Pipeline.
func New(store harvest.TransformStore, clock harvest.Clock, cfg Config, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		store:  store,
		clock:  clock,
		cfg:    cfg.withDefaults(),
		logger: logger.Named("transform"),
	}
}

// Run drains notices, then items, then purges closed silver notices. Items
// run strictly after notices so parents exist before children are claimed.
// The first error from any worker stops its phase and is returned after the
// phase drains.
func (p *Pipeline) Run(ctx context.Context) (harvest.TransformSummary, error) {
	start := p.clock.Now()
	summary := harvest.TransformSummary{}

	notices, err := p.drain(ctx, func(ctx context.Context) (int, error) {
		return p.store.ProcessNoticeBatch(ctx, p.cfg.NoticeBatchSize, p.mapNotice)
	})
	summary.Notices = notices
	metrics.ObserveTransformed("notices", notices)
	if err != nil {
		summary.Duration = p.clock.Now().Sub(start)
		return summary, err
	}

	items, err := p.drain(ctx, func(ctx context.Context) (int, error) {
		return p.store.ProcessItemBatch(ctx, p.cfg.ItemBatchSize, p.mapItem)
	})
	summary.Items = items
	metrics.ObserveTransformed("items", items)
	if err != nil {
		summary.Duration = p.clock.Now().Sub(start)
		return summary, err
	}

	purged, err := p.store.PurgeClosed(ctx, p.clock.Now())
	summary.Purged = purged
	summary.Duration = p.clock.Now().Sub(start)
	metrics.ObserveStage("transform", summary.Duration)

	p.logger.Info("transform run finished",
		zap.Int("notices", summary.Notices),
		zap.Int("items", summary.Items),
		zap.Int64("purged", summary.Purged),
		zap.Duration("duration", summary.Duration))
	return summary, err
}

// drain runs claim rounds concurrently until a round consumes nothing.
// SKIP LOCKED in the store keeps the workers from claiming overlapping rows.
func (p *Pipeline) drain(ctx context.Context, claim func(context.Context) (int, error)) (int, error) {
	var (
		mu       sync.Mutex
		total    int
		firstErr error
	)

	var wg sync.WaitGroup
	for w := 0; w < p.cfg.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			metrics.IncActiveWorkers()
			defer metrics.DecActiveWorkers()
			for {
				if ctx.Err() != nil {
					return
				}
				mu.Lock()
				stop := firstErr != nil
				mu.Unlock()
				if stop {
					return
				}

				consumed, err := claim(ctx)
				mu.Lock()
				total += consumed
				if err != nil && firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				if err != nil || consumed == 0 {
					return
				}
			}
		}()
	}
	wg.Wait()
	return total, firstErr
}

// mapNotice projects a raw notice payload onto the silver schema. A payload
// that cannot be parsed is consumed without a silver row so it never wedges
// the queue.
func (p *Pipeline) mapNotice(raw harvest.RawNotice) (harvest.Notice, bool) {
	notice, err := harvest.ExtractNotice(raw.Payload)
	if err != nil {
		p.logger.Warn("unparseable notice payload consumed",
			zap.Int64("id", raw.ID),
			zap.String("control_number", raw.ControlNumber),
			zap.Error(err))
		return harvest.Notice{}, false
	}
	if notice.CategoryLabel == "" {
		notice.CategoryLabel = p.cfg.CategoryLabels[raw.Category]
	}
	return notice, true
}

// mapItem projects a raw line item. Items no longer in progress are consumed
// without a silver row: the business filter wants open items only.
func (p *Pipeline) mapItem(raw harvest.RawItem) (harvest.NoticeItem, bool) {
	item := harvest.ExtractItem(raw.NoticeControl, raw.Payload)
	if item.Status != harvest.ItemStatusInProgress {
		return harvest.NoticeItem{}, false
	}
	return item, true
}
