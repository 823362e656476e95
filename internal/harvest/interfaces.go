package harvest

import (
	"context"
	"time"
)

// Page is one page of notice payloads returned by the upstream list endpoint.
type Page struct {
	Records    [][]byte
	TotalPages int
}

// PageFetcher issues one paginated list request for a category/date range.
// A fetch that hits HTTP 204 returns an empty page and no error.
type PageFetcher interface {
	FetchPage(ctx context.Context, category int, from, to time.Time, page int) (Page, error)
}

// ItemFetcher pages the sub-item endpoint for one notice's business keys.
type ItemFetcher interface {
	FetchItemPage(ctx context.Context, cnpj string, year, seq, page int) ([][]byte, error)
}

// NoticeStore is the idempotent bronze sink for crawled notices.
type NoticeStore interface {
	// Upsert writes a raw notice keyed on its control number. The payload and
	// timestamp are only overwritten when the incoming payload differs from
	// the stored one.
	Upsert(ctx context.Context, controlNumber string, publishedAt time.Time, category int, payload []byte) (UpsertOutcome, error)
}

// WatermarkStore persists the per-category incremental crawl position.
type WatermarkStore interface {
	Last(ctx context.Context, category int) (time.Time, bool, error)
	// Advance raises the watermark to ts; it never lowers the stored value.
	Advance(ctx context.Context, category int, ts time.Time) error
}

// CollectorStore is what the sub-item collector needs from the bronze tables.
type CollectorStore interface {
	PendingItemCollection(ctx context.Context, limit int) ([]RawNotice, error)
	MarkItemsSkipped(ctx context.Context, controlNumber string) error
	// SaveItems appends the collected item payloads and flips the notice to
	// COMPLETED in a single transaction.
	SaveItems(ctx context.Context, controlNumber string, payloads [][]byte) error
}

// TransformStore hands out claimed batches of pending bronze rows and commits
// the mapped silver rows together with the PROCESSED flags.
type TransformStore interface {
	// ProcessNoticeBatch claims up to limit pending raw notices, maps each
	// through mapFn and upserts the results. mapFn returning ok=false means
	// the row is consumed without a silver counterpart. Returns the number of
	// raw rows consumed; zero means the queue is drained.
	ProcessNoticeBatch(ctx context.Context, limit int, mapFn func(RawNotice) (Notice, bool)) (int, error)
	// ProcessItemBatch is the item analogue; only raw items whose parent
	// notice already exists in silver are eligible.
	ProcessItemBatch(ctx context.Context, limit int, mapFn func(RawItem) (NoticeItem, bool)) (int, error)
	// PurgeClosed removes silver notices whose closing date has passed.
	PurgeClosed(ctx context.Context, now time.Time) (int64, error)
}

// Clock returns the current time (swappable in tests).
type Clock interface {
	Now() time.Time
}
