// Package harvest defines core types shared across the ingestion subsystems.
package harvest

import "time"

// NormStatus tracks whether a raw row has been normalized into the silver tables.
type NormStatus string

// Normalization status values persisted on bronze rows.
const (
	NormPending   NormStatus = "PENDING"
	NormProcessed NormStatus = "PROCESSED"
)

// ItemsStatus tracks sub-item collection for a notice.
type ItemsStatus string

// Item-collection status values. Skip is terminal: the payload lacks the
// business keys needed to call the item endpoint, so there is nothing to retry.
const (
	ItemsPending   ItemsStatus = "PENDING"
	ItemsSkip      ItemsStatus = "SKIP"
	ItemsCompleted ItemsStatus = "COMPLETED"
)

// UpsertOutcome reports what a raw-notice upsert actually did.
type UpsertOutcome int

// Upsert outcomes. Unchanged means a row with the same control number and an
// identical payload already existed and was left untouched.
const (
	UpsertUnchanged UpsertOutcome = iota
	UpsertInserted
	UpsertUpdated
)

func (o UpsertOutcome) String() string {
	switch o {
	case UpsertInserted:
		return "inserted"
	case UpsertUpdated:
		return "updated"
	default:
		return "unchanged"
	}
}

// RawNotice is a bronze procurement notice exactly as received from the API.
type RawNotice struct {
	ID            int64
	ControlNumber string
	PublishedAt   time.Time
	Category      int
	Payload       []byte
	NormStatus    NormStatus
	ItemsStatus   ItemsStatus
	IngestedAt    time.Time
}

// RawItem is a bronze line item belonging to a notice.
type RawItem struct {
	ID            int64
	NoticeControl string
	Payload       []byte
	NormStatus    NormStatus
	IngestedAt    time.Time
}

// Watermark records the newest publication timestamp already ingested for a
// category; it drives the incremental re-crawl window.
type Watermark struct {
	Category        int
	LastPublishedAt time.Time
}

// Notice is the normalized (silver) projection of a raw notice.
type Notice struct {
	ControlNumber  string
	Description    string
	Year           int
	PublishedAt    time.Time
	ClosesAt       *time.Time
	City           string
	Region         string
	BuyerName      string
	BuyerID        string
	EstimatedTotal float64
	AwardedTotal   *float64
	Status         string
	CategoryLabel  string
}

// NoticeItem is the normalized projection of a raw line item.
type NoticeItem struct {
	NoticeControl string
	Number        int
	Description   string
	Quantity      float64
	UnitPrice     float64
	Total         float64
	Unit          string
	Status        string
	CategoryName  string
}

// CrawlSummary is returned by a crawl run.
type CrawlSummary struct {
	Categories int           `json:"categories"`
	Pages      int           `json:"pages"`
	Inserted   int           `json:"inserted"`
	Updated    int           `json:"updated"`
	Unchanged  int           `json:"unchanged"`
	Failed     int           `json:"failed"`
	Duration   time.Duration `json:"duration_ms"`
}

// CollectSummary is returned by an item-collection run.
type CollectSummary struct {
	Notices   int           `json:"notices"`
	Items     int           `json:"items"`
	Skipped   int           `json:"skipped"`
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"duration_ms"`
	Exhausted bool          `json:"exhausted"`
}

// TransformSummary is returned by a transform run.
type TransformSummary struct {
	Notices  int           `json:"notices"`
	Items    int           `json:"items"`
	Purged   int64         `json:"purged"`
	Duration time.Duration `json:"duration_ms"`
}

// NotifySummary is returned by a notification run.
type NotifySummary struct {
	Profiles int           `json:"profiles"`
	Sent     int           `json:"sent"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"duration_ms"`
}

// PipelineSummary aggregates the four stage summaries of a full run.
type PipelineSummary struct {
	Crawl     CrawlSummary     `json:"crawl"`
	Collect   CollectSummary   `json:"collect"`
	Transform TransformSummary `json:"transform"`
	Notify    NotifySummary    `json:"notify"`
	Duration  time.Duration    `json:"duration_ms"`
}
