package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/licitabr/pncp-harvester/internal/harvest"
)

// NoticeStore is the bronze sink for crawled notices.
type NoticeStore struct {
	db DB
}

// NewNoticeStore wraps a pool (or mock) in a NoticeStore.
func NewNoticeStore(db DB) (*NoticeStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	return &NoticeStore{db: db}, nil
}

const upsertNoticeSQL = `
INSERT INTO bronze_pncp_licitacoes (identificador_pncp, data_publicacao, codigo_modalidade, payload)
VALUES ($1, $2, $3, $4)
ON CONFLICT (identificador_pncp) DO UPDATE SET
	payload = EXCLUDED.payload,
	data_publicacao = EXCLUDED.data_publicacao
WHERE bronze_pncp_licitacoes.payload IS DISTINCT FROM EXCLUDED.payload
RETURNING (xmax = 0) AS inserted`

// Upsert writes one raw notice. The DO UPDATE is guarded by IS DISTINCT FROM,
// so re-crawling an overlapping date range leaves identical rows untouched
// and reports them as unchanged.
func (s *NoticeStore) Upsert(
	ctx context.Context,
	controlNumber string,
	publishedAt time.Time,
	category int,
	payload []byte,
) (harvest.UpsertOutcome, error) {
	if controlNumber == "" {
		return harvest.UpsertUnchanged, fmt.Errorf("control number is required")
	}
	var inserted bool
	err := s.db.QueryRow(ctx, upsertNoticeSQL, controlNumber, publishedAt, category, payload).Scan(&inserted)
	if errors.Is(err, pgx.ErrNoRows) {
		return harvest.UpsertUnchanged, nil
	}
	if err != nil {
		return harvest.UpsertUnchanged, fmt.Errorf("upsert notice %s: %w", controlNumber, err)
	}
	if inserted {
		return harvest.UpsertInserted, nil
	}
	return harvest.UpsertUpdated, nil
}
