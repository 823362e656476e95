package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// WatermarkStore persists the per-category crawl position.
type WatermarkStore struct {
	db DB
}

// NewWatermarkStore wraps a pool (or mock) in a WatermarkStore.
func NewWatermarkStore(db DB) (*WatermarkStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	return &WatermarkStore{db: db}, nil
}

// Last returns the stored watermark for a category; found is false when the
// category has never been crawled.
func (s *WatermarkStore) Last(ctx context.Context, category int) (time.Time, bool, error) {
	var ts time.Time
	err := s.db.QueryRow(ctx,
		`SELECT ultima_data_publicacao FROM progresso_coleta WHERE codigo_modalidade = $1`,
		category,
	).Scan(&ts)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read watermark for category %d: %w", category, err)
	}
	return ts, true, nil
}

const advanceWatermarkSQL = `
INSERT INTO progresso_coleta (codigo_modalidade, ultima_data_publicacao, data_atualizacao)
VALUES ($1, $2, now())
ON CONFLICT (codigo_modalidade) DO UPDATE SET
	ultima_data_publicacao = GREATEST(progresso_coleta.ultima_data_publicacao, EXCLUDED.ultima_data_publicacao),
	data_atualizacao = now()`

// Advance raises the watermark to ts in a single statement. GREATEST makes
// the update monotonic, so out-of-order or concurrent advances never lower
// the stored value.
func (s *WatermarkStore) Advance(ctx context.Context, category int, ts time.Time) error {
	if _, err := s.db.Exec(ctx, advanceWatermarkSQL, category, ts); err != nil {
		return fmt.Errorf("advance watermark for category %d: %w", category, err)
	}
	return nil
}
