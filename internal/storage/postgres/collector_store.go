package postgres

import (
	"context"
	"fmt"

	"github.com/licitabr/pncp-harvester/internal/harvest"
)

// CollectorStore serves the sub-item collector's bronze reads and writes.
type CollectorStore struct {
	db DB
}

// NewCollectorStore wraps a pool (or mock) in a CollectorStore.
func NewCollectorStore(db DB) (*CollectorStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	return &CollectorStore{db: db}, nil
}

// PendingItemCollection returns up to limit notices still awaiting item
// collection.
func (s *CollectorStore) PendingItemCollection(ctx context.Context, limit int) ([]harvest.RawNotice, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, identificador_pncp, payload
		 FROM bronze_pncp_licitacoes
		 WHERE status_itens = 'PENDING'
		 ORDER BY id
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select pending item collection: %w", err)
	}
	defer rows.Close()

	var out []harvest.RawNotice
	for rows.Next() {
		var n harvest.RawNotice
		if err := rows.Scan(&n.ID, &n.ControlNumber, &n.Payload); err != nil {
			return nil, fmt.Errorf("scan pending notice: %w", err)
		}
		n.ItemsStatus = harvest.ItemsPending
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending notices: %w", err)
	}
	return out, nil
}

// MarkItemsSkipped terminally marks a notice whose payload lacks the business
// keys needed to fetch items.
func (s *CollectorStore) MarkItemsSkipped(ctx context.Context, controlNumber string) error {
	if _, err := s.db.Exec(ctx,
		`UPDATE bronze_pncp_licitacoes SET status_itens = 'SKIP' WHERE identificador_pncp = $1`,
		controlNumber,
	); err != nil {
		return fmt.Errorf("mark items skipped for %s: %w", controlNumber, err)
	}
	return nil
}

// SaveItems appends the collected item payloads and flips the notice to
// COMPLETED in one transaction, so a crash in between re-triggers collection
// instead of losing the status transition.
func (s *CollectorStore) SaveItems(ctx context.Context, controlNumber string, payloads [][]byte) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin save items: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	for _, payload := range payloads {
		if _, err := tx.Exec(ctx,
			`INSERT INTO bronze_pncp_itens (licitacao_identificador, payload) VALUES ($1, $2)`,
			controlNumber, payload,
		); err != nil {
			return fmt.Errorf("insert item for %s: %w", controlNumber, err)
		}
	}
	if _, err := tx.Exec(ctx,
		`UPDATE bronze_pncp_licitacoes SET status_itens = 'COMPLETED' WHERE identificador_pncp = $1`,
		controlNumber,
	); err != nil {
		return fmt.Errorf("mark items completed for %s: %w", controlNumber, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit save items for %s: %w", controlNumber, err)
	}
	return nil
}
