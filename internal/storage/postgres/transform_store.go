package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/licitabr/pncp-harvester/internal/harvest"
)

// TransformStore claims batches of pending bronze rows and commits the mapped
// silver rows together with the PROCESSED flags.
type TransformStore struct {
	db DB
}

// NewTransformStore wraps a pool (or mock) in a TransformStore.
func NewTransformStore(db DB) (*TransformStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	return &TransformStore{db: db}, nil
}

const claimNoticesSQL = `
SELECT id, identificador_pncp, data_publicacao, codigo_modalidade, payload
FROM bronze_pncp_licitacoes
WHERE status_processamento = 'PENDING'
ORDER BY id
LIMIT $1
FOR UPDATE SKIP LOCKED`

const upsertSilverNoticeSQL = `
INSERT INTO silver_licitacoes (
	identificador_pncp, objeto_compra, ano_compra, data_publicacao,
	data_encerramento, municipio_nome, uf_sigla, orgao_razao_social, orgao_cnpj,
	valor_total_estimado, valor_total_homologado, situacao_nome, modalidade_nome
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT (identificador_pncp) DO UPDATE SET
	data_encerramento = EXCLUDED.data_encerramento,
	valor_total_homologado = EXCLUDED.valor_total_homologado,
	situacao_nome = EXCLUDED.situacao_nome,
	objeto_compra = EXCLUDED.objeto_compra`

// ProcessNoticeBatch claims up to limit pending raw notices under row locks,
// upserts the rows mapFn accepts and marks every claimed row PROCESSED, all
// in one transaction. SKIP LOCKED keeps concurrent workers from claiming
// overlapping batches. Returns the number of raw rows consumed.
func (s *TransformStore) ProcessNoticeBatch(
	ctx context.Context,
	limit int,
	mapFn func(harvest.RawNotice) (harvest.Notice, bool),
) (int, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin notice batch: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	rows, err := tx.Query(ctx, claimNoticesSQL, limit)
	if err != nil {
		return 0, fmt.Errorf("claim pending notices: %w", err)
	}
	var raws []harvest.RawNotice
	for rows.Next() {
		var r harvest.RawNotice
		if err := rows.Scan(&r.ID, &r.ControlNumber, &r.PublishedAt, &r.Category, &r.Payload); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan claimed notice: %w", err)
		}
		raws = append(raws, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate claimed notices: %w", err)
	}
	if len(raws) == 0 {
		return 0, nil
	}

	ids := make([]int64, 0, len(raws))
	for _, raw := range raws {
		ids = append(ids, raw.ID)
		notice, ok := mapFn(raw)
		if !ok {
			continue
		}
		if _, err := tx.Exec(ctx, upsertSilverNoticeSQL,
			notice.ControlNumber,
			notice.Description,
			notice.Year,
			notice.PublishedAt,
			notice.ClosesAt,
			notice.City,
			notice.Region,
			notice.BuyerName,
			notice.BuyerID,
			notice.EstimatedTotal,
			notice.AwardedTotal,
			notice.Status,
			notice.CategoryLabel,
		); err != nil {
			return 0, fmt.Errorf("upsert silver notice %s: %w", notice.ControlNumber, err)
		}
	}

	if _, err := tx.Exec(ctx,
		`UPDATE bronze_pncp_licitacoes SET status_processamento = 'PROCESSED' WHERE id = ANY($1)`,
		ids,
	); err != nil {
		return 0, fmt.Errorf("mark notices processed: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit notice batch: %w", err)
	}
	return len(raws), nil
}

const claimItemsSQL = `
SELECT b.id, b.licitacao_identificador, b.payload
FROM bronze_pncp_itens b
WHERE b.status_processamento = 'PENDING'
AND EXISTS (
	SELECT 1 FROM silver_licitacoes s
	WHERE s.identificador_pncp = b.licitacao_identificador
)
ORDER BY b.id
LIMIT $1
FOR UPDATE OF b SKIP LOCKED`

const insertSilverItemSQL = `
INSERT INTO silver_itens (
	licitacao_identificador, numero_item, descricao, quantidade,
	valor_unitario_estimado, valor_total_estimado, unidade_medida,
	situacao_item_nome, categoria_item_nome
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (licitacao_identificador, numero_item) DO NOTHING`

// ProcessItemBatch is the item analogue of ProcessNoticeBatch. The EXISTS
// precondition keeps referential ordering: an item is only claimed once its
// parent notice has a silver row. Duplicate (parent, number) inserts are
// silently ignored.
func (s *TransformStore) ProcessItemBatch(
	ctx context.Context,
	limit int,
	mapFn func(harvest.RawItem) (harvest.NoticeItem, bool),
) (int, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin item batch: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	rows, err := tx.Query(ctx, claimItemsSQL, limit)
	if err != nil {
		return 0, fmt.Errorf("claim pending items: %w", err)
	}
	var raws []harvest.RawItem
	for rows.Next() {
		var r harvest.RawItem
		if err := rows.Scan(&r.ID, &r.NoticeControl, &r.Payload); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan claimed item: %w", err)
		}
		raws = append(raws, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate claimed items: %w", err)
	}
	if len(raws) == 0 {
		return 0, nil
	}

	ids := make([]int64, 0, len(raws))
	for _, raw := range raws {
		ids = append(ids, raw.ID)
		item, ok := mapFn(raw)
		if !ok {
			continue
		}
		if _, err := tx.Exec(ctx, insertSilverItemSQL,
			item.NoticeControl,
			item.Number,
			item.Description,
			item.Quantity,
			item.UnitPrice,
			item.Total,
			item.Unit,
			item.Status,
			item.CategoryName,
		); err != nil {
			return 0, fmt.Errorf("insert silver item %s/%d: %w", item.NoticeControl, item.Number, err)
		}
	}

	if _, err := tx.Exec(ctx,
		`UPDATE bronze_pncp_itens SET status_processamento = 'PROCESSED' WHERE id = ANY($1)`,
		ids,
	); err != nil {
		return 0, fmt.Errorf("mark items processed: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit item batch: %w", err)
	}
	return len(raws), nil
}

// PurgeClosed removes silver notices whose closing date has passed, keeping
// the queryable dataset limited to still-open opportunities.
func (s *TransformStore) PurgeClosed(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM silver_licitacoes WHERE data_encerramento IS NOT NULL AND data_encerramento < $1`,
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("purge closed notices: %w", err)
	}
	return tag.RowsAffected(), nil
}
