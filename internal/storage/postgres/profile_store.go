package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/licitabr/pncp-harvester/internal/match"
)

// ProfileStore reads user profiles and candidate notices and appends to the
// notification log. It implements match.Store.
type ProfileStore struct {
	db DB
}

// NewProfileStore wraps a pool (or mock) in a ProfileStore.
func NewProfileStore(db DB) (*ProfileStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	return &ProfileStore{db: db}, nil
}

const profileSQL = `
SELECT cc.id, cc.user_id, cc.nome_perfil, cc.palavras_chave,
	COALESCE(cc.palavras_negativas, ''), COALESCE(cc.estados_padrao, ''),
	u.username, COALESCE(u.nome_completo, '')
FROM cliente_configs cc
INNER JOIN usuarios u ON u.id = cc.user_id
WHERE cc.id = $1 AND cc.user_id = $2`

// Profile loads one saved filter, verifying it belongs to the given user.
func (s *ProfileStore) Profile(ctx context.Context, configID, userID int64) (match.Profile, error) {
	var p match.Profile
	err := s.db.QueryRow(ctx, profileSQL, configID, userID).Scan(
		&p.ConfigID, &p.UserID, &p.Name, &p.Keywords,
		&p.NegativeKeywords, &p.Regions, &p.Email, &p.FullName,
	)
	if err != nil {
		return match.Profile{}, fmt.Errorf("load profile %d for user %d: %w", configID, userID, err)
	}
	return p, nil
}

const activeProfilesSQL = `
SELECT cc.id, cc.user_id, cc.nome_perfil, cc.palavras_chave,
	COALESCE(cc.palavras_negativas, ''), COALESCE(cc.estados_padrao, ''),
	u.username, COALESCE(u.nome_completo, '')
FROM cliente_configs cc
INNER JOIN usuarios u ON u.id = cc.user_id
WHERE cc.palavras_chave IS NOT NULL AND btrim(cc.palavras_chave) <> ''
	AND cc.estados_padrao IS NOT NULL AND btrim(cc.estados_padrao) NOT IN ('', '[]')
ORDER BY cc.id`

// ActiveProfiles returns every profile with at least one keyword and one
// region configured.
func (s *ProfileStore) ActiveProfiles(ctx context.Context) ([]match.Profile, error) {
	rows, err := s.db.Query(ctx, activeProfilesSQL)
	if err != nil {
		return nil, fmt.Errorf("list active profiles: %w", err)
	}
	defer rows.Close()

	var out []match.Profile
	for rows.Next() {
		var p match.Profile
		if err := rows.Scan(
			&p.ConfigID, &p.UserID, &p.Name, &p.Keywords,
			&p.NegativeKeywords, &p.Regions, &p.Email, &p.FullName,
		); err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list active profiles: %w", err)
	}
	return out, nil
}

// candidatesSQL joins open published notices against their items, flags which
// side of the notice matched, and ranks matching items first within each
// notice. Rows beyond item rank 3 are kept only when the notice matched on
// its description or has no items at all. The row cap is generous; the
// engine applies the per-profile notice cap after grouping.
const candidatesSQL = `
WITH ranked_items AS (
	SELECT
		sl.identificador_pncp,
		sl.objeto_compra,
		sl.ano_compra,
		sl.data_publicacao,
		sl.data_encerramento,
		sl.municipio_nome,
		sl.uf_sigla,
		sl.orgao_razao_social,
		sl.orgao_cnpj,
		sl.valor_total_estimado,
		sl.valor_total_homologado,
		sl.situacao_nome,
		sl.modalidade_nome,
		si.id AS item_id,
		si.numero_item,
		si.descricao AS item_descricao,
		si.categoria_item_nome,
		COALESCE(si.descricao ILIKE ANY($1), FALSE) AS item_matched,
		(sl.objeto_compra ILIKE ANY($1)) AS objeto_matched,
		ROW_NUMBER() OVER (
			PARTITION BY sl.identificador_pncp
			ORDER BY CASE WHEN COALESCE(si.descricao ILIKE ANY($1), FALSE) THEN 0 ELSE 1 END,
				si.numero_item NULLS LAST
		) AS item_rank
	FROM silver_licitacoes sl
	LEFT JOIN silver_itens si ON si.licitacao_identificador = sl.identificador_pncp
	WHERE sl.situacao_nome = $2
		AND (sl.data_encerramento IS NULL OR sl.data_encerramento >= $3)
		AND sl.uf_sigla = ANY($4)
		AND (sl.objeto_compra ILIKE ANY($1)
			OR EXISTS (
				SELECT 1 FROM silver_itens m
				WHERE m.licitacao_identificador = sl.identificador_pncp
					AND m.descricao ILIKE ANY($1)
			))
		AND ($5::text[] IS NULL OR NOT (
			COALESCE(sl.objeto_compra ILIKE ANY($5), FALSE)
			OR EXISTS (
				SELECT 1 FROM silver_itens n
				WHERE n.licitacao_identificador = sl.identificador_pncp
					AND n.descricao ILIKE ANY($5)
			)))
		AND NOT EXISTS (
			SELECT 1 FROM email_notifications en
			WHERE en.user_id = $6
				AND en.licitacao_identificador = sl.identificador_pncp
		)
)
SELECT identificador_pncp, objeto_compra, ano_compra, data_publicacao,
	data_encerramento, municipio_nome, uf_sigla, orgao_razao_social,
	orgao_cnpj, valor_total_estimado, valor_total_homologado, situacao_nome,
	modalidade_nome, item_id, numero_item, item_descricao,
	categoria_item_nome, item_matched, objeto_matched, item_rank
FROM ranked_items
WHERE item_rank <= 3 OR objeto_matched OR item_id IS NULL
ORDER BY valor_total_estimado DESC NULLS LAST, data_publicacao DESC,
	identificador_pncp, item_rank
LIMIT 200`

// Candidates runs the profile filter against the normalized tables.
func (s *ProfileStore) Candidates(ctx context.Context, q match.CandidateQuery) ([]match.CandidateRow, error) {
	var negative []string
	if len(q.Negative) > 0 {
		negative = q.Negative
	}
	rows, err := s.db.Query(ctx, candidatesSQL,
		q.Positive, q.PublishedStatus, q.Now, q.Regions, negative, q.UserID)
	if err != nil {
		return nil, fmt.Errorf("query candidates: %w", err)
	}
	defer rows.Close()

	var out []match.CandidateRow
	for rows.Next() {
		var r match.CandidateRow
		if err := rows.Scan(
			&r.ControlNumber, &r.Description, &r.Year, &r.PublishedAt,
			&r.ClosesAt, &r.City, &r.Region, &r.BuyerName,
			&r.BuyerID, &r.EstimatedTotal, &r.AwardedTotal, &r.Status,
			&r.CategoryLabel, &r.ItemID, &r.ItemNumber, &r.ItemDesc,
			&r.ItemCategory, &r.ItemMatched, &r.ObjectMatched, &r.ItemRank,
		); err != nil {
			return nil, fmt.Errorf("scan candidate row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query candidates: %w", err)
	}
	return out, nil
}

const logNotificationSQL = `
INSERT INTO email_notifications (user_id, config_id, licitacao_identificador, status, matched_keywords, error_message)
VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''))
ON CONFLICT (user_id, licitacao_identificador) DO NOTHING`

// LogNotification appends one attempt. The (user, notice) unique constraint
// turns a retried send into a no-op instead of a duplicate row.
func (s *ProfileStore) LogNotification(ctx context.Context, rec match.NotificationRecord) error {
	_, err := s.db.Exec(ctx, logNotificationSQL,
		rec.UserID, rec.ConfigID, rec.ControlNumber,
		rec.Status, strings.Join(rec.Keywords, ", "), rec.ErrorMessage)
	if err != nil {
		return fmt.Errorf("log notification for user %d notice %s: %w", rec.UserID, rec.ControlNumber, err)
	}
	return nil
}
