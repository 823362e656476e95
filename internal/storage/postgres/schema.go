package postgres

import (
	"context"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS bronze_pncp_licitacoes (
		id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		identificador_pncp TEXT NOT NULL UNIQUE,
		data_publicacao TIMESTAMP NOT NULL,
		codigo_modalidade INTEGER NOT NULL,
		payload JSONB NOT NULL,
		status_processamento TEXT NOT NULL DEFAULT 'PENDING',
		status_itens TEXT NOT NULL DEFAULT 'PENDING',
		ingested_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_bronze_licitacoes_status
		ON bronze_pncp_licitacoes (status_processamento)`,
	`CREATE INDEX IF NOT EXISTS idx_bronze_licitacoes_status_itens
		ON bronze_pncp_licitacoes (status_itens)`,
	`CREATE INDEX IF NOT EXISTS idx_bronze_licitacoes_data_publicacao
		ON bronze_pncp_licitacoes (data_publicacao)`,
	`CREATE TABLE IF NOT EXISTS bronze_pncp_itens (
		id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		licitacao_identificador TEXT NOT NULL,
		payload JSONB NOT NULL,
		status_processamento TEXT NOT NULL DEFAULT 'PENDING',
		ingested_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_bronze_itens_status
		ON bronze_pncp_itens (status_processamento)`,
	`CREATE INDEX IF NOT EXISTS idx_bronze_itens_licitacao
		ON bronze_pncp_itens (licitacao_identificador)`,
	`CREATE TABLE IF NOT EXISTS progresso_coleta (
		codigo_modalidade INTEGER PRIMARY KEY,
		ultima_data_publicacao TIMESTAMP NOT NULL,
		data_atualizacao TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS silver_licitacoes (
		identificador_pncp TEXT PRIMARY KEY,
		objeto_compra TEXT,
		ano_compra INTEGER,
		data_publicacao TIMESTAMP,
		data_encerramento TIMESTAMP,
		municipio_nome TEXT,
		uf_sigla TEXT,
		orgao_razao_social TEXT,
		orgao_cnpj TEXT,
		valor_total_estimado NUMERIC,
		valor_total_homologado NUMERIC,
		situacao_nome TEXT,
		modalidade_nome TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_silver_licitacoes_uf
		ON silver_licitacoes (uf_sigla)`,
	`CREATE INDEX IF NOT EXISTS idx_silver_licitacoes_encerramento
		ON silver_licitacoes (data_encerramento)`,
	`CREATE TABLE IF NOT EXISTS silver_itens (
		id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		licitacao_identificador TEXT NOT NULL,
		numero_item INTEGER,
		descricao TEXT,
		quantidade NUMERIC,
		valor_unitario_estimado NUMERIC,
		valor_total_estimado NUMERIC,
		unidade_medida VARCHAR(50),
		situacao_item_nome TEXT,
		categoria_item_nome TEXT,
		UNIQUE (licitacao_identificador, numero_item)
	)`,
	`CREATE TABLE IF NOT EXISTS email_notifications (
		id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		user_id BIGINT NOT NULL,
		config_id BIGINT,
		licitacao_identificador TEXT NOT NULL,
		sent_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		status VARCHAR(50) NOT NULL DEFAULT 'sent',
		matched_keywords TEXT,
		error_message TEXT,
		UNIQUE (user_id, licitacao_identificador)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_email_notifications_user
		ON email_notifications (user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_email_notifications_licitacao
		ON email_notifications (licitacao_identificador)`,
}

// EnsureSchema creates the harvester tables when they do not exist yet.
// The user/profile tables (usuarios, cliente_configs) are owned by the web
// application and only read here.
func EnsureSchema(ctx context.Context, db DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
