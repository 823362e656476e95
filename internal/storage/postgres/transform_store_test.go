package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/licitabr/pncp-harvester/internal/harvest"
)

func TestTransformStoreProcessNoticeBatch(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewTransformStore(mock)
	require.NoError(t, err)

	published := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM bronze_pncp_licitacoes").
		WithArgs(500).
		WillReturnRows(pgxmock.NewRows(
			[]string{"id", "identificador_pncp", "data_publicacao", "codigo_modalidade", "payload"}).
			AddRow(int64(10), "a-1-1/2024", published, 6, []byte(`{"ok":true}`)).
			AddRow(int64(11), "b-1-2/2024", published, 6, []byte(`broken`)))
	mock.ExpectExec("INSERT INTO silver_licitacoes").
		WithArgs("a-1-1/2024", "Compra de canetas", 2024, published, (*time.Time)(nil),
			"Recife", "PE", "Prefeitura", "123", 1000.0, (*float64)(nil), "Divulgada no PNCP", "Pregão - Eletrônico").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE bronze_pncp_licitacoes SET status_processamento = 'PROCESSED'").
		WithArgs([]int64{10, 11}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))
	mock.ExpectCommit()

	mapFn := func(raw harvest.RawNotice) (harvest.Notice, bool) {
		if raw.ControlNumber != "a-1-1/2024" {
			return harvest.Notice{}, false
		}
		return harvest.Notice{
			ControlNumber:  raw.ControlNumber,
			Description:    "Compra de canetas",
			Year:           2024,
			PublishedAt:    published,
			City:           "Recife",
			Region:         "PE",
			BuyerName:      "Prefeitura",
			BuyerID:        "123",
			EstimatedTotal: 1000,
			Status:         "Divulgada no PNCP",
			CategoryLabel:  "Pregão - Eletrônico",
		}, true
	}

	consumed, err := store.ProcessNoticeBatch(context.Background(), 500, mapFn)
	require.NoError(t, err)
	require.Equal(t, 2, consumed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransformStoreProcessNoticeBatchDrained(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewTransformStore(mock)
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM bronze_pncp_licitacoes").
		WithArgs(500).
		WillReturnRows(pgxmock.NewRows(
			[]string{"id", "identificador_pncp", "data_publicacao", "codigo_modalidade", "payload"}))
	mock.ExpectRollback()

	consumed, err := store.ProcessNoticeBatch(context.Background(), 500, func(harvest.RawNotice) (harvest.Notice, bool) {
		t.Fatal("mapFn should not be called on an empty batch")
		return harvest.Notice{}, false
	})
	require.NoError(t, err)
	require.Zero(t, consumed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransformStoreProcessItemBatch(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewTransformStore(mock)
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM bronze_pncp_itens").
		WithArgs(500).
		WillReturnRows(pgxmock.NewRows([]string{"id", "licitacao_identificador", "payload"}).
			AddRow(int64(20), "a-1-1/2024", []byte(`{"numeroItem":1}`)).
			AddRow(int64(21), "a-1-1/2024", []byte(`{"numeroItem":2}`)))
	mock.ExpectExec("INSERT INTO silver_itens").
		WithArgs("a-1-1/2024", 1, "Caneta azul", 10.0, 2.5, 25.0, "UN", "Em andamento", "Material").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE bronze_pncp_itens SET status_processamento = 'PROCESSED'").
		WithArgs([]int64{20, 21}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))
	mock.ExpectCommit()

	mapFn := func(raw harvest.RawItem) (harvest.NoticeItem, bool) {
		if raw.ID != 20 {
			return harvest.NoticeItem{}, false
		}
		return harvest.NoticeItem{
			NoticeControl: raw.NoticeControl,
			Number:        1,
			Description:   "Caneta azul",
			Quantity:      10,
			UnitPrice:     2.5,
			Total:         25,
			Unit:          "UN",
			Status:        "Em andamento",
			CategoryName:  "Material",
		}, true
	}

	consumed, err := store.ProcessItemBatch(context.Background(), 500, mapFn)
	require.NoError(t, err)
	require.Equal(t, 2, consumed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransformStorePurgeClosed(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewTransformStore(mock)
	require.NoError(t, err)

	now := time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec("DELETE FROM silver_licitacoes").
		WithArgs(now).
		WillReturnResult(pgxmock.NewResult("DELETE", 7))

	purged, err := store.PurgeClosed(context.Background(), now)
	require.NoError(t, err)
	require.Equal(t, int64(7), purged)
	require.NoError(t, mock.ExpectationsWereMet())
}
