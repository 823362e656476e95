package transform

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/licitabr/pncp-harvester/internal/harvest"
	"github.com/licitabr/pncp-harvester/internal/metrics"
)

func TestMain(m *testing.M) {
	metrics.Init()
	m.Run()
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type fakeTransformStore struct {
	mu          sync.Mutex
	rawNotices  []harvest.RawNotice
	rawItems    []harvest.RawItem
	notices     []harvest.Notice
	items       []harvest.NoticeItem
	purged      int64
	purgedAt    time.Time
	noticeErr   error
	noticeCalls int
}

func (s *fakeTransformStore) ProcessNoticeBatch(
	_ context.Context,
	limit int,
	mapFn func(harvest.RawNotice) (harvest.Notice, bool),
) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.noticeCalls++
	if s.noticeErr != nil {
		return 0, s.noticeErr
	}
	n := limit
	if n > len(s.rawNotices) {
		n = len(s.rawNotices)
	}
	batch := s.rawNotices[:n]
	s.rawNotices = s.rawNotices[n:]
	for _, raw := range batch {
		if notice, ok := mapFn(raw); ok {
			s.notices = append(s.notices, notice)
		}
	}
	return len(batch), nil
}

func (s *fakeTransformStore) ProcessItemBatch(
	_ context.Context,
	limit int,
	mapFn func(harvest.RawItem) (harvest.NoticeItem, bool),
) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := limit
	if n > len(s.rawItems) {
		n = len(s.rawItems)
	}
	batch := s.rawItems[:n]
	s.rawItems = s.rawItems[n:]
	for _, raw := range batch {
		if item, ok := mapFn(raw); ok {
			s.items = append(s.items, item)
		}
	}
	return len(batch), nil
}

func (s *fakeTransformStore) PurgeClosed(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgedAt = now
	return s.purged, nil
}

func rawNotice(id int64, control string) harvest.RawNotice {
	return harvest.RawNotice{
		ID:            id,
		ControlNumber: control,
		Payload: []byte(fmt.Sprintf(
			`{"numeroControlePNCP":%q,"objetoCompra":"Compra de canetas","anoCompra":2024,"situacaoCompraNome":"Divulgada no PNCP"}`,
			control)),
	}
}

func rawItem(id int64, control, status string) harvest.RawItem {
	return harvest.RawItem{
		ID:            id,
		NoticeControl: control,
		Payload: []byte(fmt.Sprintf(
			`{"numeroItem":%d,"descricao":"Caneta azul","quantidade":10,"valorUnitarioEstimado":2.5,"situacaoCompraItemNome":%q}`,
			id, status)),
	}
}

func TestRunDrainsNoticesThenItemsThenPurges(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeTransformStore{
		rawNotices: []harvest.RawNotice{
			rawNotice(1, "a-1-1/2024"),
			rawNotice(2, "b-1-2/2024"),
			rawNotice(3, "c-1-3/2024"),
		},
		rawItems: []harvest.RawItem{
			rawItem(1, "a-1-1/2024", "Em andamento"),
			rawItem(2, "a-1-1/2024", "Em andamento"),
		},
		purged: 4,
	}

	p := New(store, fixedClock{now}, Config{NoticeBatchSize: 2, Workers: 1}, nil)
	summary, err := p.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, summary.Notices)
	require.Equal(t, 2, summary.Items)
	require.Equal(t, int64(4), summary.Purged)
	require.Equal(t, now, store.purgedAt)
	require.Len(t, store.notices, 3)
	require.Len(t, store.items, 2)
}

func TestRunFiltersItemsNotInProgress(t *testing.T) {
	t.Parallel()

	store := &fakeTransformStore{
		rawItems: []harvest.RawItem{
			rawItem(1, "a-1-1/2024", "Em andamento"),
			rawItem(2, "a-1-1/2024", "Anulado/Revogado/Cancelado"),
			rawItem(3, "a-1-1/2024", "Homologado"),
		},
	}

	p := New(store, fixedClock{time.Now()}, Config{Workers: 1}, nil)
	summary, err := p.Run(context.Background())
	require.NoError(t, err)
	// Every raw row is consumed, but only the open item gets a silver row.
	require.Equal(t, 3, summary.Items)
	require.Len(t, store.items, 1)
	require.Equal(t, "Em andamento", store.items[0].Status)
}

func TestRunConsumesUnparseableNoticeWithoutSilverRow(t *testing.T) {
	t.Parallel()

	store := &fakeTransformStore{
		rawNotices: []harvest.RawNotice{
			{ID: 1, ControlNumber: "x", Payload: []byte(`{"semControle":true}`)},
			rawNotice(2, "b-1-2/2024"),
		},
	}

	p := New(store, fixedClock{time.Now()}, Config{Workers: 1}, nil)
	summary, err := p.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, summary.Notices)
	require.Len(t, store.notices, 1)
	require.Equal(t, "b-1-2/2024", store.notices[0].ControlNumber)
}

func TestRunFillsCategoryLabelFromConfig(t *testing.T) {
	t.Parallel()

	raw := rawNotice(1, "a-1-1/2024")
	raw.Category = 8
	store := &fakeTransformStore{rawNotices: []harvest.RawNotice{raw}}

	p := New(store, fixedClock{time.Now()}, Config{Workers: 1}, nil)
	_, err := p.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, store.notices, 1)
	require.Equal(t, "Dispensa", store.notices[0].CategoryLabel)
}

func TestRunStopsPhaseOnStoreError(t *testing.T) {
	t.Parallel()

	store := &fakeTransformStore{noticeErr: fmt.Errorf("deadlock detected")}

	p := New(store, fixedClock{time.Now()}, Config{Workers: 3}, nil)
	_, err := p.Run(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "deadlock detected")
}
