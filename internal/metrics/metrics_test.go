package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInit(t *testing.T) {
	// Reset collectors for testing purposes.
	pncpPagesTotal = nil
	noticeUpsertsTotal = nil
	rowsTransformedTotal = nil
	stageDurationSeconds = nil

	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if pncpPagesTotal == nil || noticeUpsertsTotal == nil ||
		rowsTransformedTotal == nil || stageDurationSeconds == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}

	ObservePage("notices", "ok")
	if val := testutil.ToFloat64(pncpPagesTotal); val != 1 {
		t.Errorf("Expected pncpPagesTotal to be 1, got %f", val)
	}

	ObserveUpsert("inserted")
	ObserveUpsert("inserted")
	if val := testutil.ToFloat64(noticeUpsertsTotal.WithLabelValues("inserted")); val != 2 {
		t.Errorf("Expected inserted upserts to be 2, got %f", val)
	}

	ObserveTransformed("notices", 500)
	ObserveTransformed("notices", 0)
	if val := testutil.ToFloat64(rowsTransformedTotal.WithLabelValues("notices")); val != 500 {
		t.Errorf("Expected transformed notices to be 500, got %f", val)
	}
}
