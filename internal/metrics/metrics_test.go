package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Collect(t *testing.T) {
	m := New()
	m.TradeExecuted("YES", true, 2.5)
	m.TradeExecuted("YES", true, 1.5)
	m.SettlementObserved(10*time.Millisecond, false)
	m.SetSnapshotQueueDepth(3)
	m.SetMarkets(2)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.tradesTotal.WithLabelValues("YES", "buy")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.tradeFlow.WithLabelValues("buy")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.settlementFailures))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.snapshotQueueDepth))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.marketsTotal))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.SetSnapshotQueueDepth(1)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "metamarket_snapshot_queue_depth 1")
}
