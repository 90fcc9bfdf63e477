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

func TestMetrics_Counters(t *testing.T) {
	m := New()
	m.Transition("accept", OutcomeOK)
	m.Transition("accept", OutcomeOK)
	m.Transition("cancel", OutcomeRejected)
	m.Request(http.MethodPost, "/api/v1/uome/issue", 201, 15*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.transitions.WithLabelValues("accept", OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("cancel", OutcomeRejected)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("POST", "/api/v1/uome/issue", "201")))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.SettlementEdges(3)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "groupbank_settlement_edges_count 1")
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Transition("issue", OutcomeOK)
		m.SettlementEdges(1)
		m.Request("GET", "/", 200, time.Second)
	})
}
