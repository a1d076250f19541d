package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMiddlewareCountsRequests(t *testing.T) {
	m := NewMetrics()
	handler := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stock", nil))
	require.Equal(t, http.StatusTeapot, rec.Code)

	body := scrape(t, m)
	require.Contains(t, body, `meridian_http_requests_total{code="418",route="unknown"} 1`)
}

func TestLedgerCountersExposed(t *testing.T) {
	m := NewMetrics()
	m.MutationApplied("SALE")
	m.MutationApplied("SALE")
	m.MutationApplied("PURCHASE")
	m.ShortfallRejected(3)

	body := scrape(t, m)
	require.Contains(t, body, `meridian_stock_mutations_total{type="SALE"} 2`)
	require.Contains(t, body, `meridian_stock_mutations_total{type="PURCHASE"} 1`)
	require.Contains(t, body, `meridian_stock_shortfall_rejections_total 1`)
	require.Contains(t, body, `meridian_stock_shortfall_items_total 3`)
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.MutationApplied("SALE")
	m.ShortfallRejected(1)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var b strings.Builder
	b.WriteString(rec.Body.String())
	return b.String()
}
