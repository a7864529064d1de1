package jobmetrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, reg *prometheus.Registry) string {
	t.Helper()
	rr := httptest.NewRecorder()
	promhttp.HandlerFor(reg, promhttp.HandlerOpts{}).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	return rr.Body.String()
}

func TestTrackerRecordsOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	require.NoError(t, m.Track("inventory:low-stock").End(nil))
	boom := errors.New("boom")
	require.ErrorIs(t, m.Track("inventory:low-stock").End(boom), boom)
	m.AddLowStock("sale")

	body := scrape(t, reg)
	require.Contains(t, body, `rxoptima_jobs_total{job="inventory:low-stock",status="success"} 1`)
	require.Contains(t, body, `rxoptima_jobs_total{job="inventory:low-stock",status="failure"} 1`)
	require.Contains(t, body, `rxoptima_jobs_failures_total{job="inventory:low-stock"} 1`)
	require.Contains(t, body, `rxoptima_low_stock_alerts_total{source="sale"} 1`)
}

func TestNilMetricsTrackerPassesErrorThrough(t *testing.T) {
	var m *Metrics
	boom := errors.New("boom")
	require.ErrorIs(t, m.Track("x").End(boom), boom)
	m.AddLowStock("sale")
}
