package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/rxoptima/rxoptima/internal/docstore"
	"github.com/rxoptima/rxoptima/internal/docstore/memstore"
	"github.com/rxoptima/rxoptima/internal/inventory"
	jobmetrics "github.com/rxoptima/rxoptima/internal/jobs"
)

var testScope = docstore.Scope{Namespace: "rxoptima-app", Identity: "u1"}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func scrape(t *testing.T, reg *prometheus.Registry) string {
	t.Helper()
	rec := httptest.NewRecorder()
	promhttp.HandlerFor(reg, promhttp.HandlerOpts{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	return rec.Body.String()
}

func TestLowStockAlertTaskRoundTrip(t *testing.T) {
	alert := inventory.LowStockAlert{
		Identity:  "u1",
		DrugID:    "A",
		Name:      "Amoxil",
		Remaining: 2,
		Threshold: 10,
		Source:    "sale",
		RaisedAt:  time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC),
	}
	task, err := NewLowStockAlertTask(alert)
	require.NoError(t, err)
	require.Equal(t, TaskLowStockAlert, task.Type())

	var payload LowStockPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	require.Equal(t, alert, inventory.LowStockAlert(payload))
}

func TestLowStockJobCountsAlerts(t *testing.T) {
	reg := prometheus.NewRegistry()
	job := NewLowStockJob(quietLogger(), jobmetrics.NewMetrics(reg))

	task, err := NewLowStockAlertTask(inventory.LowStockAlert{Identity: "u1", DrugID: "A", Name: "Amoxil", Remaining: 2, Threshold: 10, Source: "prescription"})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))

	body := scrape(t, reg)
	require.Contains(t, body, `rxoptima_low_stock_alerts_total{source="prescription"} 1`)
	require.Contains(t, body, `rxoptima_jobs_total{job="inventory:low-stock",status="success"} 1`)
}

func TestLowStockJobSkipsRetryOnBadPayload(t *testing.T) {
	job := NewLowStockJob(quietLogger(), nil)
	err := job.Handle(context.Background(), asynq.NewTask(TaskLowStockAlert, []byte("{")))
	require.Error(t, err)
	require.True(t, errors.Is(err, asynq.SkipRetry))
}

func seed(t *testing.T, store *memstore.Store, id, name string, stock int) {
	t.Helper()
	item := inventory.Item{
		Name:            name,
		BatchNumber:     "12345",
		ExpiryDate:      time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
		QuantityInStock: stock,
		UnitPrice:       decimal.NewFromInt(10),
	}
	require.NoError(t, inventory.NewCollection(store, testScope).Replace(context.Background(), id, item))
}

func TestSweepReportsItemsBelowThreshold(t *testing.T) {
	store := memstore.New()
	seed(t, store, "A", "Amoxil", 3)
	seed(t, store, "B", "Brufen", 40)
	seed(t, store, "C", "Ciprotab", 0)

	reg := prometheus.NewRegistry()
	job := NewLowStockSweepJob(store, testScope.Namespace, 10, quietLogger(), jobmetrics.NewMetrics(reg))
	alerts, err := job.Sweep(context.Background(), LowStockSweepPayload{Identity: "u1"})
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	require.Equal(t, "A", alerts[0].DrugID)
	require.Equal(t, 3, alerts[0].Remaining)
	require.Equal(t, 10, alerts[0].Threshold)
	require.Equal(t, "sweep", alerts[0].Source)
	require.Equal(t, "C", alerts[1].DrugID)

	require.Contains(t, scrape(t, reg), `rxoptima_low_stock_alerts_total{source="sweep"} 2`)
	require.Zero(t, store.Subscribers(testScope.Collection(inventory.CollectionName)))
}

func TestSweepPayloadThresholdOverridesDefault(t *testing.T) {
	store := memstore.New()
	seed(t, store, "B", "Brufen", 40)

	job := NewLowStockSweepJob(store, testScope.Namespace, 10, quietLogger(), nil)
	alerts, err := job.Sweep(context.Background(), LowStockSweepPayload{Identity: "u1", Threshold: 50})
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	require.Equal(t, 50, alerts[0].Threshold)
}

func TestSweepRequiresIdentity(t *testing.T) {
	job := NewLowStockSweepJob(memstore.New(), testScope.Namespace, 10, quietLogger(), nil)
	_, err := job.Sweep(context.Background(), LowStockSweepPayload{})
	require.True(t, errors.Is(err, asynq.SkipRetry))
}

func TestSweepSurfacesLoadFailure(t *testing.T) {
	store := memstore.New()
	boom := errors.New("listen failed")
	store.FailNextSubscribe(boom)

	job := NewLowStockSweepJob(store, testScope.Namespace, 10, quietLogger(), nil)
	_, err := job.Sweep(context.Background(), LowStockSweepPayload{Identity: "u1"})
	require.ErrorIs(t, err, boom)
}

func TestClientEnqueuesLowStockTasks(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := NewClient(asynq.RedisClientOpt{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	var alerter inventory.StockAlerter = client
	require.NoError(t, alerter.LowStock(context.Background(), inventory.LowStockAlert{Identity: "u1", DrugID: "A", Remaining: 1, Threshold: 10, Source: "sale"}))

	info, err := client.EnqueueLowStockSweep(context.Background(), LowStockSweepPayload{Identity: "u1"})
	require.NoError(t, err)
	require.Equal(t, TaskLowStockSweep, info.Type)
	require.Equal(t, QueueDefault, info.Queue)

	var pending []string
	for _, key := range mr.Keys() {
		if strings.HasSuffix(key, ":pending") {
			pending = append(pending, key)
		}
	}
	require.NotEmpty(t, pending)
}

type stubInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (s stubInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) { return s.info, s.err }

func TestHealthEndpoint(t *testing.T) {
	cases := []struct {
		name      string
		inspector QueueInspector
		status    int
		pending   int
	}{
		{name: "no inspector", status: http.StatusOK},
		{name: "queue info", inspector: stubInspector{info: &asynq.QueueInfo{Queue: QueueDefault, Pending: 4}}, status: http.StatusOK, pending: 4},
		{name: "empty queue", inspector: stubInspector{err: asynq.ErrQueueNotFound}, status: http.StatusOK},
		{name: "redis down", inspector: stubInspector{err: errors.New("dial tcp")}, status: http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := chi.NewRouter()
			NewHandler(tc.inspector, quietLogger()).MountRoutes(r)
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
			require.Equal(t, tc.status, rec.Code)
			if tc.status != http.StatusOK {
				return
			}
			var body queueHealth
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			require.Equal(t, QueueDefault, body.Queue)
			require.Equal(t, tc.pending, body.Pending)
		})
	}
}

func TestLowStockSweepSchedule(t *testing.T) {
	entry, err := LowStockSweepSchedule("0 6 * * *", "op-1", 15)
	require.NoError(t, err)
	require.Equal(t, "0 6 * * *", entry.Spec)
	require.Equal(t, TaskLowStockSweep, entry.Task.Type())
	var payload LowStockSweepPayload
	require.NoError(t, json.Unmarshal(entry.Task.Payload(), &payload))
	require.Equal(t, LowStockSweepPayload{Identity: "op-1", Threshold: 15}, payload)

	_, err = LowStockSweepSchedule("", "op-1", 15)
	require.Error(t, err)
	_, err = LowStockSweepSchedule("0 6 * * *", "", 15)
	require.Error(t, err)
}

func TestNewWorkerRejectsBadCron(t *testing.T) {
	mr := miniredis.RunT(t)
	opts := asynq.RedisClientOpt{Addr: mr.Addr()}

	entry, err := LowStockSweepSchedule("not a cron", "op-1", 0)
	require.NoError(t, err)
	_, err = NewWorker(WorkerConfig{RedisOpts: opts, Cron: []CronRegistration{entry}})
	require.Error(t, err)

	entry, err = LowStockSweepSchedule("@daily", "op-1", 0)
	require.NoError(t, err)
	worker, err := NewWorker(WorkerConfig{RedisOpts: opts, Cron: []CronRegistration{entry}})
	require.NoError(t, err)
	require.NotNil(t, worker)
}
