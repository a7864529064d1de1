package audit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/rxoptima/rxoptima/internal/shared"
)

func newTestRouter(t *testing.T) (http.Handler, *MemoryLog) {
	t.Helper()
	log := NewMemoryLog()
	h := NewHandler(nil, NewService(log))
	h.now = func() time.Time { return time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC) }
	r := chi.NewRouter()
	h.MountRoutes(r)
	return r, log
}

func get(h http.Handler, actor, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if actor != "" {
		req = req.WithContext(shared.ContextWithActor(req.Context(), actor))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestTimelineEndpoint(t *testing.T) {
	router, log := newTestRouter(t)
	ctx := context.Background()
	require.NoError(t, log.Record(ctx, shared.AuditLog{ActorID: "u1", Action: "sale:commit", Entity: "sales", EntityID: "s1", At: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}))
	require.NoError(t, log.Record(ctx, shared.AuditLog{ActorID: "u1", Action: "sale:commit", Entity: "sales", EntityID: "old", At: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}))
	require.NoError(t, log.Record(ctx, shared.AuditLog{ActorID: "u2", Action: "sale:commit", Entity: "sales", EntityID: "other", At: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}))

	rec := get(router, "u1", "/audit")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var result Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.Len(t, result.Rows, 1)
	require.Equal(t, "s1", result.Rows[0].EntityID)

	rec = get(router, "u1", "/audit?from=2025-12-31&to=2026-03-10")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.Len(t, result.Rows, 2)

	rec = get(router, "u1", "/audit/export.csv?from=2025-12-31&to=2026-03-10")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	require.Contains(t, rec.Body.String(), ",old,")
	require.NotContains(t, rec.Body.String(), "other")
}

func TestTimelineRejectsBadFilters(t *testing.T) {
	router, _ := newTestRouter(t)
	for _, path := range []string{
		"/audit?from=03-01-2026",
		"/audit?from=2026-03-10&to=2026-03-01",
		"/audit?from=2025-01-01&to=2026-03-01",
		"/audit?page=0",
		"/audit?page_size=x",
	} {
		rec := get(router, "u1", path)
		require.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
}

func TestTimelineWithoutActor(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := get(router, "", "/audit")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
