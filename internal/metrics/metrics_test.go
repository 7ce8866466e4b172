package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestInitIsIdempotent(t *testing.T) {
	Init()
	first := itemsTotal
	Init()
	require.Same(t, first, itemsTotal)
}

func TestObservers(t *testing.T) {
	Init()

	ObserveItem(7, "succeeded", 2*time.Second)
	ObserveItem(7, "succeeded", time.Second)
	ObserveItem(7, "restricted", time.Second)
	require.Equal(t, 2.0, testutil.ToFloat64(itemsTotal.WithLabelValues("7", "succeeded")))
	require.Equal(t, 1.0, testutil.ToFloat64(itemsTotal.WithLabelValues("7", "restricted")))
	require.Positive(t, testutil.CollectAndCount(itemDurationSeconds))

	ObserveRotation(7, "threshold")
	require.Equal(t, 1.0, testutil.ToFloat64(rotationsTotal.WithLabelValues("7", "threshold")))

	ObserveReauth(7, false)
	require.Equal(t, 1.0, testutil.ToFloat64(reauthTotal.WithLabelValues("7", "error")))

	ObserveCheckpointFlush(7, true)
	require.Equal(t, 1.0, testutil.ToFloat64(checkpointFlushesTotal.WithLabelValues("7", "ok")))

	before := testutil.ToFloat64(activeWorkers)
	IncActiveWorkers()
	require.Equal(t, before+1, testutil.ToFloat64(activeWorkers))
	DecActiveWorkers()
	require.Equal(t, before, testutil.ToFloat64(activeWorkers))
}

func TestMiddleware(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/v1/workers/{index}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	r.Get("/ok", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	for _, path := range []string{"/v1/workers/3", "/ok"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	require.Equal(t, 1.0, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "418")))
	require.GreaterOrEqual(t, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "200")), 1.0)
	require.Positive(t, testutil.CollectAndCount(httpRequestDurationSeconds))
}

func TestHandler(t *testing.T) {
	Init()
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "recovery_active_workers")
}
