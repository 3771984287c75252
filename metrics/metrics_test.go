package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordSync(t *testing.T) {
	before := testutil.ToFloat64(syncRuns.WithLabelValues("succeeded"))

	RecordSync("succeeded", 0)

	assert.Equal(t, before+1, testutil.ToFloat64(syncRuns.WithLabelValues("succeeded")))
}

func TestSetCurrentDebt(t *testing.T) {
	SetCurrentDebt(3.5)
	assert.Equal(t, 3.5, testutil.ToFloat64(currentDebt))
}

func TestInstrumentHandler_LabelsByRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(InstrumentHandler)
	r.Get("/api/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	before := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/api/items/{id}", "418"))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/items/42", nil))
	require.Equal(t, http.StatusTeapot, rec.Code)

	assert.Equal(t, before+1, testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/api/items/{id}", "418")))
}

func TestHandler_ExposesRegistry(t *testing.T) {
	RecordProviderRetry("rate_limited")
	RecordSync("failed_clean", time.Second)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "sleepdebt_provider_retries_total")
	assert.Contains(t, rec.Body.String(), "sleepdebt_sync_runs_total")
}
