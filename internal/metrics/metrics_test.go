package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareRecordsRequests(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	h := NewHTTP(reg)

	r := chi.NewRouter()
	r.Use(h.Middleware)
	r.Get("/jobs/{job_id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/missing", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)

	for _, path := range []string{"/jobs/a", "/jobs/b", "/missing"} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
	}

	require.Equal(t, float64(2),
		testutil.ToFloat64(h.requests.WithLabelValues(http.MethodGet, "200")))
	require.Equal(t, float64(1),
		testutil.ToFloat64(h.requests.WithLabelValues(http.MethodGet, "404")))
	// Both /jobs/a and /jobs/b collapse into one route label.
	require.Equal(t, 2, testutil.CollectAndCount(h.duration))
}
