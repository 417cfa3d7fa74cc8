package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareLabelsByRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware("collab-test"))
	r.Get("/api/v1/scripts/{scriptId}/collaborators", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/scripts/abc/collaborators", nil))
	require.Equal(t, http.StatusTeapot, rec.Code)

	got := testutil.ToFloat64(httpRequests.WithLabelValues("collab-test", http.MethodGet, "/api/v1/scripts/{scriptId}/collaborators", "418"))
	assert.Equal(t, 1.0, got)
}

func TestHandlerExposesCollabMetrics(t *testing.T) {
	Connections.Set(3)
	FramesDropped.Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "craft_collab_connections 3"), "body: %s", body)
	assert.Contains(t, body, "craft_collab_frames_dropped_total")
}
