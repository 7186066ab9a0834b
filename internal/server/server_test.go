package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/container-resource-predictor/fleet-diagnostics/internal/metrics"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func get(s *Server, path string) *httptest.ResponseRecorder {
	req, _ := http.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestHealthHandler(t *testing.T) {
	s := New(Config{Name: "diagnostics"})

	w := get(s, "/health")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "diagnostics", body["component"])
}

func TestReadyBeforeServing(t *testing.T) {
	s := New(Config{Name: "diagnostics"})
	assert.Equal(t, http.StatusServiceUnavailable, get(s, "/ready").Code)
}

func TestMetricsEndpointUsesGatherer(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New("diagnostics", reg)
	m.ObserveList("200", 1)

	s := New(Config{Name: "diagnostics", Metrics: m, Gatherer: reg})

	w := get(s, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "diagnostics_list_requests_total")
}

func TestServeAndShutdown(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New("diagnostics", reg)
	s := New(Config{Name: "diagnostics", Metrics: m, Gatherer: reg, ShutdownTimeout: time.Second})
	s.Router().GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, l) }()

	base := fmt.Sprintf("http://%s", l.Addr())
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/ready")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ComponentReady))

	resp, err := http.Get(base + "/ping")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not shut down")
	}
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ComponentReady))
}
