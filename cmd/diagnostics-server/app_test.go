package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/container-resource-predictor/fleet-diagnostics/internal/checks"
	"github.com/container-resource-predictor/fleet-diagnostics/internal/config"
	"github.com/container-resource-predictor/fleet-diagnostics/internal/kubetargets"
	"github.com/container-resource-predictor/fleet-diagnostics/internal/sensor"
	"github.com/container-resource-predictor/fleet-diagnostics/internal/target"
	"github.com/container-resource-predictor/fleet-diagnostics/internal/testdef"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var widgetBuild = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

type widgetServer struct {
	*httptest.Server
	warmups atomic.Int32
}

func newWidgetServer(t *testing.T) *widgetServer {
	t.Helper()
	ws := &widgetServer{}
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("widgets"))
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/warmup", func(w http.ResponseWriter, r *http.Request) {
		ws.warmups.Add(1)
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc(checks.VersionPath, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(sensor.VersionInfo{Version: "2.0.0", BuildDate: widgetBuild})
	})
	ws.Server = httptest.NewServer(mux)
	t.Cleanup(ws.Close)
	return ws
}

func testConfig(t *testing.T, targets string) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "targets.yaml")
	require.NoError(t, os.WriteFile(path, []byte(targets), 0o600))
	return &config.Config{
		Environment:       "test",
		HTTPAddr:          "127.0.0.1:0",
		TestsRoot:         "/tests",
		SensorsRoot:       "/sensors",
		TestTimeout:       5 * time.Second,
		TargetsFile:       path,
		TargetHTTPTimeout: time.Second,
	}
}

func get(t *testing.T, a *app, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	a.server.Handler().ServeHTTP(w, req)
	return w
}

type listing struct {
	Tests []struct {
		Environment string `json:"environment"`
		Application string `json:"application"`
		Name        string `json:"name"`
		URL         string `json:"url"`
	} `json:"tests"`
}

func TestBuildAppServesTestsAndSensors(t *testing.T) {
	ws := newWidgetServer(t)
	cfg := testConfig(t, fmt.Sprintf(`
targets:
  - environment: staging
    application: widgetapi
    baseUrl: %s
    warmupPath: /warmup
`, ws.URL))

	reg := prometheus.NewRegistry()
	a, err := buildApp(context.Background(), cfg, reg, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, a.tests.Len())
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP diagnostics_targets_registered Number of targets in the registry
# TYPE diagnostics_targets_registered gauge
diagnostics_targets_registered{component="diagnostics-server"} 1
`), "diagnostics_targets_registered"))

	w := get(t, a, "/tests/staging/widgetapi")
	require.Equal(t, http.StatusOK, w.Code)
	var l listing
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &l))
	var urls []string
	for _, tt := range l.Tests {
		urls = append(urls, tt.URL)
	}
	assert.Equal(t, []string{
		"http://example.com/tests/staging/widgetapi/is_reachable",
		"http://example.com/tests/staging/widgetapi/reports_version",
		"http://example.com/tests/staging/widgetapi/responds_ok?path=%2Fhealth",
		"http://example.com/tests/staging/widgetapi/responds_ok?path=%2Fready",
	}, urls)

	for i := 0; i < 2; i++ {
		w = get(t, a, "/tests/staging/widgetapi/is_reachable")
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}
	var res map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, "passed", res["outcome"])
	assert.Equal(t, int32(1), ws.warmups.Load())

	w = get(t, a, "/tests/staging/widgetapi/reports_version")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = get(t, a, "/sensors/version")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "buildDate")

	w = get(t, a, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMinBuildDateHidesOutdatedTargets(t *testing.T) {
	ws := newWidgetServer(t)
	cfg := testConfig(t, fmt.Sprintf(`
targets:
  - environment: staging
    application: widgetapi
    baseUrl: %s
    minBuildDate: 2024-01-01T00:00:00Z
  - environment: production
    application: widgetapi
    baseUrl: %s
    minBuildDate: 2025-01-01T00:00:00Z
`, ws.URL, ws.URL))

	a, err := buildApp(context.Background(), cfg, prometheus.NewRegistry(), nil)
	require.NoError(t, err)

	var l listing
	w := get(t, a, "/tests/widgetapi")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &l))
	require.NotEmpty(t, l.Tests)
	for _, tt := range l.Tests {
		assert.Equal(t, "staging", tt.Environment)
	}

	w = get(t, a, "/tests/production/widgetapi/is_reachable")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBuildAppDiscoversKubernetesTargets(t *testing.T) {
	ws := newWidgetServer(t)
	cfg := testConfig(t, fmt.Sprintf(`
targets:
  - environment: staging
    application: widgetapi
    baseUrl: %s
`, ws.URL))

	kube := fake.NewSimpleClientset(&corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "sprockets",
			Namespace: "fleet",
			Labels: map[string]string{
				kubetargets.EnvironmentLabel: "staging",
				kubetargets.ApplicationLabel: "sprocketapi",
			},
			Annotations: map[string]string{kubetargets.BaseURLAnnotation: ws.URL},
		},
	})

	a, err := buildApp(context.Background(), cfg, prometheus.NewRegistry(), kube)
	require.NoError(t, err)
	assert.Len(t, a.targets.All(), 2)

	_, err = a.targets.Get("staging", "sprocketapi")
	require.NoError(t, err)

	w := get(t, a, "/tests/staging/sprocketapi/responds_ok?path=/health")
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestBuildAppRejectsDuplicateTargets(t *testing.T) {
	cfg := testConfig(t, `
targets:
  - environment: staging
    application: widgetapi
    baseUrl: http://a.example.com
  - environment: staging
    application: widgetapi
    baseUrl: http://b.example.com
`)

	_, err := buildApp(context.Background(), cfg, prometheus.NewRegistry(), nil)
	assert.ErrorIs(t, err, target.ErrDuplicateTarget)
}

func TestBuildAppCaseInsensitiveNames(t *testing.T) {
	ws := newWidgetServer(t)
	cfg := testConfig(t, fmt.Sprintf("targets:\n  - environment: staging\n    application: widgetapi\n    baseUrl: %s\n", ws.URL))
	cfg.TestNameCaseInsensitive = true

	a, err := buildApp(context.Background(), cfg, prometheus.NewRegistry(), nil)
	require.NoError(t, err)

	_, err = a.tests.Get("IS_REACHABLE")
	require.NoError(t, err)
	_, err = a.tests.Get("missing")
	assert.ErrorIs(t, err, testdef.ErrTestNotFound)
}

func TestWarmupRequestFailsOnErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	t.Cleanup(srv.Close)

	targets, err := target.NewBuilder().
		WithClientConfig(target.ClientConfig{Timeout: time.Second}).
		Add("staging", "widgetapi", srv.URL).
		Build()
	require.NoError(t, err)
	tt, err := targets.Get("staging", "widgetapi")
	require.NoError(t, err)
	client, err := tt.Client()
	require.NoError(t, err)

	err = warmupRequest("/warmup")(context.Background(), client)
	var statusErr *target.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusTeapot, statusErr.StatusCode)
}

func TestLoadConfigAppliesChangedFlags(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":7000")
	t.Setenv("TESTS_ROOT", "/checks")

	cmd := &cobra.Command{}
	f := serveFlags{envFile: filepath.Join(t.TempDir(), "missing.env"), addr: ":9000", testTimeout: time.Minute}
	cmd.Flags().String("addr", "", "")
	cmd.Flags().Duration("test-timeout", 0, "")
	require.NoError(t, cmd.Flags().Set("addr", ":9000"))

	cfg, err := loadConfig(cmd, f)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.HTTPAddr)
	assert.Equal(t, "/checks", cfg.TestsRoot)
	assert.Equal(t, 30*time.Second, cfg.TestTimeout, "unchanged flags keep the environment value")
}

func TestLoadConfigValidatesOverrides(t *testing.T) {
	cmd := &cobra.Command{}
	f := serveFlags{envFile: filepath.Join(t.TempDir(), "missing.env"), sensorsRoot: "/tests"}
	cmd.Flags().String("sensors-root", "", "")
	require.NoError(t, cmd.Flags().Set("sensors-root", "/tests"))

	_, err := loadConfig(cmd, f)
	assert.ErrorContains(t, err, "must differ")
}

func TestVersionCommand(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	assert.Equal(t, "diagnostics-server version dev\n", out.String())
}
