package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/revcompare/internal/health"
)

type fixedChecker struct {
	result *health.Result
}

func (fixedChecker) Name() string                           { return "workspace-root" }
func (c fixedChecker) Check(context.Context) *health.Result { return c.result }

func getProbe(t *testing.T, h http.Handler, path string) (int, health.ProbeResult) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var body health.ProbeResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	return rec.Code, body
}

func TestNewServerDefaults(t *testing.T) {
	s := NewServer(health.NewProbeManager("1.0.0"), Config{Address: ":9090"})

	assert.Equal(t, 30*time.Second, s.shutdownTimeout)
	assert.Equal(t, ":9090", s.httpServer.Addr)
	assert.Equal(t, 10*time.Second, s.httpServer.ReadTimeout)
	assert.Equal(t, 10*time.Second, s.httpServer.WriteTimeout)
	assert.Equal(t, 60*time.Second, s.httpServer.IdleTimeout)

	s = NewServer(health.NewProbeManager("1.0.0"), Config{ShutdownTimeout: 5 * time.Second})
	assert.Equal(t, 5*time.Second, s.shutdownTimeout)
}

func TestProbeEndpoints(t *testing.T) {
	pm := health.NewProbeManager("1.0.0")
	pm.AddChecker(fixedChecker{result: health.Degraded("slow disk")})
	h := NewServer(pm, Config{}).Handler()

	code, body := getProbe(t, h, "/health/startup")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, health.StatusUnhealthy, body.Status)

	pm.MarkInitialized()
	code, _ = getProbe(t, h, "/health/startup")
	assert.Equal(t, http.StatusOK, code)

	code, body = getProbe(t, h, "/health/ready")
	assert.Equal(t, http.StatusOK, code, "degraded dependencies stay ready")
	assert.Equal(t, health.StatusDegraded, body.Status)
	assert.Contains(t, body.Checks, "workspace-root")

	code, body = getProbe(t, h, "/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "1.0.0", body.Version)

	code, body = getProbe(t, h, "/health/live")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, health.StatusHealthy, body.Status)
}

func TestReadinessFailsOnUnhealthyDependency(t *testing.T) {
	pm := health.NewProbeManager("1.0.0")
	pm.AddChecker(fixedChecker{result: health.Unhealthy("not writable")})

	code, body := getProbe(t, NewServer(pm, Config{}).Handler(), "/health/ready")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "not writable", body.Checks["workspace-root"].Message)
}

func TestReadinessTreatsUnknownStatusAsUnhealthy(t *testing.T) {
	pm := health.NewProbeManager("1.0.0")
	pm.AddChecker(fixedChecker{result: health.NewResult(health.Status("bogus"), "??")})

	code, body := getProbe(t, NewServer(pm, Config{}).Handler(), "/health/ready")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, health.StatusUnhealthy, body.Status)
}

func TestProbeRejectsNonGet(t *testing.T) {
	h := NewServer(health.NewProbeManager("1.0.0"), Config{}).Handler()

	for _, path := range []string{"/health/live", "/health/ready", "/health/startup", "/healthz"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code, path)
	}
}

func TestUnregisteredRoutes(t *testing.T) {
	h := NewServer(health.NewProbeManager("1.0.0"), Config{}).Handler()

	for _, path := range []string{"/webhook", "/metrics"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
}

func TestShutdown(t *testing.T) {
	pm := health.NewProbeManager("1.0.0")
	s := NewServer(pm, Config{Address: "127.0.0.1:0", ShutdownTimeout: time.Second})

	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()

	require.Eventually(t, pm.IsInitialized, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Shutdown(context.Background()))

	assert.True(t, s.IsShuttingDown())
	assert.True(t, pm.IsShuttingDown())
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, http.ErrServerClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}

	code, _ := getProbe(t, s.Handler(), "/health/ready")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	code, body := getProbe(t, s.Handler(), "/health/live")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, health.StatusDegraded, body.Status)
}
