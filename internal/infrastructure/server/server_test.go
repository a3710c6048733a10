package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/tabcore/internal/infrastructure/config"
	"github.com/GriffinCanCode/tabcore/internal/memory/rss"
	"github.com/GriffinCanCode/tabcore/internal/tabs"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.Hibernation.Dir = t.TempDir()
	cfg.RateLimit.Enabled = false
	cfg.Engine.PoolSize = 1

	sampler := rss.SamplerFunc(func(context.Context) (uint64, error) { return 1 << 20, nil })
	s, err := New(cfg, nil, Options{Version: "test", Sampler: sampler})
	require.NoError(t, err)

	require.NoError(t, s.Runtime().Start(context.Background()))
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func TestHealthRoute(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"version":"test"`)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestCreateAndListTabs(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/tabs", strings.NewReader(`{"url":"about:blank"}`)))
	require.Equal(t, http.StatusCreated, w.Code)

	var info tabs.Info
	require.NoError(t, sonic.Unmarshal(w.Body.Bytes(), &info))
	assert.NotZero(t, info.ID)

	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/tabs", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)
}

func TestMetricsRoute(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "tabcore_")
}

func TestNewRejectsBadStorageLevel(t *testing.T) {
	cfg := config.Default()
	cfg.Hibernation.Dir = t.TempDir()
	cfg.Hibernation.Level = 99

	sampler := rss.SamplerFunc(func(context.Context) (uint64, error) { return 0, nil })
	_, err := New(cfg, nil, Options{Sampler: sampler})
	require.Error(t, err)
}
