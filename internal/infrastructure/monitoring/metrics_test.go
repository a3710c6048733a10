package monitoring

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsAreIsolatedPerRegistry(t *testing.T) {
	a := NewMetrics()
	b := NewMetrics()

	a.IncCrashes()
	assert.Equal(t, float64(1), testutil.ToFloat64(a.Crashes))
	assert.Equal(t, float64(0), testutil.ToFloat64(b.Crashes))
}

func TestHibernationSnapshot(t *testing.T) {
	m := NewMetrics()

	m.RecordHibernation(ResultSuccess, 10*time.Millisecond, 4096)
	m.RecordHibernation(ResultFailure, 0, 0)
	m.RecordRestore(ResultSuccess, time.Millisecond)
	m.RecordRestore(ResultFailure, 0)
	m.RecordRestore(ResultFailure, 0)

	s := m.Snapshot()
	assert.Equal(t, int64(1), s.Hibernations)
	assert.Equal(t, int64(1), s.HibernationFailures)
	assert.Equal(t, int64(1), s.Restores)
	assert.Equal(t, int64(2), s.RestoreFailures)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.Hibernations.WithLabelValues(ResultSuccess)))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.Restores.WithLabelValues(ResultFailure)))
}

func TestSetTabStatesReplacesLabels(t *testing.T) {
	m := NewMetrics()
	m.SetTabStates(map[string]int{"active": 2, "crashed": 1})
	m.SetTabStates(map[string]int{"active": 1})

	assert.Equal(t, float64(1), testutil.ToFloat64(m.TabsByState.WithLabelValues("active")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.TabsByState))
}

func TestMiddlewareAndHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := NewMetrics()

	router := gin.New()
	router.Use(Middleware(m))
	router.GET("/tabs/:id", func(c *gin.Context) { c.Status(http.StatusNotFound) })
	router.GET("/metrics", gin.WrapH(m.Handler()))

	for _, path := range []string{"/tabs/1", "/tabs/2"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusNotFound, w.Code)
	}

	assert.Equal(t, float64(2), testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "/tabs/:id", "404")))
	s := m.Snapshot()
	assert.Equal(t, int64(2), s.TotalRequests)
	assert.Equal(t, int64(2), s.TotalErrors)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "tabcore_http_requests_total")
	assert.Contains(t, w.Body.String(), "tabcore_uptime_seconds")
}
