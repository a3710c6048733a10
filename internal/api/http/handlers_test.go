package http

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/tabcore/internal/engine"
	"github.com/GriffinCanCode/tabcore/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/tabcore/internal/memory/rss"
	"github.com/GriffinCanCode/tabcore/internal/shared/id"
	"github.com/GriffinCanCode/tabcore/internal/tabs"
)

type fakeTabs struct {
	mu    sync.Mutex
	tabs  map[id.TabID]*tabs.Info
	next  id.TabID
	calls []string
	err   error // returned by the next action
}

func newFakeTabs() *fakeTabs {
	return &fakeTabs{tabs: map[id.TabID]*tabs.Info{}}
}

func (f *fakeTabs) record(call string, tabID id.TabID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf("%s:%d", call, tabID))
	if f.err != nil {
		err := f.err
		f.err = nil
		return err
	}
	if _, ok := f.tabs[tabID]; !ok {
		return tabs.ErrTabNotFound
	}
	return nil
}

func (f *fakeTabs) CreateTab(_ context.Context, url string) (tabs.Info, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	if url == "" {
		url = tabs.BlankURL
	}
	info := &tabs.Info{ID: f.next, URL: url, Title: "New Tab", State: tabs.StateActive, Focused: true}
	f.tabs[f.next] = info
	return *info, nil
}

func (f *fakeTabs) CloseTab(_ context.Context, tabID id.TabID) error {
	if err := f.record("close", tabID); err != nil {
		return err
	}
	f.mu.Lock()
	delete(f.tabs, tabID)
	f.mu.Unlock()
	return nil
}

func (f *fakeTabs) Navigate(_ context.Context, tabID id.TabID, url string) error {
	if err := f.record("navigate", tabID); err != nil {
		return err
	}
	f.mu.Lock()
	f.tabs[tabID].URL = url
	f.mu.Unlock()
	return nil
}

func (f *fakeTabs) Reload(_ context.Context, tabID id.TabID) error { return f.record("reload", tabID) }
func (f *fakeTabs) Stop(_ context.Context, tabID id.TabID) error   { return f.record("stop", tabID) }
func (f *fakeTabs) GoBack(_ context.Context, tabID id.TabID) error { return f.record("back", tabID) }
func (f *fakeTabs) GoForward(_ context.Context, tabID id.TabID) error {
	return f.record("forward", tabID)
}
func (f *fakeTabs) Focus(_ context.Context, tabID id.TabID) error { return f.record("focus", tabID) }

func (f *fakeTabs) Hibernate(_ context.Context, tabID id.TabID) error {
	if err := f.record("hibernate", tabID); err != nil {
		return err
	}
	f.mu.Lock()
	f.tabs[tabID].State = tabs.StateHibernated
	f.tabs[tabID].HasThumbnail = true
	f.mu.Unlock()
	return nil
}

func (f *fakeTabs) Restore(_ context.Context, tabID id.TabID) error {
	if err := f.record("restore", tabID); err != nil {
		return err
	}
	f.mu.Lock()
	f.tabs[tabID].State = tabs.StateActive
	f.mu.Unlock()
	return nil
}

func (f *fakeTabs) ExecuteScript(_ context.Context, tabID id.TabID, script string) (tabs.ScriptResult, error) {
	if err := f.record("execute", tabID); err != nil {
		return tabs.ScriptResult{}, err
	}
	if strings.HasPrefix(script, "throw") {
		return tabs.ScriptResult{Console: []tabs.ConsoleEntry{{Level: tabs.ConsoleLog, Message: "before"}}},
			fmt.Errorf("%w: Error: bad", engine.ErrScript)
	}
	return tabs.ScriptResult{Value: "ok:" + script}, nil
}

func (f *fakeTabs) Tab(tabID id.TabID) (tabs.Info, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.tabs[tabID]
	if !ok {
		return tabs.Info{}, tabs.ErrTabNotFound
	}
	return *info, nil
}

func (f *fakeTabs) Tabs() []tabs.Info {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]tabs.Info, 0, len(f.tabs))
	for i := id.TabID(1); i <= f.next; i++ {
		if info, ok := f.tabs[i]; ok {
			out = append(out, *info)
		}
	}
	return out
}

func (f *fakeTabs) Thumbnail(tabID id.TabID) ([]byte, error) {
	info, err := f.Tab(tabID)
	if err != nil {
		return nil, err
	}
	if info.State != tabs.StateHibernated {
		return nil, tabs.ErrNoThumbnail
	}
	return []byte("\x89PNGfake"), nil
}

func (f *fakeTabs) Stats(context.Context) tabs.Stats {
	states := map[string]int{}
	for _, info := range f.Tabs() {
		states[info.State.String()]++
	}
	return tabs.Stats{States: states, Breaker: "closed"}
}

type fakeMemory struct{ level rss.Level }

func (m fakeMemory) CurrentRSS() uint64         { return 42 << 20 }
func (m fakeMemory) CurrentPressure() rss.Level { return m.level }
func (m fakeMemory) Summary() rss.Summary       { return rss.Summary{Samples: 3} }

type fakeEngines struct{}

func (fakeEngines) Stats() engine.Stats { return engine.Stats{Size: 4, Warm: 3, Active: 1} }

func newTestRouter(t *testing.T, svc TabService, mem MemoryStatus) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewHandlers(Deps{Tabs: svc, Memory: mem, Engines: fakeEngines{}, Version: "test"}).Register(router)
	return router
}

func do(t *testing.T, router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, sonic.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	router := newTestRouter(t, newFakeTabs(), fakeMemory{level: rss.LevelLow})
	w := do(t, router, "GET", "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "low", body["pressure"])
	assert.Equal(t, "test", body["version"])

	router = newTestRouter(t, newFakeTabs(), fakeMemory{level: rss.LevelCritical})
	body = decode(t, do(t, router, "GET", "/health", ""))
	assert.Equal(t, "degraded", body["status"])
}

func TestTabLifecycleRoutes(t *testing.T) {
	svc := newFakeTabs()
	router := newTestRouter(t, svc, fakeMemory{})

	w := do(t, router, "POST", "/tabs", `{"url":"https://a.test"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	created := decode(t, w)
	assert.Equal(t, float64(1), created["id"])
	assert.Equal(t, "https://a.test", created["url"])

	// an empty body opens a blank tab
	w = do(t, router, "POST", "/tabs", "")
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, tabs.BlankURL, decode(t, w)["url"])

	w = do(t, router, "GET", "/tabs", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), decode(t, w)["count"])

	w = do(t, router, "POST", "/tabs/2/navigate", `{"url":"https://b.test"}`)
	assert.Equal(t, http.StatusAccepted, w.Code)

	w = do(t, router, "GET", "/tabs/2", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://b.test", decode(t, w)["url"])

	for _, action := range []string{"reload", "stop", "back", "forward", "focus"} {
		w = do(t, router, "POST", "/tabs/2/"+action, "")
		assert.Equal(t, http.StatusOK, w.Code, action)
	}

	w = do(t, router, "DELETE", "/tabs/1", "")
	assert.Equal(t, http.StatusOK, w.Code)
	w = do(t, router, "GET", "/tabs/1", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	assert.Contains(t, svc.calls, "focus:2")
	assert.Contains(t, svc.calls, "close:1")
}

func TestHibernateAndThumbnail(t *testing.T) {
	svc := newFakeTabs()
	router := newTestRouter(t, svc, fakeMemory{})
	do(t, router, "POST", "/tabs", "")

	w := do(t, router, "GET", "/tabs/1/thumbnail", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, router, "POST", "/tabs/1/hibernate", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hibernated", decode(t, w)["state"])

	w = do(t, router, "GET", "/tabs/1/thumbnail", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(w.Body.String(), "\x89PNG"))

	w = do(t, router, "POST", "/tabs/1/restore", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "active", decode(t, w)["state"])
}

func TestExecute(t *testing.T) {
	svc := newFakeTabs()
	router := newTestRouter(t, svc, fakeMemory{})
	do(t, router, "POST", "/tabs", "")

	w := do(t, router, "POST", "/tabs/1/execute", `{"script":"1+1"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok:1+1", decode(t, w)["value"])

	w = do(t, router, "POST", "/tabs/1/execute", `{"script":"throw 1"}`)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	body := decode(t, w)
	assert.Contains(t, body["error"], "script error")
	assert.NotNil(t, body["result"])

	w = do(t, router, "POST", "/tabs/1/execute", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{tabs.ErrTabNotFound, http.StatusNotFound},
		{tabs.ErrTransitionInFlight, http.StatusConflict},
		{tabs.ErrInvalidState, http.StatusConflict},
		{tabs.ErrNotStarted, http.StatusServiceUnavailable},
		{fmt.Errorf("hibernate: %w", resilience.ErrCircuitOpen), http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{&tabs.Fault{Op: "execute", Err: engine.ErrClosed}, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			svc := newFakeTabs()
			router := newTestRouter(t, svc, fakeMemory{})
			do(t, router, "POST", "/tabs", "")
			svc.err = tt.err

			w := do(t, router, "POST", "/tabs/1/hibernate", "")
			assert.Equal(t, tt.want, w.Code)
			assert.Equal(t, tt.err.Error(), decode(t, w)["error"])
		})
	}
}

func TestBadTabID(t *testing.T) {
	router := newTestRouter(t, newFakeTabs(), fakeMemory{})
	for _, path := range []string{"/tabs/abc", "/tabs/0", "/tabs/-1"} {
		w := do(t, router, "GET", path, "")
		assert.Equal(t, http.StatusBadRequest, w.Code, path)
	}
}

func TestStatsAndMetrics(t *testing.T) {
	svc := newFakeTabs()
	router := newTestRouter(t, svc, fakeMemory{level: rss.LevelMedium})
	do(t, router, "POST", "/tabs", "")
	do(t, router, "POST", "/tabs", "")
	do(t, router, "POST", "/tabs/2/hibernate", "")

	w := do(t, router, "GET", "/stats", "")
	require.Equal(t, http.StatusOK, w.Code)

	var snap StatsSnapshot
	require.NoError(t, sonic.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, 2, snap.Summary.OpenTabs)
	assert.Equal(t, 1, snap.Summary.HibernatedTabs)
	assert.Equal(t, "medium", snap.Memory.Pressure)
	assert.Equal(t, uint64(42<<20), snap.Memory.RSSBytes)
	require.NotNil(t, snap.Engine)
	assert.Equal(t, 3, snap.Engine.Warm)

	w = do(t, router, "GET", "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "# HELP")
}

func TestRequestValidation(t *testing.T) {
	svc := newFakeTabs()
	router := newTestRouter(t, svc, fakeMemory{})
	require.Equal(t, http.StatusCreated, do(t, router, "POST", "/tabs", "").Code)

	tests := []struct {
		name string
		path string
		body string
	}{
		{"create with script url", "/tabs", `{"url":"javascript:alert(1)"}`},
		{"create without host", "/tabs", `{"url":"https:///path"}`},
		{"navigate without url", "/tabs/1/navigate", `{}`},
		{"navigate to ftp", "/tabs/1/navigate", `{"url":"ftp://files.test/a"}`},
		{"blank script", "/tabs/1/execute", `{"script":"   "}`},
		{"script with null byte", "/tabs/1/execute", `{"script":"1\u0000"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, router, "POST", tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}

	long := `{"url":"https://a.test/` + strings.Repeat("x", MaxURLLength) + `"}`
	assert.Equal(t, http.StatusBadRequest, do(t, router, "POST", "/tabs/1/navigate", long).Code)
}
