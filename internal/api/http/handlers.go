package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/tabcore/internal/engine"
	"github.com/GriffinCanCode/tabcore/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/tabcore/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/tabcore/internal/memory/rss"
	"github.com/GriffinCanCode/tabcore/internal/shared/id"
	"github.com/GriffinCanCode/tabcore/internal/tabs"
)

// TabService is the tab runtime as seen by the HTTP layer
type TabService interface {
	CreateTab(ctx context.Context, url string) (tabs.Info, error)
	CloseTab(ctx context.Context, tabID id.TabID) error
	Navigate(ctx context.Context, tabID id.TabID, url string) error
	Reload(ctx context.Context, tabID id.TabID) error
	Stop(ctx context.Context, tabID id.TabID) error
	GoBack(ctx context.Context, tabID id.TabID) error
	GoForward(ctx context.Context, tabID id.TabID) error
	Focus(ctx context.Context, tabID id.TabID) error
	Hibernate(ctx context.Context, tabID id.TabID) error
	Restore(ctx context.Context, tabID id.TabID) error
	ExecuteScript(ctx context.Context, tabID id.TabID, script string) (tabs.ScriptResult, error)
	Tab(tabID id.TabID) (tabs.Info, error)
	Tabs() []tabs.Info
	Thumbnail(tabID id.TabID) ([]byte, error)
	Stats(ctx context.Context) tabs.Stats
}

// MemoryStatus reports process memory
type MemoryStatus interface {
	CurrentRSS() uint64
	CurrentPressure() rss.Level
	Summary() rss.Summary
}

// EngineStats reports engine pool counters
type EngineStats interface {
	Stats() engine.Stats
}

// Deps are the collaborators the handlers serve
type Deps struct {
	Tabs    TabService
	Memory  MemoryStatus
	Engines EngineStats // optional
	Metrics *monitoring.Metrics
	Logger  *zap.Logger
	Version string
}

// Handlers contains all HTTP handlers
type Handlers struct {
	tabs    TabService
	memory  MemoryStatus
	engines EngineStats
	metrics *monitoring.Metrics
	logger  *zap.Logger
	version string
	started time.Time
}

// NewHandlers creates a new handler set
func NewHandlers(deps Deps) *Handlers {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = monitoring.NewMetrics()
	}
	return &Handlers{
		tabs:    deps.Tabs,
		memory:  deps.Memory,
		engines: deps.Engines,
		metrics: metrics,
		logger:  logger,
		version: deps.Version,
		started: time.Now(),
	}
}

// Register mounts every route on r
func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/health", h.Health)
	r.GET("/stats", h.Stats)
	r.GET("/metrics", gin.WrapH(h.metrics.Handler()))

	r.GET("/tabs", h.ListTabs)
	r.POST("/tabs", h.CreateTab)

	tab := r.Group("/tabs/:id")
	tab.GET("", h.GetTab)
	tab.DELETE("", h.CloseTab)
	tab.POST("/navigate", h.Navigate)
	tab.POST("/execute", h.Execute)
	tab.GET("/thumbnail", h.Thumbnail)
	tab.POST("/reload", h.action("reload", TabService.Reload))
	tab.POST("/stop", h.action("stop", TabService.Stop))
	tab.POST("/back", h.action("back", TabService.GoBack))
	tab.POST("/forward", h.action("forward", TabService.GoForward))
	tab.POST("/focus", h.action("focus", TabService.Focus))
	tab.POST("/hibernate", h.action("hibernate", TabService.Hibernate))
	tab.POST("/restore", h.action("restore", TabService.Restore))
}

// Health handles liveness and memory pressure
func (h *Handlers) Health(c *gin.Context) {
	pressure := h.memory.CurrentPressure()
	status := "healthy"
	if pressure >= rss.LevelCritical {
		status = "degraded"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":         status,
		"version":        h.version,
		"uptime_seconds": time.Since(h.started).Seconds(),
		"rss_bytes":      h.memory.CurrentRSS(),
		"pressure":       pressure.String(),
	})
}

// ListTabs lists every tab in id order
func (h *Handlers) ListTabs(c *gin.Context) {
	list := h.tabs.Tabs()
	c.JSON(http.StatusOK, gin.H{
		"tabs":  list,
		"count": len(list),
	})
}

type urlRequest struct {
	URL string `json:"url"`
}

// CreateTab opens a tab, optionally loading a URL
func (h *Handlers) CreateTab(c *gin.Context) {
	var req urlRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
			return
		}
	}

	if err := validateURL(req.URL); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	info, err := h.tabs.CreateTab(c.Request.Context(), req.URL)
	if err != nil {
		h.fail(c, "create", err)
		return
	}
	c.JSON(http.StatusCreated, info)
}

// GetTab returns one tab
func (h *Handlers) GetTab(c *gin.Context) {
	tabID, ok := tabParam(c)
	if !ok {
		return
	}
	info, err := h.tabs.Tab(tabID)
	if err != nil {
		h.fail(c, "get", err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// CloseTab closes and forgets a tab
func (h *Handlers) CloseTab(c *gin.Context) {
	tabID, ok := tabParam(c)
	if !ok {
		return
	}
	if err := h.tabs.CloseTab(c.Request.Context(), tabID); err != nil {
		h.fail(c, "close", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "tab_id": tabID})
}

// Navigate loads a URL in a tab
func (h *Handlers) Navigate(c *gin.Context) {
	tabID, ok := tabParam(c)
	if !ok {
		return
	}
	var req urlRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	if req.URL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url is required"})
		return
	}
	if err := validateURL(req.URL); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.tabs.Navigate(c.Request.Context(), tabID, req.URL); err != nil {
		h.fail(c, "navigate", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"success": true, "tab_id": tabID})
}

type executeRequest struct {
	Script string `json:"script" binding:"required"`
}

// Execute runs a script in a tab and waits for its result
func (h *Handlers) Execute(c *gin.Context) {
	tabID, ok := tabParam(c)
	if !ok {
		return
	}
	var req executeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	if err := validateScript(req.Script); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.tabs.ExecuteScript(c.Request.Context(), tabID, req.Script)
	if err != nil {
		// script errors still carry console output
		if !isRuntimeError(err) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "result": res})
			return
		}
		h.fail(c, "execute", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Thumbnail serves the ghost bitmap of a hibernated tab
func (h *Handlers) Thumbnail(c *gin.Context) {
	tabID, ok := tabParam(c)
	if !ok {
		return
	}
	png, err := h.tabs.Thumbnail(tabID)
	if err != nil {
		h.fail(c, "thumbnail", err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", png)
}

// action adapts a state-changing tab call with no body
func (h *Handlers) action(name string, fn func(TabService, context.Context, id.TabID) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		tabID, ok := tabParam(c)
		if !ok {
			return
		}
		if err := fn(h.tabs, c.Request.Context(), tabID); err != nil {
			h.fail(c, name, err)
			return
		}
		info, err := h.tabs.Tab(tabID)
		if err != nil {
			// closed in the meantime
			c.JSON(http.StatusOK, gin.H{"success": true, "tab_id": tabID})
			return
		}
		c.JSON(http.StatusOK, info)
	}
}

func tabParam(c *gin.Context) (id.TabID, bool) {
	tabID, err := id.ParseTabID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return 0, false
	}
	return tabID, true
}

// fail maps runtime errors onto status codes
func (h *Handlers) fail(c *gin.Context, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("tab operation failed", zap.String("op", op), zap.Error(err))
	}
	_ = c.Error(err)
	c.JSON(status, gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, tabs.ErrTabNotFound), errors.Is(err, tabs.ErrNoThumbnail):
		return http.StatusNotFound
	case errors.Is(err, tabs.ErrTransitionInFlight), errors.Is(err, tabs.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, tabs.ErrNotStarted), errors.Is(err, tabs.ErrClosed),
		errors.Is(err, resilience.ErrCircuitOpen), errors.Is(err, resilience.ErrTooManyRequests),
		errors.Is(err, engine.ErrPoolClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func isRuntimeError(err error) bool {
	return statusFor(err) != http.StatusInternalServerError || errors.Is(err, tabs.ErrFault)
}
