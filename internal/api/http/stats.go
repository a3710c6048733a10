package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/tabcore/internal/engine"
	"github.com/GriffinCanCode/tabcore/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/tabcore/internal/memory/rss"
	"github.com/GriffinCanCode/tabcore/internal/tabs"
)

// StatsSnapshot aggregates every subsystem for the stats endpoint
type StatsSnapshot struct {
	Timestamp time.Time           `json:"timestamp"`
	Tabs      tabs.Stats          `json:"tabs"`
	Memory    MemorySnapshot      `json:"memory"`
	Engine    *engine.Stats       `json:"engine,omitempty"`
	Requests  monitoring.Snapshot `json:"requests"`
	Summary   StatsSummary        `json:"summary"`
}

// MemorySnapshot is the process memory view
type MemorySnapshot struct {
	RSSBytes uint64      `json:"rss_bytes"`
	Pressure string      `json:"pressure"`
	Window   rss.Summary `json:"window"`
}

// StatsSummary provides high-level numbers
type StatsSummary struct {
	OpenTabs       int     `json:"open_tabs"`
	HibernatedTabs int     `json:"hibernated_tabs"`
	ErrorRate      float64 `json:"error_rate"`
	UptimeSeconds  float64 `json:"uptime_seconds"`
}

// Stats returns the aggregated snapshot
func (h *Handlers) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.snapshot(c))
}

func (h *Handlers) snapshot(c *gin.Context) StatsSnapshot {
	ts := h.tabs.Stats(c.Request.Context())
	req := h.metrics.Snapshot()

	snap := StatsSnapshot{
		Timestamp: time.Now(),
		Tabs:      ts,
		Memory: MemorySnapshot{
			RSSBytes: h.memory.CurrentRSS(),
			Pressure: h.memory.CurrentPressure().String(),
			Window:   h.memory.Summary(),
		},
		Requests: req,
	}
	if h.engines != nil {
		es := h.engines.Stats()
		snap.Engine = &es
	}

	for _, n := range ts.States {
		snap.Summary.OpenTabs += n
	}
	snap.Summary.HibernatedTabs = ts.States[tabs.StateHibernated.String()]
	if req.TotalRequests > 0 {
		snap.Summary.ErrorRate = float64(req.TotalErrors) / float64(req.TotalRequests)
	}
	snap.Summary.UptimeSeconds = time.Since(h.started).Seconds()
	return snap
}
