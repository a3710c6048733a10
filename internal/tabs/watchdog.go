package tabs

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/tabcore/internal/shared/id"
)

// WatchdogConfig sets heartbeat timing
type WatchdogConfig struct {
	PingInterval time.Duration
	Grace        time.Duration
	Timeout      time.Duration
}

// DefaultWatchdogConfig pings every 500ms and flags tabs silent for 5s
func DefaultWatchdogConfig() WatchdogConfig {
	return WatchdogConfig{
		PingInterval: 500 * time.Millisecond,
		Grace:        100 * time.Millisecond,
		Timeout:      5 * time.Second,
	}
}

type watched struct {
	inbox    chan<- Message
	lastBeat time.Time
	reported bool
}

// Watchdog pings workers and reports the ones that stop answering.
// It never stops a worker itself.
type Watchdog struct {
	cfg    WatchdogConfig
	events chan<- Event
	now    func() time.Time
	logger *zap.Logger

	mu   sync.Mutex
	tabs map[id.TabID]*watched
}

// NewWatchdog creates a watchdog publishing Unresponsive events on events
func NewWatchdog(cfg WatchdogConfig, events chan<- Event, logger *zap.Logger) *Watchdog {
	def := DefaultWatchdogConfig()
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.Grace <= 0 {
		cfg.Grace = def.Grace
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watchdog{
		cfg:    cfg,
		events: events,
		now:    time.Now,
		logger: logger,
		tabs:   make(map[id.TabID]*watched),
	}
}

// Watch starts tracking a worker inbox; the tab counts as alive now
func (d *Watchdog) Watch(tabID id.TabID, inbox chan<- Message) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tabs[tabID] = &watched{inbox: inbox, lastBeat: d.now()}
}

// Unwatch stops tracking a tab
func (d *Watchdog) Unwatch(tabID id.TabID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.tabs, tabID)
}

// Beat records a heartbeat and ends any stale episode
func (d *Watchdog) Beat(tabID id.TabID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if w, ok := d.tabs[tabID]; ok {
		w.lastBeat = d.now()
		w.reported = false
	}
}

// Watching reports how many tabs are tracked
func (d *Watchdog) Watching() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.tabs)
}

// Run pings and checks until ctx is done
func (d *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		d.PingAll()

		grace := time.NewTimer(d.cfg.Grace)
		select {
		case <-ctx.Done():
			grace.Stop()
			return
		case <-grace.C:
		}

		for _, ev := range d.Check() {
			select {
			case d.events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}

// PingAll offers a Ping to every watched inbox without blocking
func (d *Watchdog) PingAll() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for tabID, w := range d.tabs {
		select {
		case w.inbox <- Simple(MsgPing):
		default:
			d.logger.Debug("inbox full, ping skipped", zap.Uint64("tab_id", uint64(tabID)))
		}
	}
}

// Check returns one Unresponsive event per tab that just went stale
func (d *Watchdog) Check() []Event {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	var out []Event
	for tabID, w := range d.tabs {
		silent := now.Sub(w.lastBeat)
		if silent <= d.cfg.Timeout || w.reported {
			continue
		}
		w.reported = true
		d.logger.Warn("tab unresponsive",
			zap.Uint64("tab_id", uint64(tabID)),
			zap.Duration("silent", silent))
		out = append(out, Event{
			Kind:    EventUnresponsive,
			TabID:   tabID,
			Time:    now,
			Message: "no heartbeat for " + silent.Truncate(time.Millisecond).String(),
		})
	}
	return out
}
