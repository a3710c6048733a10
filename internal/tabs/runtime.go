package tabs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/tabcore/internal/infrastructure/logging"
	"github.com/GriffinCanCode/tabcore/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/tabcore/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/tabcore/internal/memory/eviction"
	"github.com/GriffinCanCode/tabcore/internal/memory/ghost"
	"github.com/GriffinCanCode/tabcore/internal/memory/heap"
	"github.com/GriffinCanCode/tabcore/internal/memory/hibernation"
	"github.com/GriffinCanCode/tabcore/internal/memory/rss"
	"github.com/GriffinCanCode/tabcore/internal/shared/id"
)

var (
	ErrTabNotFound        = errors.New("tab not found")
	ErrTransitionInFlight = errors.New("tab is already changing state")
	ErrInvalidState       = errors.New("operation not allowed in current tab state")
	ErrNoThumbnail        = errors.New("tab has no thumbnail")
	ErrNotStarted         = errors.New("runtime not started")
	ErrClosed             = errors.New("runtime closed")
)

// ColdStore persists hibernated tabs
type ColdStore interface {
	Hibernate(ctx context.Context, snap *hibernation.Snapshot) (uint64, error)
	Hydrate(ctx context.Context, tabID id.TabID) (*hibernation.Snapshot, error)
	Delete(tabID id.TabID) error
	ListHibernated(ctx context.Context) ([]id.TabID, error)
	TotalStorageBytes(ctx context.Context) (int64, error)
	CleanupOld(ctx context.Context, maxAge time.Duration) (int, error)
}

// MemorySource reports process memory and announces pressure transitions
type MemorySource interface {
	CurrentRSS() uint64
	CurrentPressure() rss.Level
	OnPressureChange(cb rss.Callback)
}

// Config tunes the runtime
type Config struct {
	Heap     heap.Limits
	Watchdog WatchdogConfig

	// OpTimeout bounds a single load or script run inside a worker
	OpTimeout       time.Duration
	CaptureTimeout  time.Duration
	ShutdownTimeout time.Duration

	CheckInterval time.Duration
	MaxIdle       time.Duration
	// MaxAge removes hibernation files older than this at Start; zero keeps them
	MaxAge time.Duration

	// SuspendRate and SuspendBurst throttle suspends caused by critical pressure
	SuspendRate  float64
	SuspendBurst int

	EventBuffer int
	InboxSize   int
}

// DefaultConfig returns the settings used when nothing is configured
func DefaultConfig() Config {
	return Config{
		Heap:            heap.DefaultLimits(),
		Watchdog:        DefaultWatchdogConfig(),
		OpTimeout:       30 * time.Second,
		CaptureTimeout:  2 * time.Second,
		ShutdownTimeout: 2 * time.Second,
		CheckInterval:   30 * time.Second,
		MaxIdle:         10 * time.Minute,
		MaxAge:          7 * 24 * time.Hour,
		SuspendRate:     4,
		SuspendBurst:    4,
		EventBuffer:     256,
		InboxSize:       64,
	}
}

func (c *Config) fill() {
	def := DefaultConfig()
	if c.Heap.Hard == 0 {
		c.Heap = def.Heap
	}
	if c.CaptureTimeout <= 0 {
		c.CaptureTimeout = def.CaptureTimeout
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = def.ShutdownTimeout
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = def.CheckInterval
	}
	if c.MaxIdle <= 0 {
		c.MaxIdle = def.MaxIdle
	}
	if c.SuspendRate <= 0 {
		c.SuspendRate = def.SuspendRate
	}
	if c.SuspendBurst <= 0 {
		c.SuspendBurst = def.SuspendBurst
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = def.EventBuffer
	}
	if c.InboxSize <= 0 {
		c.InboxSize = def.InboxSize
	}
}

// Deps are the collaborators a Runtime drives
type Deps struct {
	Store   ColdStore
	Memory  MemorySource
	Engines EngineFactory

	// Optional
	Breaker *resilience.Breaker
	Metrics *monitoring.Metrics
	Logger  *zap.Logger
	Clock   func() time.Time
}

type tab struct {
	id      id.TabID
	heap    *heap.Heap
	created time.Time

	mu        sync.Mutex
	state     State
	busy      bool
	worker    *Worker
	ghost     *ghost.Tab
	url       string
	title     string
	favicon   string
	progress  float64
	lastCrash *CrashReport
}

// Runtime owns every tab and the machinery that keeps memory bounded
type Runtime struct {
	cfg      Config
	store    ColdStore
	memory   MemorySource
	engines  EngineFactory
	manager  *eviction.Manager
	watchdog *Watchdog
	breaker  *resilience.Breaker
	limiter  *rate.Limiter
	metrics  *monitoring.Metrics
	tracker  *heap.Tracker
	ids      *id.Allocator
	logger   *zap.Logger

	events   chan Event
	suspends chan eviction.Event

	mu      sync.RWMutex
	tabs    map[id.TabID]*tab
	focused id.TabID

	subMu   sync.RWMutex
	subs    map[int]chan Event
	nextSub int

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	started   atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewRuntime wires a runtime; call Start before opening tabs
func NewRuntime(cfg Config, deps Deps) (*Runtime, error) {
	if deps.Store == nil || deps.Memory == nil || deps.Engines == nil {
		return nil, errors.New("runtime requires a store, a memory source and an engine factory")
	}
	cfg.fill()
	if err := cfg.Heap.Validate(); err != nil {
		return nil, fmt.Errorf("heap limits: %w", err)
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = monitoring.NewMetrics()
	}
	breaker := deps.Breaker
	if breaker == nil {
		breaker = resilience.New("hibernation", resilience.Settings{
			Timeout: 30 * time.Second,
			ReadyToTrip: func(c resilience.Counts) bool {
				return c.ConsecutiveFailures >= 3
			},
			IsFailure: func(err error) bool {
				return err != nil && !errors.Is(err, context.Canceled)
			},
			OnStateChange: func(name string, from, to resilience.State) {
				logger.Warn("circuit breaker changed state",
					zap.String("breaker", name),
					zap.Stringer("from", from),
					zap.Stringer("to", to))
			},
		})
	}

	managerOpts := []eviction.Option{eviction.WithLogger(logger.Named("eviction"))}
	if deps.Clock != nil {
		managerOpts = append(managerOpts, eviction.WithClock(deps.Clock))
	}

	events := make(chan Event, cfg.EventBuffer)
	ctx, cancel := context.WithCancel(context.Background())

	return &Runtime{
		cfg:      cfg,
		store:    deps.Store,
		memory:   deps.Memory,
		engines:  deps.Engines,
		manager:  eviction.NewManager(deps.Memory, managerOpts...),
		watchdog: NewWatchdog(cfg.Watchdog, events, logger.Named("watchdog")),
		breaker:  breaker,
		limiter:  rate.NewLimiter(rate.Limit(cfg.SuspendRate), cfg.SuspendBurst),
		metrics:  metrics,
		tracker:  heap.NewTracker(),
		ids:      id.NewAllocator(),
		logger:   logger,
		events:   events,
		suspends: make(chan eviction.Event, 64),
		tabs:     make(map[id.TabID]*tab),
		subs:     make(map[int]chan Event),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Start prunes stale hibernation files, seeds tab ids above what is on
// disk and launches the background loops. ctx bounds the startup I/O only.
func (r *Runtime) Start(ctx context.Context) error {
	if r.closed.Load() {
		return ErrClosed
	}
	if !r.started.CompareAndSwap(false, true) {
		return nil
	}

	if r.cfg.MaxAge > 0 {
		removed, err := r.store.CleanupOld(ctx, r.cfg.MaxAge)
		if err != nil {
			r.logger.Warn("hibernation cleanup failed", zap.Error(err))
		} else if removed > 0 {
			r.logger.Info("removed stale hibernation files", zap.Int("count", removed))
		}
	}

	onDisk, err := r.store.ListHibernated(ctx)
	if err != nil {
		r.started.Store(false)
		return fmt.Errorf("list hibernated tabs: %w", err)
	}
	var highest id.TabID
	for _, tabID := range onDisk {
		if tabID > highest {
			highest = tabID
		}
	}
	r.ids.SeedAbove(highest)

	r.memory.OnPressureChange(r.onPressure)

	r.spawn(r.dispatch)
	r.spawn(r.execute)
	r.spawn(r.housekeep)
	r.spawn(r.watchdog.Run)

	r.logger.Info("tab runtime started",
		zap.Int("hibernated_on_disk", len(onDisk)),
		zap.Duration("check_interval", r.cfg.CheckInterval),
		zap.Duration("max_idle", r.cfg.MaxIdle))
	return nil
}

func (r *Runtime) spawn(fn func(ctx context.Context)) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		fn(r.ctx)
	}()
}

// Close stops every worker and loop. Hibernation files stay on disk.
func (r *Runtime) Close(ctx context.Context) error {
	var err error
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed.Store(true)
		r.mu.Unlock()
		r.memory.OnPressureChange(nil)
		r.cancel()

		done := make(chan struct{})
		go func() {
			r.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			err = fmt.Errorf("waiting for workers: %w", ctx.Err())
		}

		r.mu.Lock()
		for _, t := range r.tabs {
			t.heap.Release()
		}
		r.mu.Unlock()

		r.subMu.Lock()
		for key, ch := range r.subs {
			delete(r.subs, key)
			close(ch)
		}
		r.subMu.Unlock()

		r.logger.Info("tab runtime stopped")
	})
	return err
}

func (r *Runtime) ready() error {
	if r.closed.Load() {
		return ErrClosed
	}
	if !r.started.Load() {
		return ErrNotStarted
	}
	return nil
}

func (r *Runtime) lookup(tabID id.TabID) (*tab, error) {
	r.mu.RLock()
	t, ok := r.tabs[tabID]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrTabNotFound, tabID)
	}
	return t, nil
}

func (r *Runtime) snapshotTabs() []*tab {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*tab, 0, len(r.tabs))
	for _, t := range r.tabs {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func (r *Runtime) newWorker(t *tab, eng Engine) *Worker {
	return NewWorker(t.id, eng, t.heap, r.events, WorkerOptions{
		OpTimeout: r.cfg.OpTimeout,
		InboxSize: r.cfg.InboxSize,
		Logger:    r.logger.Named("worker"),
	})
}

// launch starts w on the runtime context and puts it under the watchdog
func (r *Runtime) launch(w *Worker) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed.Load() {
		return ErrClosed
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		w.Run(r.ctx)
	}()
	r.watchdog.Watch(w.tabID, w.Inbox())
	return nil
}

// stopWorker asks a worker to exit and waits a bounded time for it
func (r *Runtime) stopWorker(w *Worker) {
	if w == nil {
		return
	}
	r.watchdog.Unwatch(w.tabID)
	w.Interrupt()
	w.Shutdown()

	timer := time.NewTimer(r.cfg.ShutdownTimeout)
	defer timer.Stop()

	select {
	case <-w.Done():
	case <-timer.C:
		r.logger.Warn("worker did not stop in time", logging.Tab(w.tabID))
	}
}

// dispatch applies worker events to the tab table and fans them out
func (r *Runtime) dispatch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-r.events:
			if r.apply(ev) {
				r.publish(ev)
			}
		}
	}
}

// apply folds one worker event into tab state and reports whether to publish it
func (r *Runtime) apply(ev Event) bool {
	if ev.Kind == EventPong {
		r.watchdog.Beat(ev.TabID)
		return false
	}

	t, err := r.lookup(ev.TabID)
	if err != nil {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	// late events from a worker that was already torn down
	if t.state == StateHibernated {
		return false
	}

	switch ev.Kind {
	case EventLoadStarted:
		if t.state == StateActive {
			t.state = StateLoading
		}
		t.progress = 0
	case EventLoadProgress:
		t.progress = ev.Progress
	case EventLoadFinished:
		if t.state == StateLoading {
			t.state = StateActive
		}
		if ev.URL != "" {
			t.url = ev.URL
		}
		if ev.Title != "" {
			t.title = ev.Title
		}
		t.favicon = ev.Favicon
		t.progress = 1
	case EventURLChanged:
		t.url = ev.URL
	case EventTitleChanged:
		t.title = ev.Title
	case EventMemoryReport:
		r.manager.UpdateMemory(t.id, ev.Bytes)
	case EventCrashed:
		t.state = StateCrashed
		t.url = "about:crash"
		t.title = "Tab Crashed"
		t.progress = 0
		t.lastCrash = ev.Crash
		t.heap.Reset()
		r.manager.UpdateMemory(t.id, 0)
		r.metrics.IncCrashes()
	case EventUnresponsive:
		r.metrics.Unresponsive.Inc()
		r.logger.Warn("tab unresponsive", logging.Tab(t.id), zap.String("detail", ev.Message))
	}
	return true
}

// Subscribe returns a stream of runtime events and a func to stop it.
// A subscriber that falls behind loses events rather than stalling others.
func (r *Runtime) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	r.subMu.Lock()
	if r.closed.Load() {
		r.subMu.Unlock()
		close(ch)
		return ch, func() {}
	}
	key := r.nextSub
	r.nextSub++
	r.subs[key] = ch
	r.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.subMu.Lock()
			if _, ok := r.subs[key]; ok {
				delete(r.subs, key)
				close(ch)
			}
			r.subMu.Unlock()
		})
	}
}

func (r *Runtime) publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	r.subMu.RLock()
	defer r.subMu.RUnlock()
	for _, ch := range r.subs {
		select {
		case ch <- ev:
		default:
			r.metrics.RecordDropped("slow_subscriber")
		}
	}
}

// onPressure runs on the monitor goroutine for every level transition
func (r *Runtime) onPressure(level rss.Level, sample uint64) {
	r.metrics.SetMemory(sample, int(level), r.tracker.Total(), r.ghostBytes())
	if level == rss.LevelLow {
		return
	}
	r.enqueue(r.manager.CheckPressureAt(level))
}

// enqueue hands suspend proposals to the executor without blocking.
// Critical pressure spends from the rate limiter; the rest is dropped and
// proposed again by the next check.
func (r *Runtime) enqueue(events []eviction.Event) {
	for _, ev := range events {
		if ev.Reason.Kind == eviction.ReasonMemoryPressure &&
			ev.Reason.Level == rss.LevelCritical &&
			!r.limiter.Allow() {
			r.metrics.RecordDropped("rate_limited")
			continue
		}
		select {
		case r.suspends <- ev:
		default:
			r.metrics.RecordDropped("queue_full")
		}
	}
}

// execute carries out queued suspend and restore proposals
func (r *Runtime) execute(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-r.suspends:
			var err error
			switch ev.Kind {
			case eviction.KindSuspend:
				err = r.suspend(ctx, ev.TabID, ev.Reason)
			case eviction.KindRestore:
				err = r.Restore(ctx, ev.TabID)
			}
			switch {
			case err == nil:
			case errors.Is(err, ErrTransitionInFlight),
				errors.Is(err, ErrInvalidState),
				errors.Is(err, ErrTabNotFound):
				r.logger.Debug("skipped eviction", zap.Stringer("event", ev), zap.Error(err))
			default:
				r.logger.Warn("eviction failed", zap.Stringer("event", ev), zap.Error(err))
			}
		}
	}
}

func (r *Runtime) housekeep(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Housekeep(ctx)
		}
	}
}

// Housekeep runs one pressure and inactivity pass and refreshes gauges
func (r *Runtime) Housekeep(ctx context.Context) {
	r.enqueue(r.manager.CheckPressure())
	r.enqueue(r.manager.CheckInactivity(r.cfg.MaxIdle))
	r.refreshMetrics(ctx)
}

func (r *Runtime) refreshMetrics(ctx context.Context) {
	counts := make(map[string]int, len(stateNames))
	for _, s := range AllStates() {
		counts[s.String()] = 0
	}
	for _, t := range r.snapshotTabs() {
		t.mu.Lock()
		counts[t.state.String()]++
		t.mu.Unlock()
	}
	r.metrics.SetTabStates(counts)
	r.metrics.SetMemory(r.memory.CurrentRSS(), int(r.memory.CurrentPressure()), r.tracker.Total(), r.ghostBytes())

	if n, err := r.store.TotalStorageBytes(ctx); err == nil {
		r.metrics.SetStorageBytes(n)
	}
}

func (r *Runtime) ghostBytes() int64 {
	var total int64
	for _, t := range r.snapshotTabs() {
		t.mu.Lock()
		if t.ghost != nil {
			total += int64(t.ghost.MemoryUsage())
		}
		t.mu.Unlock()
	}
	return total
}
