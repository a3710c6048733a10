package rss

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"
)

const (
	DefaultInterval   = 500 * time.Millisecond
	defaultWindowSize = 120
)

var ErrAlreadyRunning = errors.New("rss monitor already running")

// Sampler reads the current resident set size in bytes
type Sampler interface {
	Sample(ctx context.Context) (uint64, error)
}

// SamplerFunc adapts a function to Sampler
type SamplerFunc func(ctx context.Context) (uint64, error)

// Sample calls f
func (f SamplerFunc) Sample(ctx context.Context) (uint64, error) { return f(ctx) }

// ProcessSampler reads RSS for a process through gopsutil
type ProcessSampler struct {
	proc *process.Process
}

// NewProcessSampler samples the current process
func NewProcessSampler() (*ProcessSampler, error) {
	return NewProcessSamplerFor(int32(os.Getpid()))
}

// NewProcessSamplerFor samples the process with the given pid
func NewProcessSamplerFor(pid int32) (*ProcessSampler, error) {
	p, err := process.NewProcess(pid)
	if err != nil {
		return nil, err
	}
	return &ProcessSampler{proc: p}, nil
}

// Sample implements Sampler
func (s *ProcessSampler) Sample(ctx context.Context) (uint64, error) {
	info, err := s.proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return info.RSS, nil
}

// Callback receives the new level and the sample that caused it
type Callback func(level Level, rss uint64)

// Monitor samples resident memory on an interval and tracks pressure
type Monitor struct {
	sampler    Sampler
	thresholds Thresholds
	interval   time.Duration
	logger     *zap.Logger

	rss   atomic.Uint64
	level atomic.Int32

	cbMu     sync.RWMutex
	callback Callback

	// window of recent samples for Summary
	winMu  sync.Mutex
	window []float64
	next   int
	filled bool

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Monitor
type Option func(*Monitor)

// WithInterval overrides the sampling interval
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithLogger attaches a logger
func WithLogger(l *zap.Logger) Option {
	return func(m *Monitor) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithWindow sets how many samples Summary covers
func WithWindow(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.window = make([]float64, n)
		}
	}
}

// NewMonitor creates a monitor. It does not sample until Start.
func NewMonitor(sampler Sampler, thresholds Thresholds, opts ...Option) *Monitor {
	m := &Monitor{
		sampler:    sampler,
		thresholds: thresholds,
		interval:   DefaultInterval,
		logger:     zap.NewNop(),
		window:     make([]float64, defaultWindowSize),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.level.Store(int32(LevelLow))
	return m
}

// OnPressureChange registers the transition callback, replacing any previous one
func (m *Monitor) OnPressureChange(cb Callback) {
	m.cbMu.Lock()
	m.callback = cb
	m.cbMu.Unlock()
}

// Thresholds returns the configured thresholds
func (m *Monitor) Thresholds() Thresholds {
	return m.thresholds
}

// CurrentRSS returns the last sample in bytes
func (m *Monitor) CurrentRSS() uint64 {
	return m.rss.Load()
}

// CurrentPressure returns the level of the last sample
func (m *Monitor) CurrentPressure() Level {
	return Level(m.level.Load())
}

// Start launches the sampling loop
func (m *Monitor) Start(ctx context.Context) error {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	if m.cancel != nil {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	go m.run(ctx, m.done)
	return nil
}

// Stop ends the sampling loop and waits for it to exit
func (m *Monitor) Stop() {
	m.runMu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.runMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (m *Monitor) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Poll(ctx)
		}
	}
}

// Poll takes one sample. A failed read counts as no sample for this tick.
func (m *Monitor) Poll(ctx context.Context) {
	rss, err := m.sampler.Sample(ctx)
	if err != nil {
		m.logger.Debug("no rss sample this tick", zap.Error(err))
		return
	}
	m.Observe(rss)
}

// Observe records a sample and fires the callback on a level transition
func (m *Monitor) Observe(rss uint64) {
	m.rss.Store(rss)
	m.push(float64(rss))

	level := m.thresholds.Classify(rss)
	prev := Level(m.level.Swap(int32(level)))
	if prev == level {
		return
	}

	m.logger.Info("memory pressure changed",
		zap.Stringer("from", prev),
		zap.Stringer("to", level),
		zap.Uint64("rss_bytes", rss))

	m.cbMu.RLock()
	cb := m.callback
	m.cbMu.RUnlock()
	if cb != nil {
		cb(level, rss)
	}
}

func (m *Monitor) push(v float64) {
	m.winMu.Lock()
	m.window[m.next] = v
	m.next = (m.next + 1) % len(m.window)
	if m.next == 0 {
		m.filled = true
	}
	m.winMu.Unlock()
}

// Summary describes the recent sample window
type Summary struct {
	Samples int     `json:"samples"`
	Mean    float64 `json:"mean_bytes"`
	StdDev  float64 `json:"stddev_bytes"`
	Max     float64 `json:"max_bytes"`
}

// Summary computes statistics over the recent samples
func (m *Monitor) Summary() Summary {
	m.winMu.Lock()
	n := m.next
	if m.filled {
		n = len(m.window)
	}
	samples := make([]float64, n)
	copy(samples, m.window[:n])
	m.winMu.Unlock()

	if n == 0 {
		return Summary{}
	}

	mean, std := stat.MeanStdDev(samples, nil)
	if n == 1 {
		std = 0
	}
	peak := samples[0]
	for _, v := range samples[1:] {
		if v > peak {
			peak = v
		}
	}
	return Summary{Samples: n, Mean: mean, StdDev: std, Max: peak}
}
