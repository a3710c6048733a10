package engine

import (
	"sync"
	"sync/atomic"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/tabcore/internal/shared/id"
	"github.com/GriffinCanCode/tabcore/internal/tabs"
)

// Pool builds per-tab runtimes and keeps warm VMs ready for them
type Pool struct {
	cfg    Config
	loader *Loader
	logger *zap.Logger

	warm   chan *goja.Runtime
	refill chan struct{}
	stop   chan struct{}
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	created atomic.Int64
	active  atomic.Int64
}

// Stats reports pool counters
type Stats struct {
	Size    int   `json:"size"`
	Warm    int   `json:"warm"`
	Active  int64 `json:"active"`
	Created int64 `json:"created"`
	Closed  bool  `json:"closed"`
}

// NewPool creates a pool and pre-warms cfg.PoolSize VMs
func NewPool(cfg Config, logger *zap.Logger) (*Pool, error) {
	cfg.fill()
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Pool{
		cfg:    cfg,
		loader: NewLoader(cfg, logger),
		logger: logger,
		warm:   make(chan *goja.Runtime, cfg.PoolSize),
		refill: make(chan struct{}, 1),
		stop:   make(chan struct{}),
	}
	p.topUp()

	p.wg.Add(1)
	go p.refiller()
	return p, nil
}

// New is the tabs.EngineFactory backed by this pool
func (p *Pool) New(tabID id.TabID) (tabs.Engine, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return nil, ErrPoolClosed
	}

	r, err := newRuntime(tabID, p)
	if err != nil {
		return nil, err
	}
	p.active.Add(1)
	return r, nil
}

// acquire hands out a warm VM, or a fresh one when none is ready
func (p *Pool) acquire() *goja.Runtime {
	select {
	case vm := <-p.warm:
		p.kick()
		return vm
	default:
		return p.newVM()
	}
}

func (p *Pool) release() {
	p.active.Add(-1)
}

func (p *Pool) newVM() *goja.Runtime {
	vm := goja.New()
	vm.SetMaxCallStackSize(p.cfg.MaxCallStackSize)
	p.created.Add(1)
	return vm
}

func (p *Pool) kick() {
	select {
	case p.refill <- struct{}{}:
	default:
	}
}

func (p *Pool) refiller() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stop:
			return
		case <-p.refill:
			p.topUp()
		}
	}
}

func (p *Pool) topUp() {
	for len(p.warm) < cap(p.warm) {
		select {
		case <-p.stop:
			return
		case p.warm <- p.newVM():
		default:
			return
		}
	}
}

// Close stops the refiller and drops warm VMs. Live runtimes keep working.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.stop)
	p.mu.Unlock()

	p.wg.Wait()
	for {
		select {
		case <-p.warm:
		default:
			return nil
		}
	}
}

// Stats returns pool statistics
func (p *Pool) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return Stats{
		Size:    p.cfg.PoolSize,
		Warm:    len(p.warm),
		Active:  p.active.Load(),
		Created: p.created.Load(),
		Closed:  p.closed,
	}
}
