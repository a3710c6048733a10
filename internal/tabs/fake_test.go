package tabs

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/GriffinCanCode/tabcore/internal/memory/hibernation"
	"github.com/GriffinCanCode/tabcore/internal/shared/id"
)

const (
	frameWidth  = 64
	frameHeight = 48
)

// fakeEngine interprets URL schemes and scripts as test instructions:
// panic:// and fault:// crash, fail:// errors, slow:// blocks until cancelled.
type fakeEngine struct {
	mu       sync.Mutex
	url      string
	title    string
	usage    int64
	scripts  []string
	restored *Capture
	resets   int
	collects int
	loads    int
	closed   bool

	// restoreUsage, when set, is the footprint Restore leaves behind
	restoreUsage int64

	// captureGate, when set, blocks Capture until closed
	captureGate chan struct{}
}

func (e *fakeEngine) Load(ctx context.Context, url string) (Page, error) {
	e.mu.Lock()
	e.loads++
	e.mu.Unlock()

	switch {
	case strings.HasPrefix(url, "panic://"):
		panic("boom")
	case strings.HasPrefix(url, "fault://"):
		return Page{}, &Fault{Op: "load", Err: errors.New("context lost")}
	case strings.HasPrefix(url, "fail://"):
		return Page{}, errors.New("connection refused")
	case strings.HasPrefix(url, "slow://"):
		<-ctx.Done()
		return Page{}, ctx.Err()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.url = url
	e.title = "Title of " + url
	e.usage += 1024
	return Page{URL: url, Title: e.title, FaviconURL: url + "/favicon.ico"}, nil
}

func (e *fakeEngine) Execute(ctx context.Context, script string) (ScriptResult, error) {
	if script == "panic" {
		panic("script panic")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if script == "grow" {
		e.usage = 1 << 20
	}
	e.scripts = append(e.scripts, script)
	return ScriptResult{
		Value:   "ok:" + script,
		Console: []ConsoleEntry{{Level: ConsoleLog, Message: script}},
	}, nil
}

func (e *fakeEngine) Capture() (Capture, error) {
	e.mu.Lock()
	gate := e.captureGate
	e.mu.Unlock()
	if gate != nil {
		<-gate
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return Capture{
		URL:     e.url,
		Title:   e.title,
		ScrollY: 42,
		Forms:   []hibernation.FormField{{Name: "q", Value: "hello"}},
		DOM:     []byte("<html><body>" + e.title + "</body></html>"),
		Heap:    []byte(strings.Join(e.scripts, ";")),
		Frame: &Frame{
			Pixels: make([]byte, frameWidth*frameHeight*4),
			Width:  frameWidth,
			Height: frameHeight,
		},
	}, nil
}

func (e *fakeEngine) Restore(ctx context.Context, c Capture) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.restored = &c
	e.url = c.URL
	e.title = c.Title
	if len(c.Heap) > 0 {
		e.scripts = strings.Split(string(c.Heap), ";")
	}
	e.usage = 2048
	if e.restoreUsage > 0 {
		e.usage = e.restoreUsage
	}
	return nil
}

func (e *fakeEngine) Usage() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.usage
}

func (e *fakeEngine) Collect() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.collects++
	freed := e.usage / 2
	e.usage -= freed
	return freed
}

func (e *fakeEngine) Reset() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resets++
	e.url, e.title = "", ""
	e.usage = 0
	e.scripts = nil
	return nil
}

func (e *fakeEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

func (e *fakeEngine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func (e *fakeEngine) collectCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.collects
}

func (e *fakeEngine) loadCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loads
}

func (e *fakeEngine) restoredCapture() *Capture {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.restored
}

// fakeFactory remembers every engine it built, per tab
type fakeFactory struct {
	mu      sync.Mutex
	engines map[id.TabID][]*fakeEngine
	gate    chan struct{}

	restoreUsage int64
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{engines: make(map[id.TabID][]*fakeEngine)}
}

func (f *fakeFactory) New(tabID id.TabID) (Engine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := &fakeEngine{captureGate: f.gate, restoreUsage: f.restoreUsage}
	f.engines[tabID] = append(f.engines[tabID], e)
	return e, nil
}

func (f *fakeFactory) built(tabID id.TabID) []*fakeEngine {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeEngine(nil), f.engines[tabID]...)
}

func (f *fakeFactory) latest(tabID id.TabID) *fakeEngine {
	all := f.built(tabID)
	if len(all) == 0 {
		return nil
	}
	return all[len(all)-1]
}

// flakyStore wraps real storage with switchable failures
type flakyStore struct {
	*hibernation.Storage

	mu             sync.Mutex
	hibernateErr   error
	hydrateErr     error
	hibernateCalls int
}

func (f *flakyStore) failHibernate(err error) {
	f.mu.Lock()
	f.hibernateErr = err
	f.mu.Unlock()
}

func (f *flakyStore) failHydrate(err error) {
	f.mu.Lock()
	f.hydrateErr = err
	f.mu.Unlock()
}

func (f *flakyStore) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hibernateCalls
}

func (f *flakyStore) Hibernate(ctx context.Context, snap *hibernation.Snapshot) (uint64, error) {
	f.mu.Lock()
	f.hibernateCalls++
	err := f.hibernateErr
	f.mu.Unlock()
	if err != nil {
		return 0, err
	}
	return f.Storage.Hibernate(ctx, snap)
}

func (f *flakyStore) Hydrate(ctx context.Context, tabID id.TabID) (*hibernation.Snapshot, error) {
	f.mu.Lock()
	err := f.hydrateErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.Storage.Hydrate(ctx, tabID)
}
