package tabs

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/tabcore/internal/infrastructure/logging"
	"github.com/GriffinCanCode/tabcore/internal/memory/eviction"
	"github.com/GriffinCanCode/tabcore/internal/memory/heap"
	"github.com/GriffinCanCode/tabcore/internal/shared/id"
)

// Info is a read-only view of one tab
type Info struct {
	ID           id.TabID     `json:"id"`
	State        State        `json:"state"`
	URL          string       `json:"url"`
	Title        string       `json:"title"`
	FaviconURL   string       `json:"favicon_url,omitempty"`
	Progress     float64      `json:"progress"`
	Focused      bool         `json:"focused"`
	Memory       int64        `json:"memory"`
	PeakMemory   int64        `json:"peak_memory"`
	GhostBytes   int          `json:"ghost_bytes,omitempty"`
	HasThumbnail bool         `json:"has_thumbnail"`
	CreatedAt    time.Time    `json:"created_at"`
	LastCrash    *CrashReport `json:"last_crash,omitempty"`
}

// Stats summarizes the whole runtime
type Stats struct {
	Tabs         eviction.Stats    `json:"tabs"`
	States       map[string]int    `json:"states"`
	Heap         heap.TrackerStats `json:"heap"`
	GhostBytes   int64             `json:"ghost_bytes"`
	StorageBytes int64             `json:"storage_bytes"`
	Breaker      string            `json:"breaker"`
	Watched      int               `json:"watched"`
	Focused      id.TabID          `json:"focused"`
}

// CreateTab opens a tab, focuses it and, if url is set, starts loading it
func (r *Runtime) CreateTab(ctx context.Context, url string) (Info, error) {
	if err := r.ready(); err != nil {
		return Info{}, err
	}

	tabID := r.ids.Next()
	t := &tab{
		id:      tabID,
		heap:    heap.New(tabID, r.cfg.Heap, r.tracker),
		created: time.Now(),
		state:   StateActive,
		url:     BlankURL,
		title:   "New Tab",
	}

	eng, err := r.engines(tabID)
	if err != nil {
		t.heap.Release()
		return Info{}, fmt.Errorf("create engine: %w", err)
	}
	t.worker = r.newWorker(t, eng)

	r.mu.Lock()
	if r.closed.Load() {
		r.mu.Unlock()
		t.heap.Release()
		_ = eng.Close()
		return Info{}, ErrClosed
	}
	r.tabs[tabID] = t
	prev := r.focused
	r.focused = tabID
	r.mu.Unlock()

	r.manager.Register(tabID, 0)
	if prev != 0 {
		r.manager.SetActive(prev, false)
	}
	if err := r.launch(t.worker); err != nil {
		r.drop(tabID)
		_ = eng.Close()
		return Info{}, err
	}

	r.metrics.TabsCreated.Inc()
	r.logger.Info("tab created", logging.Tab(tabID))
	r.publish(Event{Kind: EventTabCreated, TabID: tabID, URL: BlankURL})
	r.publish(Event{Kind: EventFocused, TabID: tabID})

	if url != "" && url != BlankURL {
		if err := r.Navigate(ctx, tabID, url); err != nil {
			return r.info(t), err
		}
	}
	return r.info(t), nil
}

func (r *Runtime) drop(tabID id.TabID) {
	r.mu.Lock()
	t, ok := r.tabs[tabID]
	delete(r.tabs, tabID)
	if r.focused == tabID {
		r.focused = 0
	}
	r.mu.Unlock()
	if ok {
		t.heap.Release()
	}
	r.manager.Remove(tabID)
}

// CloseTab tears a tab down, live or hibernated
func (r *Runtime) CloseTab(ctx context.Context, tabID id.TabID) error {
	t, err := r.lookup(tabID)
	if err != nil {
		return err
	}

	t.mu.Lock()
	if t.busy {
		t.mu.Unlock()
		return ErrTransitionInFlight
	}
	t.busy = true
	state := t.state
	w := t.worker
	t.worker = nil
	t.ghost = nil
	t.mu.Unlock()

	r.stopWorker(w)
	if state == StateHibernated {
		if err := r.store.Delete(tabID); err != nil {
			r.logger.Warn("failed to delete hibernation file", logging.Tab(tabID), zap.Error(err))
		}
	}
	r.drop(tabID)

	r.metrics.TabsClosed.Inc()
	r.logger.Info("tab closed", logging.Tab(tabID), zap.Stringer("state", state))
	r.publish(Event{Kind: EventTabClosed, TabID: tabID})
	return nil
}

// post delivers msg to a live tab's worker. prepare runs under the tab lock
// just before the send.
func (r *Runtime) post(ctx context.Context, tabID id.TabID, msg Message, prepare func(t *tab)) error {
	if err := r.ready(); err != nil {
		return err
	}
	t, err := r.lookup(tabID)
	if err != nil {
		return err
	}

	t.mu.Lock()
	if t.busy {
		t.mu.Unlock()
		return ErrTransitionInFlight
	}
	if !t.state.live() || t.worker == nil {
		state := t.state
		t.mu.Unlock()
		return fmt.Errorf("%w: tab %d is %s", ErrInvalidState, tabID, state)
	}
	if prepare != nil {
		prepare(t)
	}
	inbox := t.worker.Inbox()
	t.mu.Unlock()

	r.manager.Touch(tabID)

	select {
	case inbox <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-r.ctx.Done():
		return ErrClosed
	}
}

// recoverLocked brings a crashed tab back to Active with an empty heap
func recoverLocked(t *tab) {
	if t.state == StateCrashed {
		t.state = StateActive
		t.heap.Reset()
	}
}

// Navigate loads url in the tab
func (r *Runtime) Navigate(ctx context.Context, tabID id.TabID, url string) error {
	if url == "" {
		url = BlankURL
	}
	return r.post(ctx, tabID, Navigate(url), recoverLocked)
}

// Reload reloads the current page; it also revives a crashed tab
func (r *Runtime) Reload(ctx context.Context, tabID id.TabID) error {
	return r.post(ctx, tabID, Simple(MsgReload), recoverLocked)
}

// Stop aborts the load or script in progress
func (r *Runtime) Stop(ctx context.Context, tabID id.TabID) error {
	return r.post(ctx, tabID, Simple(MsgStop), func(t *tab) {
		t.worker.Interrupt()
	})
}

// GoBack navigates one step back in the tab's history
func (r *Runtime) GoBack(ctx context.Context, tabID id.TabID) error {
	return r.post(ctx, tabID, Simple(MsgGoBack), nil)
}

// GoForward navigates one step forward in the tab's history
func (r *Runtime) GoForward(ctx context.Context, tabID id.TabID) error {
	return r.post(ctx, tabID, Simple(MsgGoForward), nil)
}

// ExecuteScript runs script in the tab and waits for its result
func (r *Runtime) ExecuteScript(ctx context.Context, tabID id.TabID, script string) (ScriptResult, error) {
	reply := make(chan ScriptOutcome, 1)
	msg := Execute(script)
	msg.ScriptReply = reply

	if err := r.post(ctx, tabID, msg, nil); err != nil {
		return ScriptResult{}, err
	}

	select {
	case out := <-reply:
		return out.Result, out.Err
	case <-ctx.Done():
		return ScriptResult{}, ctx.Err()
	case <-r.ctx.Done():
		return ScriptResult{}, ErrClosed
	}
}

// Focus brings a tab to the foreground, restoring it if it was hibernated
func (r *Runtime) Focus(ctx context.Context, tabID id.TabID) error {
	if err := r.ready(); err != nil {
		return err
	}
	t, err := r.lookup(tabID)
	if err != nil {
		return err
	}

	r.mu.Lock()
	prev := r.focused
	r.focused = tabID
	r.mu.Unlock()

	if prev != 0 && prev != tabID {
		r.manager.SetActive(prev, false)
	}
	r.manager.SetActive(tabID, true)
	r.manager.Touch(tabID)

	t.mu.Lock()
	hibernated := t.state == StateHibernated
	t.mu.Unlock()
	if hibernated {
		if err := r.Restore(ctx, tabID); err != nil {
			return err
		}
	}

	r.publish(Event{Kind: EventFocused, TabID: tabID})
	return nil
}

// Tab returns a view of one tab
func (r *Runtime) Tab(tabID id.TabID) (Info, error) {
	t, err := r.lookup(tabID)
	if err != nil {
		return Info{}, err
	}
	return r.info(t), nil
}

// Tabs returns every tab ordered by id
func (r *Runtime) Tabs() []Info {
	tabs := r.snapshotTabs()
	out := make([]Info, 0, len(tabs))
	for _, t := range tabs {
		out = append(out, r.info(t))
	}
	return out
}

func (r *Runtime) info(t *tab) Info {
	r.mu.RLock()
	focused := r.focused == t.id
	r.mu.RUnlock()

	t.mu.Lock()
	defer t.mu.Unlock()

	info := Info{
		ID:         t.id,
		State:      t.state,
		URL:        t.url,
		Title:      t.title,
		FaviconURL: t.favicon,
		Progress:   t.progress,
		Focused:    focused,
		Memory:     t.heap.Allocated(),
		PeakMemory: t.heap.Peak(),
		CreatedAt:  t.created,
		LastCrash:  t.lastCrash,
	}
	if t.ghost != nil {
		info.GhostBytes = t.ghost.MemoryUsage()
		info.HasThumbnail = t.ghost.Bitmap() != nil
	}
	return info
}

// Thumbnail returns the PNG captured when the tab was hibernated
func (r *Runtime) Thumbnail(tabID id.TabID) ([]byte, error) {
	t, err := r.lookup(tabID)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ghost == nil || t.ghost.Bitmap() == nil {
		return nil, ErrNoThumbnail
	}
	return t.ghost.Bitmap().PNG(), nil
}

// Stats summarizes tabs, memory and storage
func (r *Runtime) Stats(ctx context.Context) Stats {
	s := Stats{
		Tabs:       r.manager.Stats(),
		States:     make(map[string]int, len(stateNames)),
		Heap:       r.tracker.Stats(),
		GhostBytes: r.ghostBytes(),
		Breaker:    r.breaker.State().String(),
		Watched:    r.watchdog.Watching(),
	}
	for _, t := range r.snapshotTabs() {
		t.mu.Lock()
		s.States[t.state.String()]++
		t.mu.Unlock()
	}

	r.mu.RLock()
	s.Focused = r.focused
	r.mu.RUnlock()

	if n, err := r.store.TotalStorageBytes(ctx); err == nil {
		s.StorageBytes = n
	} else {
		r.logger.Debug("storage usage unavailable", zap.Error(err))
	}
	return s
}
