package tabs

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/tabcore/internal/infrastructure/logging"
	"github.com/GriffinCanCode/tabcore/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/tabcore/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/tabcore/internal/memory/eviction"
	"github.com/GriffinCanCode/tabcore/internal/memory/ghost"
	"github.com/GriffinCanCode/tabcore/internal/memory/heap"
	"github.com/GriffinCanCode/tabcore/internal/memory/hibernation"
	"github.com/GriffinCanCode/tabcore/internal/shared/id"
)

// Hibernate suspends a tab on the caller's behalf
func (r *Runtime) Hibernate(ctx context.Context, tabID id.TabID) error {
	if err := r.ready(); err != nil {
		return err
	}
	return r.suspend(ctx, tabID, eviction.UserReason())
}

// begin claims the tab for a transition out of from
func (r *Runtime) begin(tabID id.TabID, from State) (*tab, error) {
	t, err := r.lookup(tabID)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.busy {
		return nil, fmt.Errorf("%w: tab %d", ErrTransitionInFlight, tabID)
	}
	if t.state != from {
		return nil, fmt.Errorf("%w: tab %d is %s, want %s", ErrInvalidState, tabID, t.state, from)
	}
	t.busy = true
	return t, nil
}

func (t *tab) end() {
	t.mu.Lock()
	t.busy = false
	t.mu.Unlock()
}

// suspend captures a tab, writes it to cold storage and replaces the live
// context with a ghost. Any failure before the file is written leaves the
// tab live.
func (r *Runtime) suspend(ctx context.Context, tabID id.TabID, reason eviction.Reason) error {
	t, err := r.begin(tabID, StateActive)
	if err != nil {
		return err
	}
	defer t.end()

	t.mu.Lock()
	t.state = StateHibernating
	w := t.worker
	url, title, favicon := t.url, t.title, t.favicon
	t.mu.Unlock()

	log := r.logger.With(logging.Tab(tabID), zap.Stringer("reason", reason))
	timer := monitoring.NewTimer()

	capture, err := r.capture(ctx, w)
	if err != nil {
		return r.abortSuspend(t, log, fmt.Errorf("capture tab %d: %w", tabID, err))
	}
	if capture.URL != "" {
		url = capture.URL
	}
	if capture.Title != "" {
		title = capture.Title
	}
	if capture.FaviconURL != "" {
		favicon = capture.FaviconURL
	}

	snap := &hibernation.Snapshot{
		TabID:               tabID,
		URL:                 url,
		Title:               title,
		ScrollX:             capture.ScrollX,
		ScrollY:             capture.ScrollY,
		FormData:            capture.Forms,
		DOM:                 capture.DOM,
		JSHeap:              capture.Heap,
		HibernatedAt:        time.Now().Unix(),
		OriginalMemoryBytes: uint64(t.heap.Allocated()),
	}

	compressed, err := resilience.Call(r.breaker, func() (uint64, error) {
		return r.store.Hibernate(ctx, snap)
	})
	if err != nil {
		return r.abortSuspend(t, log, fmt.Errorf("hibernate tab %d: %w", tabID, err))
	}

	r.stopWorker(w)

	g := ghost.New(ghost.Metadata{
		TabID:      tabID,
		Title:      title,
		URL:        url,
		FaviconURL: favicon,
	})
	if f := capture.Frame; f != nil {
		if bm, err := ghost.FromRGBA(f.Pixels, f.Width, f.Height); err != nil {
			log.Debug("thumbnail skipped", zap.Error(err))
		} else {
			g.WithBitmap(bm)
		}
	}

	freed := t.heap.Allocated()
	t.mu.Lock()
	t.heap.Reset()
	t.heap.Freeze()
	t.worker = nil
	t.ghost = g
	t.state = StateHibernated
	t.url, t.title, t.favicon = url, title, favicon
	t.progress = 0
	t.mu.Unlock()

	r.manager.MarkHibernated(tabID)
	r.metrics.RecordHibernation(monitoring.ResultSuccess, timer.Elapsed(), compressed)

	log.Info("tab hibernated",
		zap.String("freed", heap.FormatBytes(freed)),
		zap.Uint64("compressed_bytes", compressed),
		zap.Duration("took", timer.Elapsed()))
	r.publish(Event{
		Kind:   EventHibernated,
		TabID:  tabID,
		URL:    url,
		Title:  title,
		Bytes:  int64(compressed),
		Reason: reason.String(),
	})
	return nil
}

func (r *Runtime) abortSuspend(t *tab, log *zap.Logger, err error) error {
	t.mu.Lock()
	// a crash reported meanwhile wins over the revert
	if t.state == StateHibernating {
		t.state = StateActive
	}
	t.mu.Unlock()

	r.metrics.RecordHibernation(monitoring.ResultFailure, 0, 0)
	log.Warn("hibernation failed, tab stays live", zap.Error(err))
	return err
}

// capture asks the worker for everything the engine can hand back
func (r *Runtime) capture(ctx context.Context, w *Worker) (Capture, error) {
	if w == nil {
		return Capture{}, fmt.Errorf("%w: no worker", ErrInvalidState)
	}
	ctx, cancel := context.WithTimeout(ctx, r.cfg.CaptureTimeout)
	defer cancel()

	reply := make(chan CaptureOutcome, 1)
	select {
	case w.Inbox() <- Message{Kind: MsgCapture, CaptureReply: reply}:
	case <-ctx.Done():
		return Capture{}, ctx.Err()
	}

	select {
	case out := <-reply:
		return out.Capture, out.Err
	case <-ctx.Done():
		return Capture{}, ctx.Err()
	}
}

// Restore rebuilds a hibernated tab from its snapshot. On any failure the
// tab stays hibernated and its file is kept.
func (r *Runtime) Restore(ctx context.Context, tabID id.TabID) error {
	if err := r.ready(); err != nil {
		return err
	}
	t, err := r.begin(tabID, StateHibernated)
	if err != nil {
		return err
	}
	defer t.end()

	log := r.logger.With(logging.Tab(tabID))
	timer := monitoring.NewTimer()

	snap, err := r.store.Hydrate(ctx, tabID)
	if err != nil {
		r.metrics.RecordRestore(monitoring.ResultFailure, 0)
		log.Warn("hydrate failed, tab stays hibernated", zap.Error(err))
		return fmt.Errorf("hydrate tab %d: %w", tabID, err)
	}
	hydrated := timer.Elapsed()

	eng, err := r.engines(tabID)
	if err != nil {
		r.metrics.RecordRestore(monitoring.ResultFailure, hydrated)
		return fmt.Errorf("create engine: %w", err)
	}

	t.mu.Lock()
	favicon := t.favicon
	t.mu.Unlock()

	err = eng.Restore(ctx, Capture{
		URL:        snap.URL,
		Title:      snap.Title,
		FaviconURL: favicon,
		ScrollX:    snap.ScrollX,
		ScrollY:    snap.ScrollY,
		Forms:      snap.FormData,
		DOM:        snap.DOM,
		Heap:       snap.JSHeap,
	})
	if err != nil {
		_ = eng.Close()
		r.metrics.RecordRestore(monitoring.ResultFailure, hydrated)
		log.Warn("engine restore failed, tab stays hibernated", zap.Error(err))
		return fmt.Errorf("restore tab %d: %w", tabID, err)
	}

	t.mu.Lock()
	t.heap.Reset()
	w := r.newWorker(t, eng)
	usage := eng.Usage()
	if err := t.heap.RecordAllocation(usage); err != nil {
		// the worker collects and reports the settled footprint first thing
		log.Warn("restored engine over heap limit", zap.Int64("usage", usage), zap.Error(err))
		w.syncOnStart = true
	}
	if snap.URL != "" {
		w.history.push(snap.URL)
	}
	t.worker = w
	t.ghost = nil
	t.state = StateActive
	t.url, t.title = snap.URL, snap.Title
	t.mu.Unlock()

	r.manager.MarkRestored(tabID, usage)
	if err := r.launch(w); err != nil {
		_ = eng.Close()
		return err
	}

	if err := r.store.Delete(tabID); err != nil {
		log.Warn("failed to delete hibernation file", zap.Error(err))
	}
	r.metrics.RecordRestore(monitoring.ResultSuccess, hydrated)

	log.Info("tab restored",
		zap.String("url", snap.URL),
		zap.Duration("took", timer.Elapsed()))
	r.publish(Event{Kind: EventRestored, TabID: tabID, URL: snap.URL, Title: snap.Title})
	return nil
}
