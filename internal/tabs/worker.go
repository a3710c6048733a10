package tabs

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/tabcore/internal/memory/heap"
	"github.com/GriffinCanCode/tabcore/internal/shared/id"
)

// BlankURL is the page every new tab starts on
const BlankURL = "about:blank"

// WorkerOptions tune a Worker
type WorkerOptions struct {
	// OpTimeout bounds a single load or script run; zero means unbounded
	OpTimeout time.Duration
	InboxSize int
	Logger    *zap.Logger
}

// Worker owns one tab's engine and processes its messages in order.
// A fault inside a message becomes a crash report; the loop keeps going.
type Worker struct {
	tabID     id.TabID
	engine    Engine
	heap      *heap.Heap
	inbox     chan Message
	events    chan<- Event
	opTimeout time.Duration
	logger    *zap.Logger
	done      chan struct{}
	quit      chan struct{}
	quitOnce  sync.Once

	history     history
	reported    int64
	syncOnStart bool

	opMu     sync.Mutex
	opCancel context.CancelFunc
}

// NewWorker creates a worker; call Run to start it
func NewWorker(tabID id.TabID, engine Engine, h *heap.Heap, events chan<- Event, opts WorkerOptions) *Worker {
	if opts.InboxSize <= 0 {
		opts.InboxSize = 64
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		tabID:     tabID,
		engine:    engine,
		heap:      h,
		inbox:     make(chan Message, opts.InboxSize),
		events:    events,
		opTimeout: opts.OpTimeout,
		logger:    logger.With(zap.Uint64("tab_id", uint64(tabID))),
		done:      make(chan struct{}),
		quit:      make(chan struct{}),
		reported:  -1,
	}
}

// Inbox is where the Runtime and Watchdog send messages
func (w *Worker) Inbox() chan<- Message { return w.inbox }

// Done is closed once Run has returned and the engine is closed
func (w *Worker) Done() <-chan struct{} { return w.done }

// Interrupt cancels the load or script currently running, if any
func (w *Worker) Interrupt() {
	w.opMu.Lock()
	defer w.opMu.Unlock()
	if w.opCancel != nil {
		w.opCancel()
	}
}

// Shutdown stops the loop ahead of anything still queued in the inbox.
// It never blocks, even when the inbox is full.
func (w *Worker) Shutdown() {
	w.quitOnce.Do(func() { close(w.quit) })
}

// Run processes messages until Shutdown or ctx is done
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)
	defer func() {
		if err := w.engine.Close(); err != nil {
			w.logger.Warn("engine close failed", zap.Error(err))
		}
	}()

	if w.syncOnStart {
		w.syncHeap(ctx)
	}

	for {
		select {
		case <-w.quit:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-w.quit:
			return
		case msg := <-w.inbox:
			if w.dispatch(ctx, msg) {
				return
			}
		}
	}
}

// dispatch handles one message and reports whether the loop should stop
func (w *Worker) dispatch(ctx context.Context, msg Message) (stop bool) {
	if msg.Kind == MsgShutdown {
		return true
	}

	defer func() {
		if r := recover(); r != nil {
			w.crash(ctx, msg, fmt.Sprint(r), debug.Stack())
		}
	}()

	err := w.handle(ctx, msg)

	var fault *Fault
	switch {
	case errors.As(err, &fault):
		w.crash(ctx, msg, fault.Error(), debug.Stack())
		return false
	case err != nil && !errors.Is(err, context.Canceled):
		w.emit(ctx, Event{Kind: EventConsoleMessage, Level: ConsoleError, Message: err.Error()})
	}

	w.syncHeap(ctx)
	return false
}

func (w *Worker) handle(ctx context.Context, msg Message) error {
	switch msg.Kind {
	case MsgNavigate:
		return w.load(ctx, msg.URL, true)
	case MsgReload:
		url := w.history.current()
		if url == "" {
			url = BlankURL
		}
		return w.load(ctx, url, false)
	case MsgGoBack:
		url, ok := w.history.back()
		if !ok {
			return nil
		}
		return w.load(ctx, url, false)
	case MsgGoForward:
		url, ok := w.history.forward()
		if !ok {
			return nil
		}
		return w.load(ctx, url, false)
	case MsgStop:
		// Interrupt already cancelled whatever was running
		return nil
	case MsgExecuteScript:
		return w.execute(ctx, msg)
	case MsgPing:
		w.emit(ctx, Event{Kind: EventPong})
		return nil
	case MsgCapture:
		return w.capture(msg)
	default:
		return fmt.Errorf("unknown message kind %d", msg.Kind)
	}
}

func (w *Worker) load(ctx context.Context, url string, push bool) error {
	opCtx, done := w.beginOp(ctx)
	defer done()

	w.emit(ctx, Event{Kind: EventLoadStarted, URL: url})
	w.emit(ctx, Event{Kind: EventLoadProgress, URL: url, Progress: 0.1})

	page, err := w.engine.Load(opCtx, url)
	if err != nil {
		w.emit(ctx, Event{Kind: EventLoadFinished, URL: w.history.current(), Message: err.Error()})
		return fmt.Errorf("load %s: %w", url, err)
	}

	if push {
		w.history.push(page.URL)
	} else {
		w.history.replace(page.URL)
	}

	w.emit(ctx, Event{Kind: EventLoadProgress, URL: page.URL, Progress: 0.9})
	w.emit(ctx, Event{Kind: EventURLChanged, URL: page.URL})
	w.emit(ctx, Event{Kind: EventTitleChanged, Title: page.Title})
	w.emit(ctx, Event{Kind: EventLoadProgress, URL: page.URL, Progress: 1})
	w.emit(ctx, Event{Kind: EventLoadFinished, URL: page.URL, Title: page.Title, Favicon: page.FaviconURL})
	return nil
}

func (w *Worker) execute(ctx context.Context, msg Message) error {
	opCtx, done := w.beginOp(ctx)
	defer done()

	res, err := w.engine.Execute(opCtx, msg.Script)
	for _, entry := range res.Console {
		w.emit(ctx, Event{Kind: EventConsoleMessage, Level: entry.Level, Message: entry.Message})
	}
	for _, url := range res.Popups {
		w.emit(ctx, Event{Kind: EventPopupRequested, URL: url})
	}

	replyScript(msg.ScriptReply, ScriptOutcome{Result: res, Err: err})
	return err
}

func (w *Worker) capture(msg Message) error {
	c, err := w.engine.Capture()
	replyCapture(msg.CaptureReply, CaptureOutcome{Capture: c, Err: err})
	if err != nil {
		return fmt.Errorf("capture: %w", err)
	}
	return nil
}

func (w *Worker) beginOp(ctx context.Context) (context.Context, func()) {
	var opCtx context.Context
	var cancel context.CancelFunc
	if w.opTimeout > 0 {
		opCtx, cancel = context.WithTimeout(ctx, w.opTimeout)
	} else {
		opCtx, cancel = context.WithCancel(ctx)
	}

	w.opMu.Lock()
	w.opCancel = cancel
	w.opMu.Unlock()

	return opCtx, func() {
		w.opMu.Lock()
		w.opCancel = nil
		w.opMu.Unlock()
		cancel()
	}
}

// crash converts a fault into a single Crashed event and resets the engine
func (w *Worker) crash(ctx context.Context, msg Message, cause string, stack []byte) {
	report := &CrashReport{
		ID:      id.NewCrashID(),
		TabID:   w.tabID,
		Message: msg.Kind.String(),
		Panic:   cause,
		Stack:   string(stack),
		Time:    time.Now(),
	}

	w.logger.Error("worker fault recovered",
		zap.String("crash_id", report.ID.String()),
		zap.Stringer("message", msg.Kind),
		zap.String("cause", cause))

	faultErr := &Fault{Op: msg.Kind.String(), Err: errors.New(cause)}
	replyScript(msg.ScriptReply, ScriptOutcome{Err: faultErr})
	replyCapture(msg.CaptureReply, CaptureOutcome{Err: faultErr})

	w.resetEngine()
	w.history = history{}
	w.reported = -1

	w.emit(ctx, Event{Kind: EventCrashed, Message: cause, Crash: report})
}

func (w *Worker) resetEngine() {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("engine reset panicked", zap.Any("panic", r))
		}
	}()
	if err := w.engine.Reset(); err != nil {
		w.logger.Warn("engine reset failed", zap.Error(err))
	}
}

// syncHeap mirrors engine usage into the heap counter and reports changes
func (w *Worker) syncHeap(ctx context.Context) {
	w.reconcile(ctx, w.engine.Usage(), true)

	if w.heap.NeedsGC() == heap.UrgencyCritical {
		freed := w.engine.Collect()
		w.logger.Debug("critical heap, collected", zap.Int64("freed", freed))
		w.reconcile(ctx, w.engine.Usage(), false)
	}

	if cur := w.heap.Allocated(); cur != w.reported {
		w.reported = cur
		w.emit(ctx, Event{Kind: EventMemoryReport, Bytes: cur})
	}
}

func (w *Worker) reconcile(ctx context.Context, usage int64, retry bool) {
	cur := w.heap.Allocated()
	switch {
	case usage < cur:
		w.heap.RecordDeallocation(cur - usage)
	case usage > cur:
		err := w.heap.RecordAllocation(usage - cur)
		if err == nil {
			return
		}
		freed := w.engine.Collect()
		w.emit(ctx, Event{
			Kind:    EventConsoleMessage,
			Level:   ConsoleError,
			Message: fmt.Sprintf("allocation of %s denied: %v", heap.FormatBytes(usage-cur), err),
		})
		w.logger.Warn("heap allocation denied",
			zap.Int64("requested", usage-cur),
			zap.Int64("freed", freed),
			zap.Error(err))
		if retry {
			w.reconcile(ctx, w.engine.Usage(), false)
		}
	}
}

func (w *Worker) emit(ctx context.Context, ev Event) {
	ev.TabID = w.tabID
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	select {
	case w.events <- ev:
	case <-ctx.Done():
	}
}

func replyScript(ch chan<- ScriptOutcome, out ScriptOutcome) {
	if ch == nil {
		return
	}
	select {
	case ch <- out:
	default:
	}
}

func replyCapture(ch chan<- CaptureOutcome, out CaptureOutcome) {
	if ch == nil {
		return
	}
	select {
	case ch <- out:
	default:
	}
}
