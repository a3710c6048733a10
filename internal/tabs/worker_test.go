package tabs

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/tabcore/internal/memory/heap"
)

type workerHarness struct {
	w      *Worker
	engine *fakeEngine
	heap   *heap.Heap
	events chan Event
}

func newWorkerHarness(t *testing.T, limits heap.Limits) *workerHarness {
	t.Helper()

	h := &workerHarness{
		engine: &fakeEngine{},
		heap:   heap.New(7, limits, nil),
		events: make(chan Event, 256),
	}
	h.w = NewWorker(7, h.engine, h.heap, h.events, WorkerOptions{OpTimeout: 5 * time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	go h.w.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-h.w.Done()
	})
	return h
}

func (h *workerHarness) send(t *testing.T, msg Message) {
	t.Helper()
	select {
	case h.w.Inbox() <- msg:
	case <-time.After(time.Second):
		t.Fatal("worker inbox blocked")
	}
}

// until collects events up to and including the first one of kind
func (h *workerHarness) until(t *testing.T, kind EventKind) []Event {
	t.Helper()
	var got []Event
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-h.events:
			got = append(got, ev)
			if ev.Kind == kind {
				return got
			}
		case <-timeout:
			t.Fatalf("no %s event; saw %v", kind, kinds(got))
		}
	}
}

// sync round-trips a ping so every earlier message has been handled
func (h *workerHarness) sync(t *testing.T) []Event {
	t.Helper()
	h.send(t, Simple(MsgPing))
	return h.until(t, EventPong)
}

func kinds(events []Event) []EventKind {
	out := make([]EventKind, len(events))
	for i, ev := range events {
		out[i] = ev.Kind
	}
	return out
}

func count(events []Event, kind EventKind) int {
	n := 0
	for _, ev := range events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func TestWorkerNavigateLifecycle(t *testing.T) {
	h := newWorkerHarness(t, heap.DefaultLimits())

	h.send(t, Navigate("https://a.test"))
	events := h.until(t, EventLoadFinished)

	assert.Equal(t, []EventKind{
		EventLoadStarted,
		EventLoadProgress,
		EventLoadProgress,
		EventURLChanged,
		EventTitleChanged,
		EventLoadProgress,
		EventLoadFinished,
	}, kinds(events))

	finished := events[len(events)-1]
	assert.Equal(t, "https://a.test", finished.URL)
	assert.Equal(t, "Title of https://a.test", finished.Title)
	assert.Equal(t, "https://a.test/favicon.ico", finished.Favicon)
	for _, ev := range events {
		assert.Equal(t, h.w.tabID, ev.TabID)
		assert.False(t, ev.Time.IsZero())
	}

	report := h.until(t, EventMemoryReport)
	assert.Equal(t, int64(1024), report[len(report)-1].Bytes)
	assert.Equal(t, int64(1024), h.heap.Allocated())
}

func TestWorkerPanicBecomesOneCrash(t *testing.T) {
	h := newWorkerHarness(t, heap.DefaultLimits())

	h.send(t, Navigate("https://a.test"))
	h.until(t, EventLoadFinished)

	h.send(t, Navigate("panic://boom"))
	events := h.sync(t)

	require.Equal(t, 1, count(events, EventCrashed))
	var crash Event
	for _, ev := range events {
		if ev.Kind == EventCrashed {
			crash = ev
		}
	}
	require.NotNil(t, crash.Crash)
	assert.NotEmpty(t, crash.Crash.ID)
	assert.Equal(t, "navigate", crash.Crash.Message)
	assert.Equal(t, "boom", crash.Crash.Panic)
	assert.Contains(t, crash.Crash.Stack, "goroutine")

	// the engine was reset and the loop keeps serving
	h.engine.mu.Lock()
	assert.Equal(t, 1, h.engine.resets)
	h.engine.mu.Unlock()

	reply := make(chan ScriptOutcome, 1)
	msg := Execute("1+1")
	msg.ScriptReply = reply
	h.send(t, msg)
	out := <-reply
	require.NoError(t, out.Err)
	assert.Equal(t, "ok:1+1", out.Result.Value)
}

func TestWorkerFaultBecomesCrash(t *testing.T) {
	h := newWorkerHarness(t, heap.DefaultLimits())

	h.send(t, Navigate("fault://x"))
	events := h.sync(t)

	assert.Equal(t, 1, count(events, EventCrashed))
	assert.Zero(t, count(events, EventConsoleMessage))
}

func TestWorkerScriptPanicRepliesWithFault(t *testing.T) {
	h := newWorkerHarness(t, heap.DefaultLimits())

	reply := make(chan ScriptOutcome, 1)
	msg := Execute("panic")
	msg.ScriptReply = reply
	h.send(t, msg)

	out := <-reply
	assert.ErrorIs(t, out.Err, ErrFault)
	assert.Equal(t, 1, count(h.sync(t), EventCrashed))
}

func TestWorkerLoadErrorIsConsoleMessage(t *testing.T) {
	h := newWorkerHarness(t, heap.DefaultLimits())

	h.send(t, Navigate("fail://x"))
	events := h.sync(t)

	assert.Zero(t, count(events, EventCrashed))
	require.Equal(t, 1, count(events, EventConsoleMessage))
	for _, ev := range events {
		switch ev.Kind {
		case EventConsoleMessage:
			assert.Equal(t, ConsoleError, ev.Level)
			assert.Contains(t, ev.Message, "connection refused")
		case EventLoadFinished:
			assert.NotEmpty(t, ev.Message)
		}
	}
}

func TestWorkerExecuteForwardsConsole(t *testing.T) {
	h := newWorkerHarness(t, heap.DefaultLimits())

	reply := make(chan ScriptOutcome, 1)
	msg := Execute("console.log('hi')")
	msg.ScriptReply = reply
	h.send(t, msg)

	out := <-reply
	require.NoError(t, out.Err)
	assert.Equal(t, "ok:console.log('hi')", out.Result.Value)

	events := h.sync(t)
	require.Equal(t, 1, count(events, EventConsoleMessage))
	assert.Equal(t, ConsoleLog, events[0].Level)
}

func TestWorkerHeapDeniedCollects(t *testing.T) {
	limits := heap.Limits{Soft: 1000, Hard: 2000}
	h := newWorkerHarness(t, limits)

	h.send(t, Execute("grow"))
	events := h.sync(t)

	denied := 0
	for _, ev := range events {
		if ev.Kind == EventConsoleMessage && strings.Contains(ev.Message, "denied") {
			denied++
		}
	}
	assert.GreaterOrEqual(t, denied, 1)
	assert.LessOrEqual(t, h.heap.Allocated(), limits.Hard)

	assert.GreaterOrEqual(t, h.engine.collectCount(), 1)
	assert.Zero(t, count(events, EventCrashed))
}

func TestWorkerStopInterruptsLoad(t *testing.T) {
	h := newWorkerHarness(t, heap.DefaultLimits())

	h.send(t, Navigate("slow://x"))
	h.until(t, EventLoadStarted)

	h.w.Interrupt()
	h.send(t, Simple(MsgStop))
	events := h.sync(t)

	require.Equal(t, 1, count(events, EventLoadFinished))
	assert.Zero(t, count(events, EventConsoleMessage), "cancellation is not an error")
	assert.Zero(t, count(events, EventCrashed))
}

func TestWorkerHistory(t *testing.T) {
	h := newWorkerHarness(t, heap.DefaultLimits())

	h.send(t, Navigate("https://a.test"))
	h.until(t, EventLoadFinished)
	h.send(t, Navigate("https://b.test"))
	h.until(t, EventLoadFinished)

	h.send(t, Simple(MsgGoBack))
	events := h.until(t, EventLoadFinished)
	assert.Equal(t, "https://a.test", events[len(events)-1].URL)

	// already at the start: no load at all
	h.send(t, Simple(MsgGoBack))
	assert.Zero(t, count(h.sync(t), EventLoadStarted))

	h.send(t, Simple(MsgGoForward))
	events = h.until(t, EventLoadFinished)
	assert.Equal(t, "https://b.test", events[len(events)-1].URL)

	h.send(t, Simple(MsgReload))
	events = h.until(t, EventLoadFinished)
	assert.Equal(t, "https://b.test", events[len(events)-1].URL)
}

func TestWorkerReloadWithoutHistoryLoadsBlank(t *testing.T) {
	h := newWorkerHarness(t, heap.DefaultLimits())

	h.send(t, Simple(MsgReload))
	events := h.until(t, EventLoadFinished)
	assert.Equal(t, BlankURL, events[len(events)-1].URL)
}

func TestWorkerCaptureReplies(t *testing.T) {
	h := newWorkerHarness(t, heap.DefaultLimits())

	h.send(t, Navigate("https://a.test"))
	h.until(t, EventLoadFinished)

	reply := make(chan CaptureOutcome, 1)
	h.send(t, Message{Kind: MsgCapture, CaptureReply: reply})
	out := <-reply
	require.NoError(t, out.Err)
	assert.Equal(t, "https://a.test", out.Capture.URL)
	assert.Equal(t, float32(42), out.Capture.ScrollY)
	require.NotNil(t, out.Capture.Frame)
}

func TestWorkerShutdownClosesEngine(t *testing.T) {
	h := newWorkerHarness(t, heap.DefaultLimits())

	h.send(t, Simple(MsgShutdown))
	select {
	case <-h.w.Done():
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
	assert.True(t, h.engine.isClosed())
}

func TestWorkerShutdownDropsQueuedMessages(t *testing.T) {
	tests := []struct {
		name  string
		queue func(w *Worker)
	}{
		{"shutdown message ahead of work", func(w *Worker) {
			w.inbox <- Simple(MsgShutdown)
			w.inbox <- Navigate("https://a.test")
			w.inbox <- Simple(MsgPing)
		}},
		{"shutdown call behind queued work", func(w *Worker) {
			w.inbox <- Navigate("https://a.test")
			w.inbox <- Simple(MsgPing)
			w.Shutdown()
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := &fakeEngine{}
			events := make(chan Event, 16)
			w := NewWorker(7, engine, heap.New(7, heap.DefaultLimits(), nil), events, WorkerOptions{})
			tt.queue(w)

			go w.Run(context.Background())
			select {
			case <-w.Done():
			case <-time.After(time.Second):
				t.Fatal("worker did not stop")
			}

			assert.Zero(t, engine.loadCount())
			assert.True(t, engine.isClosed())
			close(events)
			for ev := range events {
				assert.NotEqual(t, EventPong, ev.Kind)
				assert.NotEqual(t, EventLoadStarted, ev.Kind)
			}
		})
	}
}

func TestWorkerShutdownWithFullInbox(t *testing.T) {
	w := NewWorker(7, &fakeEngine{}, heap.New(7, heap.DefaultLimits(), nil), make(chan Event, 1), WorkerOptions{InboxSize: 1})
	w.inbox <- Simple(MsgPing)

	w.Shutdown()
	w.Shutdown()
	go w.Run(context.Background())

	select {
	case <-w.Done():
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}
