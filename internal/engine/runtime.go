package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/tabcore/internal/shared/id"
	"github.com/GriffinCanCode/tabcore/internal/tabs"
)

// vmBaseBytes approximates an idle goja VM with globals installed
const vmBaseBytes = 256 << 10

// domFactor approximates parsed node overhead per source byte
const domFactor = 3

// Runtime is a goja-backed tabs.Engine for one tab
type Runtime struct {
	tabID  id.TabID
	cfg    Config
	loader *Loader
	pool   *Pool
	logger *zap.Logger

	mu      sync.Mutex
	done    bool
	vm      *goja.Runtime
	doc     *Document
	journal journal
	favicon string
	scrollX float32
	scrollY float32

	// per-call output, reset before every script
	console []tabs.ConsoleEntry
	popups  []string

	// retained until Collect
	history []tabs.ConsoleEntry
}

var _ tabs.Engine = (*Runtime)(nil)

func newRuntime(tabID id.TabID, p *Pool) (*Runtime, error) {
	r := &Runtime{
		tabID:  tabID,
		cfg:    p.cfg,
		loader: p.loader,
		pool:   p,
		logger: p.logger.With(zap.Uint64("tab_id", uint64(tabID))),
	}
	if err := r.install(blankDocument("about:blank")); err != nil {
		return nil, err
	}
	return r, nil
}

// install swaps in a fresh VM bound to doc. Callers hold r.mu.
func (r *Runtime) install(doc *Document) error {
	vm := r.pool.acquire()
	r.vm = vm
	r.doc = doc
	r.journal = journal{}
	r.favicon = doc.Favicon()
	r.scrollX, r.scrollY = 0, 0
	r.console, r.popups = nil, nil

	if err := r.setupGlobals(vm); err != nil {
		r.vm = nil
		return &tabs.Fault{Op: "install", Err: err}
	}
	return nil
}

// Load fetches url and runs its inline scripts
func (r *Runtime) Load(ctx context.Context, url string) (tabs.Page, error) {
	if r.closed() {
		return tabs.Page{}, &tabs.Fault{Op: "load", Err: ErrClosed}
	}

	doc, err := r.loader.Fetch(ctx, url)
	if err != nil {
		return tabs.Page{}, err
	}
	scripts := doc.InlineScripts()
	doc.Sanitize()

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.install(doc); err != nil {
		return tabs.Page{}, err
	}
	for _, src := range scripts {
		if _, err := r.run(ctx, src); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return tabs.Page{}, fmt.Errorf("inline script: %w", ctxErr)
			}
			r.record(tabs.ConsoleEntry{Level: tabs.ConsoleError, Message: err.Error()})
			continue
		}
		r.journal.append(src)
	}

	return tabs.Page{
		URL:        doc.URL,
		Title:      doc.Title(),
		FaviconURL: r.favicon,
		Bytes:      doc.Size(),
	}, nil
}

// Execute runs script in the page context
func (r *Runtime) Execute(ctx context.Context, script string) (tabs.ScriptResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.vm == nil {
		return tabs.ScriptResult{}, &tabs.Fault{Op: "execute", Err: ErrClosed}
	}

	r.console, r.popups = nil, nil
	val, err := r.run(ctx, script)
	res := tabs.ScriptResult{Console: r.console, Popups: r.popups}
	if err != nil {
		return res, err
	}

	r.journal.append(script)
	res.Value = exportValue(val)
	return res, nil
}

// run executes src with timeout and context interruption. Callers hold r.mu.
func (r *Runtime) run(ctx context.Context, src string) (goja.Value, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	vm := r.vm
	vm.ClearInterrupt()
	stop := context.AfterFunc(ctx, func() {
		vm.Interrupt(ctx.Err())
	})
	defer stop()

	val, err := vm.RunString(src)
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("script interrupted: %w", ctxErr)
			}
		}
		return nil, fmt.Errorf("%w: %v", ErrScript, err)
	}
	return val, nil
}

// exportValue renders a script result the way a console would
func exportValue(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) {
		return "undefined"
	}
	if goja.IsNull(v) {
		return "null"
	}
	switch x := v.Export().(type) {
	case string:
		return x
	case bool, int64, float64:
		return v.String()
	case map[string]any, []any:
		if out, err := sonic.MarshalString(x); err == nil {
			return out
		}
	}
	return v.String()
}

// Capture snapshots the page for hibernation
func (r *Runtime) Capture() (tabs.Capture, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.vm == nil {
		return tabs.Capture{}, &tabs.Fault{Op: "capture", Err: ErrClosed}
	}

	dom, err := r.doc.HTML()
	if err != nil {
		return tabs.Capture{}, err
	}
	heapBlob, err := r.journal.marshal()
	if err != nil {
		return tabs.Capture{}, err
	}

	return tabs.Capture{
		URL:        r.doc.URL,
		Title:      r.doc.Title(),
		FaviconURL: r.favicon,
		ScrollX:    r.scrollX,
		ScrollY:    r.scrollY,
		Forms:      r.doc.Forms(),
		DOM:        dom,
		Heap:       heapBlob,
		Frame:      renderWireframe(r.doc, r.scrollY),
	}, nil
}

// Restore rebuilds the page from a capture without touching the network.
// The captured DOM already carries script effects; the journal is replayed
// to rebuild script globals.
func (r *Runtime) Restore(ctx context.Context, c tabs.Capture) error {
	j, err := decodeJournal(c.Heap)
	if err != nil {
		return err
	}

	var doc *Document
	if len(c.DOM) == 0 {
		doc = blankDocument(c.URL)
	} else if doc, err = newDocument(c.URL, bytes.NewReader(c.DOM), int64(len(c.DOM))); err != nil {
		return err
	}
	doc.Sanitize()
	doc.ApplyForms(c.Forms)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.done {
		return ErrClosed
	}
	if err := r.install(doc); err != nil {
		return err
	}
	if c.Title != "" && doc.Title() == "" {
		doc.SetTitle(c.Title)
	}
	if c.FaviconURL != "" {
		r.favicon = c.FaviconURL
	}

	for _, src := range j.Scripts {
		if _, err := r.run(ctx, src); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return fmt.Errorf("replay: %w", ctxErr)
			}
			r.logger.Debug("journal entry failed on replay", zap.Error(err))
		}
	}
	r.journal = j
	r.scrollX, r.scrollY = c.ScrollX, c.ScrollY
	r.console, r.popups = nil, nil
	return nil
}

// Usage estimates the bytes held by the VM, document and buffers
func (r *Runtime) Usage() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.vm == nil {
		return 0
	}
	return vmBaseBytes + r.doc.Size()*domFactor + r.journal.size() + consoleBytes(r.history)
}

// Collect drops retained console history
func (r *Runtime) Collect() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	freed := consoleBytes(r.history)
	r.history = nil
	return freed
}

// History returns the retained console lines
func (r *Runtime) History() []tabs.ConsoleEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]tabs.ConsoleEntry(nil), r.history...)
}

// Reset discards the page and starts over on a blank document
func (r *Runtime) Reset() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.done {
		return ErrClosed
	}
	r.history = nil
	return r.install(blankDocument("about:blank"))
}

// Close releases the VM; further calls report a fault
func (r *Runtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.done {
		return nil
	}
	r.done = true
	r.vm = nil
	r.doc = blankDocument("about:blank")
	r.history = nil
	r.pool.release()
	return nil
}

func (r *Runtime) closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

func consoleBytes(entries []tabs.ConsoleEntry) int64 {
	var n int64
	for _, e := range entries {
		n += int64(len(e.Message))
	}
	return n
}
