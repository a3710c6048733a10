package tabs

import (
	"context"
	"errors"
	"fmt"

	"github.com/GriffinCanCode/tabcore/internal/memory/hibernation"
	"github.com/GriffinCanCode/tabcore/internal/shared/id"
)

// ErrFault marks an engine failure that must be treated as a crash
var ErrFault = errors.New("engine fault")

// Fault is returned by an Engine when its context is no longer usable.
// The worker turns it into a crash report and resets the engine.
type Fault struct {
	Op  string
	Err error
}

func (f *Fault) Error() string {
	return fmt.Sprintf("engine fault during %s: %v", f.Op, f.Err)
}

func (f *Fault) Unwrap() error { return f.Err }

// Is lets errors.Is(err, ErrFault) match any Fault
func (f *Fault) Is(target error) bool { return target == ErrFault }

// Page is what a completed load reports
type Page struct {
	URL        string
	Title      string
	FaviconURL string
	Bytes      int64
}

// ConsoleEntry is one console call made by a script
type ConsoleEntry struct {
	Level   ConsoleLevel
	Message string
}

// ScriptResult is the outcome of running a script
type ScriptResult struct {
	Value   string         `json:"value"`
	Console []ConsoleEntry `json:"console,omitempty"`
	Popups  []string       `json:"popups,omitempty"`
}

// Frame is a straight-alpha RGBA raster of the visible page
type Frame struct {
	Pixels []byte
	Width  int
	Height int
}

// Capture is everything needed to rebuild a tab after hibernation.
// Heap is opaque to everything but the engine that produced it.
type Capture struct {
	URL        string
	Title      string
	FaviconURL string
	ScrollX    float32
	ScrollY    float32
	Forms      []hibernation.FormField
	DOM        []byte
	Heap       []byte
	Frame      *Frame
}

// Engine is the per-tab script and document context
type Engine interface {
	Load(ctx context.Context, url string) (Page, error)
	Execute(ctx context.Context, script string) (ScriptResult, error)
	Capture() (Capture, error)
	Restore(ctx context.Context, c Capture) error
	// Usage reports the bytes the engine currently holds
	Usage() int64
	// Collect releases what it can and returns the bytes freed
	Collect() int64
	Reset() error
	Close() error
}

// EngineFactory builds an engine for one tab
type EngineFactory func(tabID id.TabID) (Engine, error)
