// Package id provides identifier types for tabs and the records attached to them.
//
// Two families of ids live here:
//   - TabID: a monotonically assigned uint64 handle, never reused within a run.
//     Hibernation files are named after it, so it must stay stable and compact.
//   - ULID-based ids (CrashID, EventID): k-sortable, prefixed strings used for
//     records that outlive the tab they describe and show up in logs.
//
// ClientID uses UUIDv4 because websocket clients are external and short lived.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// ============================================================================
// Tab Identifiers
// ============================================================================

// TabID identifies a tab for the lifetime of the process
type TabID uint64

// String renders the id the way it appears in file names and routes
func (id TabID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// ParseTabID parses the decimal form produced by String
func ParseTabID(s string) (TabID, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid tab id %q: %w", s, err)
	}
	if v == 0 {
		return 0, fmt.Errorf("invalid tab id %q: zero is reserved", s)
	}
	return TabID(v), nil
}

// Allocator hands out TabIDs starting at 1
type Allocator struct {
	next atomic.Uint64
}

// NewAllocator creates an allocator whose first id is 1
func NewAllocator() *Allocator {
	a := &Allocator{}
	a.next.Store(1)
	return a
}

// Next returns a fresh id
func (a *Allocator) Next() TabID {
	return TabID(a.next.Add(1) - 1)
}

// SeedAbove ensures every future id is greater than floor.
// Used at startup so ids left on disk by a previous run are not reissued.
func (a *Allocator) SeedAbove(floor TabID) {
	for {
		cur := a.next.Load()
		if cur > uint64(floor) {
			return
		}
		if a.next.CompareAndSwap(cur, uint64(floor)+1) {
			return
		}
	}
}

// ============================================================================
// ULID Generator
// ============================================================================

// CrashID identifies a single crash report
type CrashID string

// EventID identifies a published runtime event
type EventID string

// ClientID identifies an event stream subscriber
type ClientID string

const (
	CrashPrefix = "crash"
	EventPrefix = "evt"
)

// Generator generates ULIDs with optional prefixes
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the singleton generator instance
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a generator backed by crypto/rand
func NewGenerator() *Generator {
	return &Generator{entropy: ulid.Monotonic(rand.Reader, 0)}
}

// NewGeneratorWithEntropy creates a generator with custom entropy source
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{entropy: entropy}
}

// Generate creates a new ULID
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateWithPrefix creates a prefixed ULID string
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.Generate().String())
}

// NewCrashID generates a crash report id
func NewCrashID() CrashID {
	return CrashID(Default().GenerateWithPrefix(CrashPrefix))
}

// NewEventID generates an event id
func NewEventID() EventID {
	return EventID(Default().GenerateWithPrefix(EventPrefix))
}

// NewClientID generates a subscriber id
func NewClientID() ClientID {
	return ClientID(uuid.NewString())
}

func (id CrashID) String() string  { return string(id) }
func (id EventID) String() string  { return string(id) }
func (id ClientID) String() string { return string(id) }

// Timestamp extracts the creation time from a prefixed ULID
func Timestamp(prefixed string) (time.Time, error) {
	raw := prefixed
	if i := strings.LastIndexByte(prefixed, '_'); i >= 0 {
		raw = prefixed[i+1:]
	}
	parsed, err := ulid.Parse(raw)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
