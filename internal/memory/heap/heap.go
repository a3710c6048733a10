package heap

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/GriffinCanCode/tabcore/internal/shared/id"
)

var (
	ErrOutOfMemory = errors.New("tab heap limit exceeded")
	ErrFrozen      = errors.New("tab heap is frozen")
	ErrInvalidSize = errors.New("allocation size must be non-negative")
)

const (
	DefaultSoftLimit int64 = 32 * 1024 * 1024
	DefaultHardLimit int64 = 64 * 1024 * 1024

	// criticalPercent of the hard limit triggers an emergency collection
	criticalPercent = 90
)

// Urgency describes how badly a heap wants a collection
type Urgency int

const (
	UrgencyNone Urgency = iota
	UrgencyRecommended
	UrgencyCritical
)

func (u Urgency) String() string {
	switch u {
	case UrgencyNone:
		return "none"
	case UrgencyRecommended:
		return "recommended"
	case UrgencyCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Limits are the byte ceilings for a single tab
type Limits struct {
	Soft     int64
	Hard     int64
	Critical int64 // zero means 90% of Hard
}

// DefaultLimits returns the stock per-tab ceilings
func DefaultLimits() Limits {
	return Limits{Soft: DefaultSoftLimit, Hard: DefaultHardLimit}
}

// Validate checks ordering of the ceilings
func (l Limits) Validate() error {
	if l.Hard <= 0 {
		return fmt.Errorf("hard limit must be positive, got %d", l.Hard)
	}
	if l.Soft < 0 || l.Soft > l.Hard {
		return fmt.Errorf("soft limit %d must be within [0, %d]", l.Soft, l.Hard)
	}
	if l.Critical < 0 || l.Critical > l.Hard {
		return fmt.Errorf("critical threshold %d must be within [0, %d]", l.Critical, l.Hard)
	}
	return nil
}

func (l Limits) critical() int64 {
	if l.Critical > 0 {
		return l.Critical
	}
	// split so neither small limits truncate nor large ones overflow
	return l.Hard/100*criticalPercent + l.Hard%100*criticalPercent/100
}

// Heap accounts allocations for one tab.
// Every method is safe for concurrent use and none of them take a lock.
type Heap struct {
	id       id.TabID
	limits   Limits
	critical int64
	tracker  *Tracker

	allocated atomic.Int64
	peak      atomic.Int64
	frozen    atomic.Bool
}

// New creates a heap for a tab. tracker may be nil.
func New(tabID id.TabID, limits Limits, tracker *Tracker) *Heap {
	h := &Heap{
		id:       tabID,
		limits:   limits,
		critical: limits.critical(),
		tracker:  tracker,
	}
	if tracker != nil {
		tracker.attach()
	}
	return h
}

// TabID returns the owning tab
func (h *Heap) TabID() id.TabID {
	return h.id
}

// Limits returns the configured ceilings
func (h *Heap) Limits() Limits {
	return h.limits
}

// RecordAllocation adds size bytes. The counter never passes the hard limit,
// not even transiently; a rejected request leaves it unchanged.
func (h *Heap) RecordAllocation(size int64) error {
	if size < 0 {
		return ErrInvalidSize
	}
	if h.frozen.Load() {
		return ErrFrozen
	}

	for {
		cur := h.allocated.Load()
		next := cur + size
		if next > h.limits.Hard || next < cur {
			return fmt.Errorf("%w: tab %s requested %d with %d of %d in use",
				ErrOutOfMemory, h.id, size, cur, h.limits.Hard)
		}
		if h.allocated.CompareAndSwap(cur, next) {
			h.raisePeak(next)
			if h.tracker != nil {
				h.tracker.add(size)
			}
			return nil
		}
	}
}

// RecordDeallocation subtracts size bytes, saturating at zero
func (h *Heap) RecordDeallocation(size int64) {
	if size <= 0 {
		return
	}
	for {
		cur := h.allocated.Load()
		next := cur - size
		if next < 0 {
			next = 0
		}
		if h.allocated.CompareAndSwap(cur, next) {
			if h.tracker != nil {
				h.tracker.add(next - cur)
			}
			return
		}
	}
}

// Allocated returns the bytes currently accounted
func (h *Heap) Allocated() int64 {
	return h.allocated.Load()
}

// Peak returns the high-water mark since creation
func (h *Heap) Peak() int64 {
	return h.peak.Load()
}

// Available returns the headroom below the hard limit
func (h *Heap) Available() int64 {
	return h.limits.Hard - h.allocated.Load()
}

// NeedsGC reports whether the tab should collect
func (h *Heap) NeedsGC() Urgency {
	cur := h.allocated.Load()
	switch {
	case cur >= h.critical:
		return UrgencyCritical
	case cur > h.limits.Soft:
		return UrgencyRecommended
	default:
		return UrgencyNone
	}
}

// Freeze rejects further allocations until Unfreeze or Reset
func (h *Heap) Freeze() {
	h.frozen.Store(true)
}

// Unfreeze accepts allocations again
func (h *Heap) Unfreeze() {
	h.frozen.Store(false)
}

// Frozen reports whether the heap is frozen
func (h *Heap) Frozen() bool {
	return h.frozen.Load()
}

// Reset zeroes the counter and clears the frozen flag
func (h *Heap) Reset() {
	prev := h.allocated.Swap(0)
	h.frozen.Store(false)
	if h.tracker != nil && prev > 0 {
		h.tracker.add(-prev)
	}
}

// Release detaches the heap from its tracker. The heap must not be used afterwards.
func (h *Heap) Release() {
	h.Reset()
	if h.tracker != nil {
		h.tracker.detach()
		h.tracker = nil
	}
}

// Stats is a point-in-time view of one heap
type Stats struct {
	TabID     id.TabID `json:"tab_id"`
	Allocated int64    `json:"allocated"`
	Peak      int64    `json:"peak"`
	Soft      int64    `json:"soft_limit"`
	Hard      int64    `json:"hard_limit"`
	Frozen    bool     `json:"frozen"`
	Urgency   string   `json:"gc_urgency"`
}

// Stats returns a snapshot without blocking allocators
func (h *Heap) Stats() Stats {
	return Stats{
		TabID:     h.id,
		Allocated: h.allocated.Load(),
		Peak:      h.peak.Load(),
		Soft:      h.limits.Soft,
		Hard:      h.limits.Hard,
		Frozen:    h.frozen.Load(),
		Urgency:   h.NeedsGC().String(),
	}
}

func (h *Heap) raisePeak(v int64) {
	for {
		p := h.peak.Load()
		if v <= p || h.peak.CompareAndSwap(p, v) {
			return
		}
	}
}
