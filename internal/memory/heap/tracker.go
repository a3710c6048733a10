package heap

import (
	"fmt"
	"sync/atomic"
)

// Tracker aggregates every live tab heap in the process
type Tracker struct {
	total  atomic.Int64
	peak   atomic.Int64
	active atomic.Int64
}

// NewTracker creates an empty tracker
func NewTracker() *Tracker {
	return &Tracker{}
}

func (t *Tracker) attach() { t.active.Add(1) }
func (t *Tracker) detach() { t.active.Add(-1) }

func (t *Tracker) add(delta int64) {
	now := t.total.Add(delta)
	for {
		p := t.peak.Load()
		if now <= p || t.peak.CompareAndSwap(p, now) {
			return
		}
	}
}

// Total returns bytes accounted across all heaps
func (t *Tracker) Total() int64 { return t.total.Load() }

// Peak returns the process-wide high-water mark
func (t *Tracker) Peak() int64 { return t.peak.Load() }

// ActiveHeaps returns how many heaps are attached
func (t *Tracker) ActiveHeaps() int64 { return t.active.Load() }

// TrackerStats is a snapshot of the aggregate
type TrackerStats struct {
	TotalAllocated int64 `json:"total_allocated"`
	Peak           int64 `json:"peak"`
	ActiveHeaps    int64 `json:"active_heaps"`
}

// Stats returns a snapshot
func (t *Tracker) Stats() TrackerStats {
	return TrackerStats{
		TotalAllocated: t.total.Load(),
		Peak:           t.peak.Load(),
		ActiveHeaps:    t.active.Load(),
	}
}

func (s TrackerStats) String() string {
	return fmt.Sprintf("allocated=%s peak=%s heaps=%d",
		FormatBytes(s.TotalAllocated), FormatBytes(s.Peak), s.ActiveHeaps)
}

// FormatBytes renders a byte count with binary units and two decimals
func FormatBytes(n int64) string {
	const (
		kb = 1024
		mb = kb * 1024
		gb = mb * 1024
	)
	switch {
	case n >= gb:
		return fmt.Sprintf("%.2f GB", float64(n)/gb)
	case n >= mb:
		return fmt.Sprintf("%.2f MB", float64(n)/mb)
	case n >= kb:
		return fmt.Sprintf("%.2f KB", float64(n)/kb)
	default:
		return fmt.Sprintf("%d B", n)
	}
}
