package eviction

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/tabcore/internal/memory/rss"
	"github.com/GriffinCanCode/tabcore/internal/shared/id"
)

// PressureSource reports process memory state
type PressureSource interface {
	CurrentPressure() rss.Level
	CurrentRSS() uint64
}

// Entry is the LRU record for one tab
type Entry struct {
	TabID        id.TabID  `json:"tab_id"`
	LastAccessed time.Time `json:"last_accessed"`
	MemoryUsage  int64     `json:"memory_usage"`
	Hibernated   bool      `json:"hibernated"`
	Active       bool      `json:"active"`

	seq uint64
}

func (e *Entry) candidate() bool {
	return !e.Active && !e.Hibernated
}

// Stats summarizes the tracked tabs
type Stats struct {
	TotalTabs      int       `json:"total_tabs"`
	ActiveTabs     int       `json:"active_tabs"`
	HibernatedTabs int       `json:"hibernated_tabs"`
	TotalMemory    int64     `json:"total_memory"`
	CurrentRSS     uint64    `json:"current_rss"`
	Pressure       rss.Level `json:"pressure_level"`
}

// Manager tracks tab recency and turns pressure or idleness into events
type Manager struct {
	source PressureSource
	now    func() time.Time
	logger *zap.Logger

	mu      sync.RWMutex
	entries []*Entry // oldest first
	byID    map[id.TabID]*Entry
	nextSeq uint64
}

// Option configures a Manager
type Option func(*Manager)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLogger attaches a logger
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewManager creates a manager reading pressure from source
func NewManager(source PressureSource, opts ...Option) *Manager {
	m := &Manager{
		source: source,
		now:    time.Now,
		logger: zap.NewNop(),
		byID:   make(map[id.TabID]*Entry),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register starts tracking a tab as the active, most recent one.
// Registering a known tab refreshes it instead.
func (m *Manager) Register(tabID id.TabID, memory int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.byID[tabID]; ok {
		e.MemoryUsage = memory
		e.Active = true
		e.LastAccessed = m.now()
		m.sortLocked()
		return
	}

	e := &Entry{
		TabID:        tabID,
		LastAccessed: m.now(),
		MemoryUsage:  memory,
		Active:       true,
		seq:          m.nextSeq,
	}
	m.nextSeq++
	m.byID[tabID] = e
	m.entries = append(m.entries, e)
	m.sortLocked()
}

// Touch marks a tab as just used
func (m *Manager) Touch(tabID id.TabID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.byID[tabID]
	if !ok {
		return
	}
	e.LastAccessed = m.now()
	e.seq = m.nextSeq
	m.nextSeq++
	m.sortLocked()
}

// SetActive marks whether a tab is in the foreground
func (m *Manager) SetActive(tabID id.TabID, active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.byID[tabID]; ok {
		e.Active = active
	}
}

// UpdateMemory records a tab's current footprint
func (m *Manager) UpdateMemory(tabID id.TabID, memory int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.byID[tabID]; ok {
		e.MemoryUsage = memory
	}
}

// Remove stops tracking a tab
func (m *Manager) Remove(tabID id.TabID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byID[tabID]; !ok {
		return
	}
	delete(m.byID, tabID)
	for i, e := range m.entries {
		if e.TabID == tabID {
			m.entries = append(m.entries[:i], m.entries[i+1:]...)
			break
		}
	}
}

// MarkHibernated records that a tab's memory was released
func (m *Manager) MarkHibernated(tabID id.TabID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.byID[tabID]; ok && !e.Hibernated {
		e.Hibernated = true
		e.MemoryUsage = 0
	}
}

// MarkRestored records that a tab is live again and bumps its recency
func (m *Manager) MarkRestored(tabID id.TabID, memory int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.byID[tabID]
	if !ok || !e.Hibernated {
		return
	}
	e.Hibernated = false
	e.MemoryUsage = memory
	e.LastAccessed = m.now()
	e.seq = m.nextSeq
	m.nextSeq++
	m.sortLocked()
}

// sortLocked keeps entries oldest first; equal timestamps keep sequence order
func (m *Manager) sortLocked() {
	sort.SliceStable(m.entries, func(i, j int) bool {
		a, b := m.entries[i], m.entries[j]
		if !a.LastAccessed.Equal(b.LastAccessed) {
			return a.LastAccessed.Before(b.LastAccessed)
		}
		return a.seq < b.seq
	})
}

// Candidates returns background, live tabs, least recently used first
func (m *Manager) Candidates() []id.TabID {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []id.TabID
	for _, e := range m.entries {
		if e.candidate() {
			ids = append(ids, e.TabID)
		}
	}
	return ids
}

// targetFor maps a pressure level to how many tabs should go; -1 means all
func targetFor(level rss.Level) int {
	switch level {
	case rss.LevelMedium:
		return 1
	case rss.LevelHigh:
		return 2
	case rss.LevelCritical:
		return -1
	default:
		return 0
	}
}

// CheckPressure proposes suspensions for the current pressure level
func (m *Manager) CheckPressure() []Event {
	level := m.source.CurrentPressure()
	return m.CheckPressureAt(level)
}

// CheckPressureAt proposes suspensions as if pressure were level
func (m *Manager) CheckPressureAt(level rss.Level) []Event {
	target := targetFor(level)
	if target == 0 {
		return nil
	}

	candidates := m.Candidates()
	if target > 0 && len(candidates) > target {
		candidates = candidates[:target]
	}
	if len(candidates) == 0 {
		return nil
	}

	events := make([]Event, 0, len(candidates))
	reason := PressureReason(level)
	for _, tabID := range candidates {
		events = append(events, Suspend(tabID, reason))
	}

	m.logger.Debug("pressure check proposed suspensions",
		zap.Stringer("level", level),
		zap.Int("count", len(events)))
	return events
}

// CheckInactivity proposes suspending every background tab idle longer than maxIdle
func (m *Manager) CheckInactivity(maxIdle time.Duration) []Event {
	now := m.now()

	m.mu.RLock()
	defer m.mu.RUnlock()

	var events []Event
	for _, e := range m.entries {
		if !e.candidate() {
			continue
		}
		idle := now.Sub(e.LastAccessed)
		if idle > maxIdle {
			events = append(events, Suspend(e.TabID, InactivityReason(idle)))
		}
	}
	return events
}

// Entry returns a copy of one tab's record
func (m *Manager) Entry(tabID id.TabID) (Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.byID[tabID]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Entries returns copies of all records, oldest first
func (m *Manager) Entries() []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Entry, len(m.entries))
	for i, e := range m.entries {
		out[i] = *e
	}
	return out
}

// Stats summarizes tracked tabs together with process memory
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	s := Stats{TotalTabs: len(m.entries)}
	for _, e := range m.entries {
		if e.Hibernated {
			s.HibernatedTabs++
		} else {
			s.ActiveTabs++
		}
		s.TotalMemory += e.MemoryUsage
	}
	m.mu.RUnlock()

	s.CurrentRSS = m.source.CurrentRSS()
	s.Pressure = m.source.CurrentPressure()
	return s
}
