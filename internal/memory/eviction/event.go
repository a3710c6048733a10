package eviction

import (
	"fmt"
	"time"

	"github.com/GriffinCanCode/tabcore/internal/memory/rss"
	"github.com/GriffinCanCode/tabcore/internal/shared/id"
)

// Kind says which direction an event moves a tab
type Kind int

const (
	KindSuspend Kind = iota
	KindRestore
)

func (k Kind) String() string {
	switch k {
	case KindSuspend:
		return "suspend"
	case KindRestore:
		return "restore"
	default:
		return "unknown"
	}
}

// ReasonKind says why a tab is being suspended
type ReasonKind int

const (
	ReasonMemoryPressure ReasonKind = iota
	ReasonInactivity
	ReasonUserRequest
)

func (r ReasonKind) String() string {
	switch r {
	case ReasonMemoryPressure:
		return "memory_pressure"
	case ReasonInactivity:
		return "inactivity"
	case ReasonUserRequest:
		return "user_request"
	default:
		return "unknown"
	}
}

// Reason carries the detail for a suspend. Level is set for memory pressure,
// Idle for inactivity.
type Reason struct {
	Kind  ReasonKind
	Level rss.Level
	Idle  time.Duration
}

func (r Reason) String() string {
	switch r.Kind {
	case ReasonMemoryPressure:
		return fmt.Sprintf("%s(%s)", r.Kind, r.Level)
	case ReasonInactivity:
		return fmt.Sprintf("%s(%ds)", r.Kind, int64(r.Idle/time.Second))
	default:
		return r.Kind.String()
	}
}

// Event asks the runtime to move a tab to or from disk
type Event struct {
	Kind   Kind
	TabID  id.TabID
	Reason Reason
}

// Suspend builds a suspend event
func Suspend(tabID id.TabID, reason Reason) Event {
	return Event{Kind: KindSuspend, TabID: tabID, Reason: reason}
}

// Restore builds a restore event
func Restore(tabID id.TabID) Event {
	return Event{Kind: KindRestore, TabID: tabID}
}

// PressureReason is shorthand for a memory-pressure reason
func PressureReason(level rss.Level) Reason {
	return Reason{Kind: ReasonMemoryPressure, Level: level}
}

// InactivityReason is shorthand for an idle reason
func InactivityReason(idle time.Duration) Reason {
	return Reason{Kind: ReasonInactivity, Idle: idle}
}

// UserReason is shorthand for an explicit request
func UserReason() Reason {
	return Reason{Kind: ReasonUserRequest}
}

func (e Event) String() string {
	if e.Kind == KindRestore {
		return fmt.Sprintf("restore tab %s", e.TabID)
	}
	return fmt.Sprintf("suspend tab %s: %s", e.TabID, e.Reason)
}
