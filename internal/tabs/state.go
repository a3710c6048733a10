package tabs

import "fmt"

// State is where a tab sits in its lifecycle
type State int

const (
	StateActive State = iota
	StateLoading
	StateHibernating
	StateHibernated
	StateCrashed
)

var stateNames = [...]string{
	StateActive:      "active",
	StateLoading:     "loading",
	StateHibernating: "hibernating",
	StateHibernated:  "hibernated",
	StateCrashed:     "crashed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText encodes the state by name
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name
func (s *State) UnmarshalText(text []byte) error {
	for i, name := range stateNames {
		if name == string(text) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown tab state %q", text)
}

// live reports whether the tab has a running worker
func (s State) live() bool {
	return s == StateActive || s == StateLoading || s == StateCrashed
}

// AllStates lists every state in order
func AllStates() []State {
	return []State{StateActive, StateLoading, StateHibernating, StateHibernated, StateCrashed}
}
