// Package rss samples process-wide resident memory and classifies pressure.
package rss

import "fmt"

// Level classifies process memory pressure
type Level int32

const (
	LevelLow Level = iota
	LevelMedium
	LevelHigh
	LevelCritical
)

// String returns the string representation of the level
func (l Level) String() string {
	switch l {
	case LevelLow:
		return "low"
	case LevelMedium:
		return "medium"
	case LevelHigh:
		return "high"
	case LevelCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// LevelFor classifies usage against threshold:
// below 50% is Low, below 80% Medium, below 100% High, anything else Critical.
func LevelFor(usage, threshold uint64) Level {
	if threshold == 0 {
		return LevelCritical
	}
	ratio := float64(usage) / float64(threshold)
	switch {
	case ratio >= 1.0:
		return LevelCritical
	case ratio >= 0.8:
		return LevelHigh
	case ratio >= 0.5:
		return LevelMedium
	default:
		return LevelLow
	}
}

// Thresholds bound process-wide resident memory
type Thresholds struct {
	Soft     uint64
	Hard     uint64
	Critical uint64
}

const mib = 1024 * 1024

// DefaultThresholds returns 40/50/60 MiB
func DefaultThresholds() Thresholds {
	return Thresholds{
		Soft:     40 * mib,
		Hard:     50 * mib,
		Critical: 60 * mib,
	}
}

// Validate checks soft <= hard <= critical
func (t Thresholds) Validate() error {
	if t.Hard == 0 {
		return fmt.Errorf("hard threshold must be positive")
	}
	if t.Soft > t.Hard || t.Hard > t.Critical {
		return fmt.Errorf("thresholds must satisfy soft <= hard <= critical, got %d/%d/%d",
			t.Soft, t.Hard, t.Critical)
	}
	return nil
}

// Classify returns the pressure level for rss
func (t Thresholds) Classify(rss uint64) Level {
	return LevelFor(rss, t.Hard)
}

// OverSoft reports whether rss passed the soft threshold
func (t Thresholds) OverSoft(rss uint64) bool {
	return rss > t.Soft
}
