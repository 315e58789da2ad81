// models/models.go
package models

import (
	"time"
)

type DeviceTier int

const (
	LowEnd DeviceTier = iota
	MidRange
	HighEnd
)

func (t DeviceTier) String() string {
	switch t {
	case LowEnd:
		return "low-end"
	case MidRange:
		return "mid-range"
	case HighEnd:
		return "high-end"
	default:
		return "unknown"
	}
}

type ConnectionClass int

const (
	Offline ConnectionClass = iota
	Slow
	Medium
	Fast
)

func (c ConnectionClass) String() string {
	switch c {
	case Offline:
		return "offline"
	case Slow:
		return "slow"
	case Medium:
		return "medium"
	case Fast:
		return "fast"
	default:
		return "unknown"
	}
}

// Constrained reports whether new prefetches must not be issued on this class.
func (c ConnectionClass) Constrained() bool {
	return c == Offline || c == Slow
}

// Priority orders candidates in the scheduler queue; higher values drain first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	default:
		return "unknown"
	}
}

type ResourceType string

const (
	ResourceImage    ResourceType = "image"
	ResourceDocument ResourceType = "document"
	ResourceStyle    ResourceType = "style"
	ResourceScript   ResourceType = "script"
	ResourceFont     ResourceType = "font"
)

type Reason string

const (
	ReasonNextSlide      Reason = "next-slide"
	ReasonNavigation     Reason = "navigation-prediction"
	ReasonUpcomingView   Reason = "upcoming-viewport"
	ReasonUserPreference Reason = "user-preference"
)

type PredictionCandidate struct {
	URL      string       `json:"url"`
	Type     ResourceType `json:"type"`
	Priority Priority     `json:"priority"`
	Reason   Reason       `json:"reason"`
}

type PrefetchState string

const (
	StateQueued   PrefetchState = "queued"
	StateInFlight PrefetchState = "in-flight"
	StateDone     PrefetchState = "done"
	StateFailed   PrefetchState = "failed"
)

type PrefetchRecord struct {
	URL         string        `json:"url"`
	Type        ResourceType  `json:"type"`
	Priority    Priority      `json:"priority"`
	Reason      Reason        `json:"reason"`
	State       PrefetchState `json:"state"`
	Attempts    int           `json:"attempts"`
	Retried     bool          `json:"retried"`
	TimedOut    bool          `json:"timed_out"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	Err         string        `json:"error,omitempty"`
}

// LoadTime is zero until the record reaches a terminal state.
func (r PrefetchRecord) LoadTime() time.Duration {
	if r.StartedAt.IsZero() || r.CompletedAt.IsZero() {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

type ResourceBudget struct {
	MaxConcurrent int    `json:"max_concurrent"`
	Allowed       bool   `json:"allowed"`
	Reason        string `json:"reason,omitempty"`
}

type SessionStats struct {
	Issued      int              `json:"issued"`
	Done        int              `json:"done"`
	Failed      int              `json:"failed"`
	Retried     int              `json:"retried"`
	InFlight    int              `json:"in_flight"`
	Pending     int              `json:"pending"`
	TimedOut    int              `json:"timed_out"`
	ByReason    map[Reason]int   `json:"by_reason"`
	ByPriority  map[Priority]int `json:"by_priority"`
	AvgLoadTime time.Duration    `json:"avg_load_time"`
	Duration    time.Duration    `json:"duration"`
}
