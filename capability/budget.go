package capability

import (
	"time"

	"smart-prefetch/models"
)

const (
	HeapPressureRatio = 0.7
	LowBatteryLevel   = 0.2

	// The failure adjustment needs this many outcomes before it kicks in.
	minOutcomes      = 5
	failureThreshold = 0.5
)

type BudgetInput struct {
	Tier       models.DeviceTier
	Connection models.ConnectionClass

	Heap     float64
	HeapOK   bool
	Battery  Battery
	BattOK   bool
	Outcomes *OutcomeWindow
}

// ComputeBudget derives how many prefetches may run at once, and whether
// any may start at all.
func ComputeBudget(in BudgetInput) models.ResourceBudget {
	budget := models.ResourceBudget{
		MaxConcurrent: baseConcurrency(in.Tier),
		Allowed:       true,
	}

	if in.Connection == models.Medium && budget.MaxConcurrent > 3 {
		budget.MaxConcurrent = 3
	}

	if in.Outcomes != nil {
		if n, ratio := in.Outcomes.FailureRatio(); n >= minOutcomes && ratio > failureThreshold {
			budget.MaxConcurrent /= 2
			if budget.MaxConcurrent < 1 {
				budget.MaxConcurrent = 1
			}
		}
	}

	switch {
	case in.Connection.Constrained():
		budget.Allowed = false
		budget.Reason = "connection " + in.Connection.String()
	case in.HeapOK && in.Heap > HeapPressureRatio:
		budget.Allowed = false
		budget.Reason = "heap pressure"
	case in.BattOK && in.Battery.Level < LowBatteryLevel && !in.Battery.Charging:
		budget.Allowed = false
		budget.Reason = "low battery"
	}

	return budget
}

// BudgetFor reads the current heap and battery state from probe.
func BudgetFor(tier models.DeviceTier, conn models.ConnectionClass, probe Probe, outcomes *OutcomeWindow) models.ResourceBudget {
	in := BudgetInput{Tier: tier, Connection: conn, Outcomes: outcomes}
	if probe != nil {
		in.Heap, in.HeapOK = probe.HeapUsage()
		in.Battery, in.BattOK = probe.Battery()
	}
	return ComputeBudget(in)
}

func baseConcurrency(tier models.DeviceTier) int {
	switch tier {
	case models.HighEnd:
		return 6
	case models.MidRange:
		return 4
	default:
		return 2
	}
}

// TickInterval is the scheduling period for a tier.
func TickInterval(tier models.DeviceTier) time.Duration {
	switch tier {
	case models.HighEnd:
		return 1000 * time.Millisecond
	case models.MidRange:
		return 2000 * time.Millisecond
	default:
		return 5000 * time.Millisecond
	}
}

// OutcomeWindow keeps the most recent prefetch outcomes. Not goroutine-safe;
// the scheduler guards it.
type OutcomeWindow struct {
	failed []bool
	size   int
}

func NewOutcomeWindow(size int) *OutcomeWindow {
	return &OutcomeWindow{size: size, failed: make([]bool, 0, size)}
}

func (w *OutcomeWindow) Add(failed bool) {
	w.failed = append(w.failed, failed)
	if len(w.failed) > w.size {
		w.failed = w.failed[1:]
	}
}

func (w *OutcomeWindow) FailureRatio() (int, float64) {
	if len(w.failed) == 0 {
		return 0, 0
	}
	n := 0
	for _, f := range w.failed {
		if f {
			n++
		}
	}
	return len(w.failed), float64(n) / float64(len(w.failed))
}
