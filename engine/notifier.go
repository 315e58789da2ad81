package engine

import (
	"go.uber.org/zap"

	"smart-prefetch/models"
	"smart-prefetch/scheduler"
)

// Notifier surfaces engine events to whatever UI hosts the engine.
type Notifier interface {
	PredictionCycleCompleted(candidates int)
	MemoryPressureHandled()
	ConnectionModeChanged(class models.ConnectionClass)
}

// Recorder receives per-cycle figures, typically the metrics collector.
type Recorder interface {
	scheduler.Listener
	CycleCompleted(cands []models.PredictionCandidate, queued int)
	MemoryPressure()
	ConnectionChanged(class models.ConnectionClass)
}

type NopNotifier struct{}

func (NopNotifier) PredictionCycleCompleted(int)                 {}
func (NopNotifier) MemoryPressureHandled()                       {}
func (NopNotifier) ConnectionModeChanged(models.ConnectionClass) {}

// LogNotifier writes engine events to a zap logger.
type LogNotifier struct {
	Logger *zap.Logger
}

func (n LogNotifier) PredictionCycleCompleted(candidates int) {
	n.Logger.Debug("Prediction cycle completed", zap.Int("candidates", candidates))
}

func (n LogNotifier) MemoryPressureHandled() {
	n.Logger.Info("Memory pressure handled, prefetch cache cleared")
}

func (n LogNotifier) ConnectionModeChanged(class models.ConnectionClass) {
	if class.Constrained() {
		n.Logger.Info("Connection constrained, prefetching paused", zap.Stringer("connection", class))
		return
	}
	n.Logger.Info("Connection mode changed", zap.Stringer("connection", class))
}
