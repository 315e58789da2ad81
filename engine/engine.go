// Package engine drives the prefetch loop: observe, predict, schedule.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"smart-prefetch/capability"
	"smart-prefetch/database"
	"smart-prefetch/hint"
	"smart-prefetch/layout"
	"smart-prefetch/models"
	"smart-prefetch/observer"
	"smart-prefetch/predictor"
	"smart-prefetch/scheduler"
)

const (
	DefaultIdleThreshold = 2 * time.Second
	autoplayInterval     = 5 * time.Second
	outcomeBuffer        = 256
	flushTimeout         = 5 * time.Second
)

var ErrNoEmitter = errors.New("engine requires a hint emitter")

// OutcomeStore persists settled prefetch attempts per session.
type OutcomeStore interface {
	StartSession(ctx context.Context, s database.Session) error
	SaveOutcomes(ctx context.Context, session uuid.UUID, recs []models.PrefetchRecord) error
}

type Options struct {
	Probe   capability.Probe
	Emitter hint.Emitter
	Page    *layout.Page

	Store    OutcomeStore
	Notifier Notifier
	Recorder Recorder

	Limit         int
	SoftTimeout   time.Duration
	IdleThreshold time.Duration
}

type Engine struct {
	detector  *capability.Detector
	observer  *observer.Observer
	predictor *predictor.Predictor
	scheduler *scheduler.Scheduler
	page      *layout.Page

	store    OutcomeStore
	notifier Notifier
	recorder Recorder
	logger   *zap.Logger

	session       uuid.UUID
	startedAt     time.Time
	idleThreshold time.Duration
	wake          chan struct{}
	outcomes      chan models.PrefetchRecord
}

func New(opts Options, logger *zap.Logger) (*Engine, error) {
	if opts.Emitter == nil {
		return nil, ErrNoEmitter
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Notifier == nil {
		opts.Notifier = NopNotifier{}
	}
	if opts.IdleThreshold <= 0 {
		opts.IdleThreshold = DefaultIdleThreshold
	}

	detector := capability.NewDetector(opts.Probe, logger.Named("capability"))
	caps := detector.Detect()

	pred := predictor.ForPage(opts.Page, logger.Named("predictor"))
	if opts.Limit > 0 {
		pred.Limit = opts.Limit
	}

	sched := scheduler.New(scheduler.Config{
		Tier:        caps.Tier,
		Connection:  caps.Connection,
		SoftTimeout: opts.SoftTimeout,
		Probe:       detector.Probe(),
	}, opts.Emitter, logger.Named("scheduler"))

	e := &Engine{
		detector:      detector,
		observer:      observer.New(logger.Named("observer")),
		predictor:     pred,
		scheduler:     sched,
		page:          opts.Page,
		store:         opts.Store,
		notifier:      opts.Notifier,
		recorder:      opts.Recorder,
		logger:        logger,
		session:       uuid.New(),
		startedAt:     time.Now(),
		idleThreshold: opts.IdleThreshold,
		wake:          make(chan struct{}, 1),
	}

	if opts.Page != nil && opts.Page.Slideshow != nil {
		sched.AddBackground(opts.Page.Slideshow)
	}
	if e.recorder != nil {
		sched.AddListener(e.recorder)
		e.recorder.ConnectionChanged(caps.Connection)
	}
	if e.store != nil {
		e.outcomes = make(chan models.PrefetchRecord, outcomeBuffer)
		sched.AddListener(outcomeQueue{e})
	}
	detector.OnConnectionChange(e.connectionChanged)

	return e, nil
}

// Run cycles until ctx is done: once at start, on every tick of the tier's
// interval, and whenever the visitor goes idle.
func (e *Engine) Run(ctx context.Context) error {
	caps := e.detector.Detect()
	interval := capability.TickInterval(caps.Tier)

	e.logger.Info("Prefetch engine started",
		zap.String("session", e.session.String()),
		zap.Stringer("tier", caps.Tier),
		zap.Stringer("connection", e.scheduler.Connection()),
		zap.Duration("interval", interval))

	var wg sync.WaitGroup
	if e.store != nil {
		if err := e.store.StartSession(ctx, e.sessionRow()); err != nil {
			e.logger.Warn("Failed to record session", zap.Error(err))
		}
		wg.Add(1)
		go e.persist(ctx, &wg)
	}

	cancelIdle := e.observer.OnIdle(e.idleThreshold, e.Wake)
	defer cancelIdle()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var autoplay <-chan time.Time
	if e.page != nil && e.page.Slideshow != nil {
		slides := time.NewTicker(autoplayInterval)
		defer slides.Stop()
		autoplay = slides.C
	}

	e.Cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			e.logger.Info("Prefetch engine stopped", zap.String("session", e.session.String()))
			return nil
		case <-ticker.C:
			e.Cycle(ctx)
		case <-e.wake:
			e.Cycle(ctx)
		case <-autoplay:
			e.page.Slideshow.Advance()
		}
	}
}

// Cycle runs one predict, submit and dispatch pass and returns the number
// of prefetches issued.
func (e *Engine) Cycle(ctx context.Context) int {
	caps := e.detector.Detect()
	conn := e.scheduler.Connection()

	cands := e.predictor.Predict(e.observer, caps.Tier, conn, e.scheduler)
	e.scheduler.Submit(cands)
	issued := e.scheduler.Tick(ctx)

	if e.recorder != nil {
		e.recorder.CycleCompleted(cands, e.scheduler.Pending())
	}
	e.notifier.PredictionCycleCompleted(len(cands))
	return issued
}

// Wake asks Run for an extra cycle without waiting for the next tick.
func (e *Engine) Wake() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// NetworkChanged reclassifies the connection. A class change reaches the
// scheduler, the recorder and the notifier.
func (e *Engine) NetworkChanged(info capability.NetworkInfo) models.ConnectionClass {
	return e.detector.NetworkChanged(info)
}

func (e *Engine) connectionChanged(class models.ConnectionClass) {
	e.scheduler.SetConnection(class)
	if e.recorder != nil {
		e.recorder.ConnectionChanged(class)
	}
	e.notifier.ConnectionModeChanged(class)
}

// MemoryPressure releases prefetch bookkeeping after a low-memory signal.
func (e *Engine) MemoryPressure() scheduler.MemoryRelief {
	relief := e.scheduler.HandleMemoryPressure()
	if e.recorder != nil {
		e.recorder.MemoryPressure()
	}
	e.notifier.MemoryPressureHandled()
	return relief
}

func (e *Engine) Record(s models.Sample) {
	e.observer.Record(s)
}

func (e *Engine) RecordInteraction(kind string) {
	e.observer.RecordInteraction(kind)
}

// ShowSlide moves the page carousel, if any.
func (e *Engine) ShowSlide(index int) {
	if e.page != nil && e.page.Slideshow != nil {
		e.page.Slideshow.Show(index)
	}
}

func (e *Engine) Capabilities() capability.Capabilities {
	caps := e.detector.Detect()
	caps.Connection = e.scheduler.Connection()
	return caps
}

func (e *Engine) Observer() *observer.Observer {
	return e.observer
}

func (e *Engine) Scheduler() *scheduler.Scheduler {
	return e.scheduler
}

func (e *Engine) Session() uuid.UUID {
	return e.session
}

// Snapshot reports the scheduler state with the session's running time.
func (e *Engine) Snapshot() scheduler.Snapshot {
	snap := e.scheduler.Snapshot()
	snap.Stats.Duration = time.Since(e.startedAt)
	return snap
}

func (e *Engine) sessionRow() database.Session {
	caps := e.Capabilities()
	s := database.Session{
		ID:         e.session,
		Tier:       caps.Tier,
		Connection: caps.Connection,
		StartedAt:  e.startedAt,
	}
	if e.page != nil {
		s.PageURL = e.page.URL
	}
	return s
}

// persist writes queued outcomes in batches until ctx is done, then
// flushes what is left.
func (e *Engine) persist(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	for {
		select {
		case rec := <-e.outcomes:
			e.save(ctx, e.drain(rec))
		case <-ctx.Done():
			if batch := e.drain(); len(batch) > 0 {
				e.save(ctx, batch)
			}
			return
		}
	}
}

// drain collects whatever is already buffered behind first.
func (e *Engine) drain(first ...models.PrefetchRecord) []models.PrefetchRecord {
	batch := first
	for len(batch) < outcomeBuffer {
		select {
		case rec := <-e.outcomes:
			batch = append(batch, rec)
		default:
			return batch
		}
	}
	return batch
}

// save writes one batch with its own deadline so the final flush still
// lands after ctx is cancelled.
func (e *Engine) save(ctx context.Context, batch []models.PrefetchRecord) {
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flushTimeout)
	defer cancel()

	if err := e.store.SaveOutcomes(saveCtx, e.session, batch); err != nil {
		e.logger.Warn("Failed to save prefetch outcomes", zap.Int("count", len(batch)), zap.Error(err))
	}
}

// outcomeQueue hands settled attempts to the persist loop without blocking
// the emitter's callback.
type outcomeQueue struct {
	e *Engine
}

func (q outcomeQueue) PrefetchIssued(models.PrefetchRecord) {}

func (q outcomeQueue) PrefetchCompleted(rec models.PrefetchRecord) {
	select {
	case q.e.outcomes <- rec:
	default:
		q.e.logger.Warn("Outcome buffer full, dropping record", zap.String("url", rec.URL))
	}
}
