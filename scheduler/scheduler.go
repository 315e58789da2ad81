// Package scheduler turns predictions into prefetches within the device's
// concurrency, memory, battery and connection budget.
package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"smart-prefetch/capability"
	"smart-prefetch/hint"
	"smart-prefetch/models"
)

const (
	DefaultSoftTimeout = 10 * time.Second
	outcomeWindowSize  = 20
)

// ErrSoftTimeout marks a prefetch that never reported back in time.
var ErrSoftTimeout = errors.New("prefetch soft timeout")

// Background is a consumer that should stop while the connection is
// constrained, such as an autoplaying carousel.
type Background interface {
	Pause()
	Resume()
}

// Listener is told about every prefetch that starts and finishes.
type Listener interface {
	PrefetchIssued(rec models.PrefetchRecord)
	PrefetchCompleted(rec models.PrefetchRecord)
}

type Config struct {
	Tier        models.DeviceTier
	Connection  models.ConnectionClass
	SoftTimeout time.Duration
	Probe       capability.Probe
	Now         func() time.Time
}

// flight is one issued attempt. Detached flights were dropped from the
// dedup set by memory-pressure relief but still hold their slot.
type flight struct {
	rec      *models.PrefetchRecord
	attached bool
	cancel   context.CancelFunc
}

type dispatch struct {
	id   uint64
	ctx  context.Context
	hint hint.Hint
	rec  models.PrefetchRecord
}

type MemoryRelief struct {
	RecordsCleared int
	QueueDropped   int
	StillInFlight  int
}

type Scheduler struct {
	emitter     hint.Emitter
	logger      *zap.Logger
	probe       capability.Probe
	now         func() time.Time
	softTimeout time.Duration

	mu         sync.Mutex
	tier       models.DeviceTier
	conn       models.ConnectionClass
	budget     models.ResourceBudget
	queue      queue
	pending    map[string]*entry
	seq        uint64
	records    map[string]*models.PrefetchRecord
	inflight   map[uint64]*flight
	nextID     uint64
	outcomes   *capability.OutcomeWindow
	background []Background
	listeners  []Listener

	issued   int
	retried  int
	timedOut int
}

func New(cfg Config, emitter hint.Emitter, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SoftTimeout <= 0 {
		cfg.SoftTimeout = DefaultSoftTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	s := &Scheduler{
		emitter:     emitter,
		logger:      logger,
		probe:       cfg.Probe,
		now:         cfg.Now,
		softTimeout: cfg.SoftTimeout,
		tier:        cfg.Tier,
		conn:        cfg.Connection,
		pending:     make(map[string]*entry),
		records:     make(map[string]*models.PrefetchRecord),
		inflight:    make(map[uint64]*flight),
		outcomes:    capability.NewOutcomeWindow(outcomeWindowSize),
	}
	s.budget = s.computeBudgetLocked()
	return s
}

func (s *Scheduler) AddBackground(b Background) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.background = append(s.background, b)
}

func (s *Scheduler) AddListener(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Submit queues candidates. A URL that already has a record is dropped;
// a URL already waiting keeps its place unless the new priority is higher.
func (s *Scheduler) Submit(cands []models.PredictionCandidate) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range cands {
		if c.URL == "" {
			continue
		}
		if _, known := s.records[c.URL]; known {
			continue
		}
		if e, waiting := s.pending[c.URL]; waiting {
			if c.Priority > e.cand.Priority {
				e.cand.Priority = c.Priority
				e.cand.Reason = c.Reason
				heap.Fix(&s.queue, e.index)
			}
			continue
		}
		s.pushLocked(c, false)
	}
}

func (s *Scheduler) pushLocked(c models.PredictionCandidate, retry bool) {
	e := &entry{cand: c, seq: s.seq, retry: retry}
	s.seq++
	heap.Push(&s.queue, e)
	s.pending[c.URL] = e
}

// Tick runs one scheduling pass and returns how many prefetches it issued.
// Candidates leave the queue strictly in priority order.
func (s *Scheduler) Tick(ctx context.Context) int {
	now := s.now()

	s.mu.Lock()
	expired := s.sweepLocked(now)
	s.budget = s.computeBudgetLocked()
	budget := s.budget

	var issue []dispatch
	if budget.Allowed {
		for len(s.inflight) < budget.MaxConcurrent && s.queue.Len() > 0 {
			e := heap.Pop(&s.queue).(*entry)
			if s.pending[e.cand.URL] == e {
				delete(s.pending, e.cand.URL)
			}

			rec, exists := s.records[e.cand.URL]
			if exists && !(e.retry && rec.State == models.StateQueued) {
				continue
			}
			if !exists {
				rec = &models.PrefetchRecord{
					URL:      e.cand.URL,
					Type:     e.cand.Type,
					Priority: e.cand.Priority,
					Reason:   e.cand.Reason,
					State:    models.StateQueued,
					Retried:  e.retry,
				}
				s.records[rec.URL] = rec
			}

			rec.State = models.StateInFlight
			rec.Attempts++
			rec.StartedAt = now
			rec.CompletedAt = time.Time{}
			rec.Err = ""
			rec.TimedOut = false

			id := s.nextID
			s.nextID++
			actx, cancel := context.WithCancel(ctx)
			s.inflight[id] = &flight{rec: rec, attached: true, cancel: cancel}
			issue = append(issue, dispatch{id: id, ctx: actx, hint: hint.For(rec.URL, rec.Type), rec: *rec})
		}
		s.issued += len(issue)
	}
	listeners := append([]Listener(nil), s.listeners...)
	queued := s.queue.Len()
	s.mu.Unlock()

	s.notifyCompleted(listeners, expired)

	if !budget.Allowed {
		s.logger.Debug("Prefetch tick skipped",
			zap.String("reason", budget.Reason),
			zap.Int("queued", queued))
		return 0
	}

	for _, d := range issue {
		for _, l := range listeners {
			l.PrefetchIssued(d.rec)
		}
		id := d.id
		s.emitter.Emit(d.ctx, d.hint, func(err error) { s.complete(id, err) })
	}

	if len(issue) > 0 {
		s.logger.Debug("Prefetch tick",
			zap.Int("issued", len(issue)),
			zap.Int("queued", queued),
			zap.Int("max_concurrent", budget.MaxConcurrent))
	}
	return len(issue)
}

func (s *Scheduler) complete(id uint64, err error) {
	now := s.now()
	s.mu.Lock()
	rec, ok := s.completeLocked(id, err, now)
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.Unlock()

	if !ok {
		return
	}
	s.notifyCompleted(listeners, []models.PrefetchRecord{rec})
}

// completeLocked settles an attempt and cancels its context, which aborts
// the fetch behind a soft-timed-out attempt. Late callbacks for attempts
// that were already settled are ignored. The returned record is the outcome
// of this attempt, even if a retry has been queued since.
func (s *Scheduler) completeLocked(id uint64, err error, now time.Time) (models.PrefetchRecord, bool) {
	f, ok := s.inflight[id]
	if !ok {
		return models.PrefetchRecord{}, false
	}
	delete(s.inflight, id)
	if f.cancel != nil {
		f.cancel()
	}

	rec := f.rec
	rec.CompletedAt = now
	if err == nil {
		rec.State = models.StateDone
	} else {
		rec.State = models.StateFailed
		rec.Err = err.Error()
		rec.TimedOut = errors.Is(err, ErrSoftTimeout)
		if rec.TimedOut {
			s.timedOut++
		}
	}
	s.outcomes.Add(err != nil)
	outcome := *rec

	if err != nil && f.attached && rec.Priority == models.PriorityHigh && !rec.Retried {
		rec.Retried = true
		rec.State = models.StateQueued
		s.retried++
		s.pushLocked(models.PredictionCandidate{URL: rec.URL, Type: rec.Type, Priority: rec.Priority, Reason: rec.Reason}, true)
	}
	return outcome, true
}

func (s *Scheduler) sweepLocked(now time.Time) []models.PrefetchRecord {
	var ids []uint64
	for id, f := range s.inflight {
		if now.Sub(f.rec.StartedAt) >= s.softTimeout {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var out []models.PrefetchRecord
	for _, id := range ids {
		if rec, ok := s.completeLocked(id, ErrSoftTimeout, now); ok {
			out = append(out, rec)
		}
	}
	return out
}

func (s *Scheduler) notifyCompleted(listeners []Listener, recs []models.PrefetchRecord) {
	for _, rec := range recs {
		if rec.State == models.StateFailed {
			s.logger.Warn("Prefetch failed",
				zap.String("url", rec.URL),
				zap.Stringer("priority", rec.Priority),
				zap.Int("attempt", rec.Attempts),
				zap.String("error", rec.Err))
		} else {
			s.logger.Debug("Prefetch done",
				zap.String("url", rec.URL),
				zap.Duration("load_time", rec.LoadTime()))
		}
		for _, l := range listeners {
			l.PrefetchCompleted(rec)
		}
	}
}

func (s *Scheduler) computeBudgetLocked() models.ResourceBudget {
	return capability.BudgetFor(s.tier, s.conn, s.probe, s.outcomes)
}

// SetConnection applies a connection class change. Entering offline or slow
// pauses background consumers; entering fast resumes them. Completed
// records are kept either way.
func (s *Scheduler) SetConnection(class models.ConnectionClass) {
	s.mu.Lock()
	prev := s.conn
	s.conn = class
	s.budget = s.computeBudgetLocked()
	background := append([]Background(nil), s.background...)
	s.mu.Unlock()

	if prev == class {
		return
	}

	switch {
	case class.Constrained() && !prev.Constrained():
		s.logger.Info("Pausing background consumers", zap.Stringer("connection", class))
		for _, b := range background {
			b.Pause()
		}
	case class == models.Fast:
		s.logger.Info("Resuming background consumers", zap.Stringer("connection", class))
		for _, b := range background {
			b.Resume()
		}
	}
}

// HandleMemoryPressure forgets every record not in flight and drops
// low-priority candidates still waiting. In-flight prefetches keep their
// slot until they report back but no longer count for deduplication.
func (s *Scheduler) HandleMemoryPressure() MemoryRelief {
	s.mu.Lock()
	defer s.mu.Unlock()

	var relief MemoryRelief
	for url, rec := range s.records {
		if rec.State != models.StateInFlight {
			delete(s.records, url)
			relief.RecordsCleared++
		}
	}
	for _, f := range s.inflight {
		if f.attached {
			f.attached = false
			delete(s.records, f.rec.URL)
		}
	}
	relief.StillInFlight = len(s.inflight)

	kept := s.queue[:0]
	for _, e := range s.queue {
		if e.cand.Priority == models.PriorityLow {
			if s.pending[e.cand.URL] == e {
				delete(s.pending, e.cand.URL)
			}
			relief.QueueDropped++
			continue
		}
		kept = append(kept, e)
	}
	for i := len(kept); i < len(s.queue); i++ {
		s.queue[i] = nil
	}
	s.queue = kept
	for i, e := range s.queue {
		e.index = i
	}
	heap.Init(&s.queue)

	s.logger.Info("Memory pressure handled",
		zap.Int("records_cleared", relief.RecordsCleared),
		zap.Int("queue_dropped", relief.QueueDropped),
		zap.Int("in_flight", relief.StillInFlight))
	return relief
}

// State reports the deduplication view of a URL.
func (s *Scheduler) State(url string) (models.PrefetchState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[url]
	if !ok {
		return "", false
	}
	return rec.State, true
}

// Lookup finds the record for a URL, including in-flight attempts detached
// by memory-pressure relief.
func (s *Scheduler) Lookup(url string) (models.PrefetchRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[url]; ok {
		return *rec, true
	}
	for _, f := range s.inflight {
		if f.rec.URL == url {
			return *f.rec, true
		}
	}
	return models.PrefetchRecord{}, false
}

func (s *Scheduler) Budget() models.ResourceBudget {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.budget
}

func (s *Scheduler) Connection() models.ConnectionClass {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

func (s *Scheduler) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inflight)
}

func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len()
}

// Records returns a copy of the tracked records ordered by URL.
func (s *Scheduler) Records() []models.PrefetchRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recordsLocked()
}

func (s *Scheduler) recordsLocked() []models.PrefetchRecord {
	out := make([]models.PrefetchRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out
}

type Snapshot struct {
	Records []models.PrefetchRecord
	Stats   models.SessionStats
}

// Snapshot copies the records and counters under one lock.
func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{Records: s.recordsLocked(), Stats: s.statsLocked()}
}

func (s *Scheduler) Stats() models.SessionStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statsLocked()
}

func (s *Scheduler) statsLocked() models.SessionStats {
	stats := models.SessionStats{
		Issued:     s.issued,
		Retried:    s.retried,
		TimedOut:   s.timedOut,
		InFlight:   len(s.inflight),
		Pending:    s.queue.Len(),
		ByReason:   make(map[models.Reason]int),
		ByPriority: make(map[models.Priority]int),
	}

	var total time.Duration
	for _, rec := range s.records {
		stats.ByReason[rec.Reason]++
		stats.ByPriority[rec.Priority]++
		switch rec.State {
		case models.StateDone:
			stats.Done++
			total += rec.LoadTime()
		case models.StateFailed:
			stats.Failed++
		}
	}
	if stats.Done > 0 {
		stats.AvgLoadTime = total / time.Duration(stats.Done)
	}
	return stats
}
