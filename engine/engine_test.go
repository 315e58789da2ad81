package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"smart-prefetch/capability"
	"smart-prefetch/database"
	"smart-prefetch/hint"
	"smart-prefetch/layout"
	"smart-prefetch/metrics"
	"smart-prefetch/models"
)

var _ Recorder = (*metrics.Collector)(nil)

type instantEmitter struct {
	mu   sync.Mutex
	urls []string
}

func (e *instantEmitter) Emit(ctx context.Context, h hint.Hint, done func(error)) {
	e.mu.Lock()
	e.urls = append(e.urls, h.URL)
	e.mu.Unlock()
	done(nil)
}

func (e *instantEmitter) issued() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.urls...)
}

type countingNotifier struct {
	mu       sync.Mutex
	cycles   int
	pressure int
	modes    []models.ConnectionClass
}

func (n *countingNotifier) PredictionCycleCompleted(int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cycles++
}

func (n *countingNotifier) MemoryPressureHandled() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pressure++
}

func (n *countingNotifier) ConnectionModeChanged(class models.ConnectionClass) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.modes = append(n.modes, class)
}

func (n *countingNotifier) cycleCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.cycles
}

type memoryStore struct {
	mu       sync.Mutex
	sessions []database.Session
	outcomes []models.PrefetchRecord
	batches  []int
}

func (s *memoryStore) StartSession(ctx context.Context, sess database.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = append(s.sessions, sess)
	return nil
}

func (s *memoryStore) SaveOutcomes(ctx context.Context, session uuid.UUID, recs []models.PrefetchRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, recs...)
	s.batches = append(s.batches, len(recs))
	return nil
}

func (s *memoryStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.outcomes)
}

func device(memory float64, cores int, network string, downlink float64) *capability.StaticProbe {
	p := &capability.StaticProbe{Memory: &memory, Cores: &cores}
	p.SetNetwork(&capability.NetworkInfo{EffectiveType: network, DownlinkMbps: downlink})
	return p
}

func parkPage() *layout.Page {
	return &layout.Page{
		URL:      "http://park.test/",
		Viewport: 800,
		Elements: []layout.Element{{URL: "http://park.test/img/pool.jpg", Top: 1200}},
		NextPages: map[string]string{
			"rides": "http://park.test/rides",
		},
		Slideshow: layout.NewSlideshow([][]string{
			{"http://park.test/img/slide-0.jpg"},
			{"http://park.test/img/slide-1.jpg"},
			{"http://park.test/img/slide-2.jpg"},
		}, 0, true),
	}
}

func TestNewRequiresEmitter(t *testing.T) {
	_, err := New(Options{}, nil)
	assert.True(t, errors.Is(err, ErrNoEmitter))
}

func TestCycleIssuesAdjacentSlide(t *testing.T) {
	em := &instantEmitter{}
	e, err := New(Options{Probe: device(4, 4, "4g", 10), Emitter: em, Page: parkPage()}, nil)
	require.NoError(t, err)

	caps := e.Capabilities()
	assert.Equal(t, models.MidRange, caps.Tier)
	assert.Equal(t, models.Fast, caps.Connection)

	assert.Equal(t, 1, e.Cycle(context.Background()))
	assert.Equal(t, []string{"http://park.test/img/slide-1.jpg"}, em.issued())

	assert.Equal(t, 0, e.Cycle(context.Background()), "already prefetched")

	e.Record(models.ScrollSample{Y: 300})
	assert.Equal(t, 1, e.Cycle(context.Background()))
	assert.Equal(t, "http://park.test/img/pool.jpg", em.issued()[1])

	snap := e.Snapshot()
	assert.Equal(t, 2, snap.Stats.Done)
	assert.Len(t, snap.Records, 2)
}

func TestNetworkChangesPauseCarousel(t *testing.T) {
	em := &instantEmitter{}
	n := &countingNotifier{}
	page := parkPage()
	e, err := New(Options{Probe: device(8, 8, "wifi", 20), Emitter: em, Page: page, Notifier: n}, nil)
	require.NoError(t, err)

	assert.Equal(t, models.Slow, e.NetworkChanged(capability.NetworkInfo{EffectiveType: "2g", DownlinkMbps: 0.3}))
	assert.False(t, page.Slideshow.Playing())
	assert.Equal(t, 0, e.Cycle(context.Background()))
	assert.Empty(t, em.issued())
	assert.Equal(t, models.HighEnd, e.Capabilities().Tier, "tier survives network changes")

	assert.Equal(t, models.Fast, e.NetworkChanged(capability.NetworkInfo{EffectiveType: "4g", DownlinkMbps: 10}))
	assert.True(t, page.Slideshow.Playing())
	assert.Equal(t, 1, e.Cycle(context.Background()))

	n.mu.Lock()
	defer n.mu.Unlock()
	assert.Equal(t, []models.ConnectionClass{models.Slow, models.Fast}, n.modes)
}

func TestMemoryPressureClearsRecords(t *testing.T) {
	em := &instantEmitter{}
	n := &countingNotifier{}
	rec := metrics.New()
	e, err := New(Options{Probe: device(4, 4, "4g", 10), Emitter: em, Page: parkPage(), Notifier: n, Recorder: rec}, nil)
	require.NoError(t, err)

	e.Cycle(context.Background())
	relief := e.MemoryPressure()
	assert.Equal(t, 1, relief.RecordsCleared)
	assert.Empty(t, e.Scheduler().Records())

	n.mu.Lock()
	assert.Equal(t, 1, n.pressure)
	n.mu.Unlock()

	assert.Equal(t, 1, e.Cycle(context.Background()), "cleared records may be prefetched again")
}

func TestShowSlideMovesPrediction(t *testing.T) {
	em := &instantEmitter{}
	e, err := New(Options{Probe: device(4, 4, "4g", 10), Emitter: em, Page: parkPage()}, nil)
	require.NoError(t, err)

	e.ShowSlide(1)
	e.Cycle(context.Background())
	assert.Equal(t, []string{"http://park.test/img/slide-2.jpg"}, em.issued())
}

func TestRunPersistsOutcomes(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := &memoryStore{}
	e, err := New(Options{Probe: device(4, 4, "4g", 10), Emitter: &instantEmitter{}, Page: parkPage(), Store: store}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	require.Eventually(t, func() bool { return store.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.sessions, 1)
	assert.Equal(t, e.Session(), store.sessions[0].ID)
	assert.Equal(t, "http://park.test/", store.sessions[0].PageURL)
	assert.Equal(t, "http://park.test/img/slide-1.jpg", store.outcomes[0].URL)
}

func TestRunFlushesBufferedOutcomesInOneBatch(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := &memoryStore{}
	e, err := New(Options{Probe: device(4, 4, "4g", 10), Emitter: &instantEmitter{}, Page: parkPage(), Store: store}, nil)
	require.NoError(t, err)

	require.Equal(t, 1, e.Cycle(context.Background()))
	e.Record(models.ScrollSample{Y: 300})
	require.Equal(t, 1, e.Cycle(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, e.Run(ctx))

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Equal(t, []int{2}, store.batches)
	require.Len(t, store.outcomes, 2)
	assert.Equal(t, "http://park.test/img/slide-1.jpg", store.outcomes[0].URL)
	assert.Equal(t, "http://park.test/img/pool.jpg", store.outcomes[1].URL)
}

func TestIdleWakesEngine(t *testing.T) {
	defer goleak.VerifyNone(t)

	n := &countingNotifier{}
	e, err := New(Options{
		Probe:         device(1, 2, "4g", 10),
		Emitter:       &instantEmitter{},
		Notifier:      n,
		IdleThreshold: 30 * time.Millisecond,
	}, nil)
	require.NoError(t, err)
	require.Equal(t, models.LowEnd, e.Capabilities().Tier)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	// The low-end tick is seconds away; the second cycle comes from idleness.
	require.Eventually(t, func() bool { return n.cycleCount() >= 2 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}
