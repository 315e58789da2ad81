// Package observer records visitor behaviour (scrolls, clicks, hovers and
// section visibility) as bounded histories used for prediction.
package observer

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"smart-prefetch/models"
)

const (
	MaxScrollSamples = 50
	MaxHoverSamples  = 50
	MaxClickSamples  = 20
)

// Interaction kinds that only count towards idle detection.
const (
	InteractionKeypress = "keypress"
	InteractionTouch    = "touch"
)

type Observer struct {
	logger *zap.Logger
	now    func() time.Time

	mu           sync.Mutex
	scrolls      *ring[models.ScrollSample]
	hovers       *ring[models.HoverSample]
	clicks       *ring[models.ClickSample]
	dwell        map[string]time.Duration
	visibleSince map[string]time.Time
	direction    models.ScrollDirection
	idle         map[int]*idleWatch
	nextWatch    int
}

type idleWatch struct {
	threshold time.Duration
	callback  func()
	timer     *time.Timer
}

func New(logger *zap.Logger) *Observer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Observer{
		logger:       logger,
		now:          time.Now,
		scrolls:      newRing[models.ScrollSample](MaxScrollSamples),
		hovers:       newRing[models.HoverSample](MaxHoverSamples),
		clicks:       newRing[models.ClickSample](MaxClickSamples),
		dwell:        make(map[string]time.Duration),
		visibleSince: make(map[string]time.Time),
		idle:         make(map[int]*idleWatch),
	}
}

func (o *Observer) stamp(at time.Time) time.Time {
	if at.IsZero() {
		return o.now()
	}
	return at
}

func (o *Observer) RecordScroll(y float64, at time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if prev, ok := o.scrolls.newest(); ok {
		if y > prev.Y {
			o.direction = models.ScrollDown
		} else {
			o.direction = models.ScrollUp
		}
	}
	o.scrolls.push(models.ScrollSample{Y: y, At: o.stamp(at)})
	o.touchLocked()
}

func (o *Observer) RecordClick(c models.ClickSample) {
	o.mu.Lock()
	defer o.mu.Unlock()

	c.At = o.stamp(c.At)
	o.clicks.push(c)
	o.touchLocked()
}

func (o *Observer) RecordHover(x, y float64, at time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.hovers.push(models.HoverSample{X: x, Y: y, At: o.stamp(at)})
}

// RecordSectionVisibility accumulates dwell time for a section: the span
// between becoming visible and losing visibility is added to its total.
func (o *Observer) RecordSectionVisibility(section string, visible bool, at time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()

	at = o.stamp(at)
	if visible {
		if _, ok := o.dwell[section]; !ok {
			o.dwell[section] = 0
		}
		if _, already := o.visibleSince[section]; !already {
			o.visibleSince[section] = at
		}
		return
	}

	since, ok := o.visibleSince[section]
	if !ok {
		return
	}
	delete(o.visibleSince, section)
	if span := at.Sub(since); span > 0 {
		o.dwell[section] += span
	}
}

// Record applies any sample variant.
func (o *Observer) Record(s models.Sample) {
	switch v := s.(type) {
	case models.ScrollSample:
		o.RecordScroll(v.Y, v.At)
	case models.ClickSample:
		o.RecordClick(v)
	case models.HoverSample:
		o.RecordHover(v.X, v.Y, v.At)
	case models.VisibilitySample:
		o.RecordSectionVisibility(v.Section, v.Visible, v.At)
	}
}

// RecordInteraction notes keypresses and touches; they only reset idle timers.
func (o *Observer) RecordInteraction(kind string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.logger.Debug("Interaction recorded", zap.String("kind", kind))
	o.touchLocked()
}

// ScrollDirection is down until two scroll samples disagree.
func (o *Observer) ScrollDirection() models.ScrollDirection {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.direction
}

func (o *Observer) ScrollY() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, _ := o.scrolls.newest()
	return s.Y
}

func (o *Observer) HasScrolled() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.scrolls.len() > 0
}

// RecentClicks returns up to n of the latest clicks in chronological order.
func (o *Observer) RecentClicks(n int) []models.ClickSample {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.clicks.last(n)
}

func (o *Observer) RecentScrolls(n int) []models.ScrollSample {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.scrolls.last(n)
}

func (o *Observer) RecentHovers(n int) []models.HoverSample {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.hovers.last(n)
}

// DwellTimes returns a copy of the accumulated dwell per section. Sections
// that are currently visible only count completed spans.
func (o *Observer) DwellTimes() map[string]time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string]time.Duration, len(o.dwell))
	for k, v := range o.dwell {
		out[k] = v
	}
	return out
}

// OnIdle calls callback once threshold passes without any recorded
// interaction. The watch rearms on the next interaction. The returned
// func stops the watch.
func (o *Observer) OnIdle(threshold time.Duration, callback func()) (cancel func()) {
	o.mu.Lock()
	defer o.mu.Unlock()

	id := o.nextWatch
	o.nextWatch++
	w := &idleWatch{threshold: threshold, callback: callback}
	w.timer = time.AfterFunc(threshold, callback)
	o.idle[id] = w

	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		if w, ok := o.idle[id]; ok {
			w.timer.Stop()
			delete(o.idle, id)
		}
	}
}

func (o *Observer) touchLocked() {
	for _, w := range o.idle {
		w.timer.Stop()
		w.timer.Reset(w.threshold)
	}
}
