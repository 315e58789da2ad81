// Package predictor ranks the resources a visitor is likely to need next.
package predictor

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"smart-prefetch/layout"
	"smart-prefetch/models"
	"smart-prefetch/utils"
)

const (
	DefaultLimit = 10

	// Only the most recent navigation clicks vote on the next page.
	navigationWindow = 5

	// Asks for the whole click history; the observer bounds it.
	observerClickCap = 1 << 10
)

// Behavior is the read side of the observer.
type Behavior interface {
	ScrollDirection() models.ScrollDirection
	ScrollY() float64
	HasScrolled() bool
	RecentClicks(n int) []models.ClickSample
	DwellTimes() map[string]time.Duration
}

// History reports the prefetch state already known for a URL.
type History interface {
	State(url string) (models.PrefetchState, bool)
}

type Carousel interface {
	CurrentIndex() int
	SlideCount() int
	ResourcesForSlide(index int) []string
}

type Layout interface {
	ViewportHeight() float64
	Images() []layout.Element
}

type Predictor struct {
	Limit     int
	Carousel  Carousel
	Layout    Layout
	NextPages map[string]string

	// BaseURL resolves relative targets so every rule names a page the same way.
	BaseURL string

	logger *zap.Logger
}

func New(logger *zap.Logger) *Predictor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Predictor{Limit: DefaultLimit, logger: logger}
}

// ForPage wires the page's carousel, image layout and section links.
func ForPage(page *layout.Page, logger *zap.Logger) *Predictor {
	p := New(logger)
	if page == nil {
		return p
	}
	p.BaseURL = page.URL
	p.Layout = page
	p.NextPages = page.NextPages
	if page.Slideshow != nil {
		p.Carousel = page.Slideshow
	}
	return p
}

type collector struct {
	base    string
	history History
	seen    map[string]bool
	out     []models.PredictionCandidate
	limit   int
}

// resolve returns the absolute, normalized form of rawURL, or "" when it
// is not something a prefetch can fetch.
func (c *collector) resolve(rawURL string) string {
	abs := utils.MakeAbsoluteURL(c.base, rawURL)
	if !utils.IsValidURL(abs) {
		return ""
	}
	return utils.NormalizeURL(abs)
}

// add keeps the first candidate per URL and drops anything already
// fetched or in flight.
func (c *collector) add(rawURL string, t models.ResourceType, p models.Priority, reason models.Reason) {
	rawURL = c.resolve(rawURL)
	if rawURL == "" || len(c.out) >= c.limit || c.seen[rawURL] {
		return
	}
	c.seen[rawURL] = true
	if c.history != nil {
		if state, ok := c.history.State(rawURL); ok && (state == models.StateDone || state == models.StateInFlight) {
			return
		}
	}
	c.out = append(c.out, models.PredictionCandidate{URL: rawURL, Type: t, Priority: p, Reason: reason})
}

func (c *collector) full() bool { return len(c.out) >= c.limit }

// Predict runs the rules in order. The result is deterministic for the same
// inputs and holds at most Limit candidates.
func (p *Predictor) Predict(b Behavior, tier models.DeviceTier, conn models.ConnectionClass, history History) []models.PredictionCandidate {
	limit := p.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if conn == models.Offline || b == nil {
		return nil
	}

	c := &collector{base: p.BaseURL, history: history, seen: make(map[string]bool), limit: limit}

	p.adjacentSlide(c, b)
	if !c.full() {
		p.navigationIntent(c, b)
	}
	if tier != models.LowEnd {
		if !c.full() {
			p.upcomingViewport(c, b)
		}
		if !c.full() {
			p.userPreference(c, b)
		}
	}

	p.logger.Debug("Prediction cycle",
		zap.Int("candidates", len(c.out)),
		zap.Stringer("tier", tier),
		zap.Stringer("connection", conn))

	return c.out
}

func (p *Predictor) adjacentSlide(c *collector, b Behavior) {
	if p.Carousel == nil {
		return
	}
	count := p.Carousel.SlideCount()
	if count < 2 {
		return
	}
	step := 1
	if b.ScrollDirection() == models.ScrollUp {
		step = -1
	}
	next := ((p.Carousel.CurrentIndex()+step)%count + count) % count
	for _, u := range p.Carousel.ResourcesForSlide(next) {
		c.add(u, utils.GuessResourceType(u), models.PriorityHigh, models.ReasonNextSlide)
	}
}

// navigationIntent predicts the most frequent target among the last
// navigation clicks; ties go to the one clicked most recently.
func (p *Predictor) navigationIntent(c *collector, b Behavior) {
	clicks := b.RecentClicks(observerClickCap)
	var targets []string
	for i := len(clicks) - 1; i >= 0 && len(targets) < navigationWindow; i-- {
		if !clicks[i].Navigates() {
			continue
		}
		if target := c.resolve(clicks[i].Href); target != "" {
			targets = append(targets, target)
		}
	}
	if len(targets) == 0 {
		return
	}

	// targets is newest first, so the first index seen is the latest occurrence.
	counts := make(map[string]int)
	latest := make(map[string]int)
	for i, t := range targets {
		counts[t]++
		if _, ok := latest[t]; !ok {
			latest[t] = i
		}
	}

	best := ""
	for t, n := range counts {
		if best == "" || n > counts[best] || (n == counts[best] && latest[t] < latest[best]) {
			best = t
		}
	}
	c.add(best, models.ResourceDocument, models.PriorityMedium, models.ReasonNavigation)
}

func (p *Predictor) upcomingViewport(c *collector, b Behavior) {
	if p.Layout == nil || !b.HasScrolled() {
		return
	}
	vh := p.Layout.ViewportHeight()
	if vh <= 0 {
		return
	}
	y := b.ScrollY()

	images := append([]layout.Element(nil), p.Layout.Images()...)
	sort.SliceStable(images, func(i, j int) bool { return images[i].Top < images[j].Top })
	for _, el := range images {
		rel := el.Top - y
		if rel > vh && rel <= 2*vh {
			c.add(el.URL, models.ResourceImage, models.PriorityLow, models.ReasonUpcomingView)
		}
	}
}

func (p *Predictor) userPreference(c *collector, b Behavior) {
	dwell := b.DwellTimes()
	if len(dwell) == 0 || len(p.NextPages) == 0 {
		return
	}

	best := ""
	for section, d := range dwell {
		if best == "" || d > dwell[best] || (d == dwell[best] && section < best) {
			best = section
		}
	}
	if next, ok := p.NextPages[best]; ok {
		c.add(next, utils.GuessResourceType(next), models.PriorityLow, models.ReasonUserPreference)
	}
}
