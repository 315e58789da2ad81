package layout

import "sync"

// Slideshow tracks which slide of a carousel is showing. It can be paused
// while the connection is constrained.
type Slideshow struct {
	mu       sync.Mutex
	slides   [][]string
	current  int
	autoplay bool
	paused   bool
}

func NewSlideshow(slides [][]string, current int, autoplay bool) *Slideshow {
	if current < 0 || current >= len(slides) {
		current = 0
	}
	return &Slideshow{slides: slides, current: current, autoplay: autoplay}
}

func (s *Slideshow) CurrentIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Slideshow) SlideCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slides)
}

func (s *Slideshow) ResourcesForSlide(index int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.slides) {
		return nil
	}
	return append([]string(nil), s.slides[index]...)
}

// Show moves to index, wrapping around the slide count.
func (s *Slideshow) Show(index int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.slides) == 0 {
		return
	}
	s.current = ((index % len(s.slides)) + len(s.slides)) % len(s.slides)
}

// Advance moves one slide forward when autoplay is running.
func (s *Slideshow) Advance() {
	if !s.Playing() {
		return
	}
	s.Show(s.CurrentIndex() + 1)
}

func (s *Slideshow) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = true
}

func (s *Slideshow) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = false
}

func (s *Slideshow) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.autoplay && !s.paused
}
