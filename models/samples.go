package models

import (
	"strings"
	"time"
)

// Sample is one recorded behaviour event. The concrete types are
// ScrollSample, ClickSample, HoverSample and VisibilitySample.
type Sample interface {
	Timestamp() time.Time
	sample()
}

type ScrollSample struct {
	Y  float64
	At time.Time
}

type ClickSample struct {
	X, Y   float64
	Target string
	Href   string
	At     time.Time
}

type HoverSample struct {
	X, Y float64
	At   time.Time
}

type VisibilitySample struct {
	Section string
	Visible bool
	At      time.Time
}

func (s ScrollSample) Timestamp() time.Time     { return s.At }
func (s ClickSample) Timestamp() time.Time      { return s.At }
func (s HoverSample) Timestamp() time.Time      { return s.At }
func (s VisibilitySample) Timestamp() time.Time { return s.At }

func (ScrollSample) sample()     {}
func (ClickSample) sample()      {}
func (HoverSample) sample()      {}
func (VisibilitySample) sample() {}

// Navigates reports whether the click carried a link to another page.
// In-page fragment links stay on the current document.
func (c ClickSample) Navigates() bool {
	href := strings.TrimSpace(c.Href)
	return href != "" && !strings.HasPrefix(href, "#")
}

type ScrollDirection int

const (
	ScrollDown ScrollDirection = iota
	ScrollUp
)

func (d ScrollDirection) String() string {
	if d == ScrollUp {
		return "up"
	}
	return "down"
}
