// Package replay plays recorded visitor sessions against the engine.
//
// A script is a YAML document with a list of steps. Each step performs
// exactly one action:
//
//	name: splash park visit
//	steps:
//	  - scroll: 300
//	  - visible: {section: rides, visible: true}
//	  - wait: 2s
//	  - click: {x: 10, y: 20, target: a, href: /rides}
//	  - network: {type: 2g, downlink: 0.3}
//	  - memory_pressure: true
package replay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"smart-prefetch/capability"
	"smart-prefetch/models"
	"smart-prefetch/scheduler"
)

var ErrInvalidStep = errors.New("invalid replay step")

// Target receives the replayed events; *engine.Engine implements it.
type Target interface {
	Record(s models.Sample)
	RecordInteraction(kind string)
	NetworkChanged(info capability.NetworkInfo) models.ConnectionClass
	MemoryPressure() scheduler.MemoryRelief
	ShowSlide(index int)
}

type Script struct {
	Name  string `yaml:"name"`
	Steps []Step `yaml:"steps"`
}

type Point struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
}

type Click struct {
	X      float64 `yaml:"x"`
	Y      float64 `yaml:"y"`
	Target string  `yaml:"target"`
	Href   string  `yaml:"href"`
}

type Visibility struct {
	Section string `yaml:"section"`
	Visible bool   `yaml:"visible"`
}

type Network struct {
	Type     string  `yaml:"type"`
	Downlink float64 `yaml:"downlink"`
}

type Step struct {
	Scroll         *float64       `yaml:"scroll,omitempty"`
	Click          *Click         `yaml:"click,omitempty"`
	Hover          *Point         `yaml:"hover,omitempty"`
	Visible        *Visibility    `yaml:"visible,omitempty"`
	Interaction    string         `yaml:"interaction,omitempty"`
	Network        *Network       `yaml:"network,omitempty"`
	MemoryPressure bool           `yaml:"memory_pressure,omitempty"`
	Slide          *int           `yaml:"slide,omitempty"`
	Wait           *time.Duration `yaml:"wait,omitempty"`
}

func (s Step) actions() int {
	n := 0
	for _, set := range []bool{
		s.Scroll != nil, s.Click != nil, s.Hover != nil, s.Visible != nil,
		s.Interaction != "", s.Network != nil, s.MemoryPressure, s.Slide != nil, s.Wait != nil,
	} {
		if set {
			n++
		}
	}
	return n
}

func (s *Script) Validate() error {
	for i, step := range s.Steps {
		if n := step.actions(); n != 1 {
			return fmt.Errorf("%w: step %d has %d actions", ErrInvalidStep, i+1, n)
		}
		if step.Wait != nil && *step.Wait < 0 {
			return fmt.Errorf("%w: step %d waits a negative duration", ErrInvalidStep, i+1)
		}
		if step.Visible != nil && step.Visible.Section == "" {
			return fmt.Errorf("%w: step %d has no section", ErrInvalidStep, i+1)
		}
	}
	return nil
}

// Parse decodes a script, rejecting unknown fields.
func Parse(r io.Reader) (*Script, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}

	var s Script
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to decode script: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func Load(path string) (*Script, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open script: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

type Player struct {
	Target Target
	Logger *zap.Logger
	// Speed divides every wait; values <= 0 play in real time.
	Speed float64
}

// Play applies the steps in order. It stops early when ctx is done.
func (p *Player) Play(ctx context.Context, s *Script) error {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("Replaying session", zap.String("name", s.Name), zap.Int("steps", len(s.Steps)))

	for i, step := range s.Steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if step.Wait != nil {
			if err := p.wait(ctx, *step.Wait); err != nil {
				return err
			}
			continue
		}
		p.apply(step, logger)
		logger.Debug("Replay step applied", zap.Int("step", i+1))
	}
	return nil
}

func (p *Player) apply(step Step, logger *zap.Logger) {
	switch {
	case step.Scroll != nil:
		p.Target.Record(models.ScrollSample{Y: *step.Scroll})
	case step.Click != nil:
		c := step.Click
		p.Target.Record(models.ClickSample{X: c.X, Y: c.Y, Target: c.Target, Href: c.Href})
	case step.Hover != nil:
		p.Target.Record(models.HoverSample{X: step.Hover.X, Y: step.Hover.Y})
	case step.Visible != nil:
		p.Target.Record(models.VisibilitySample{Section: step.Visible.Section, Visible: step.Visible.Visible})
	case step.Interaction != "":
		p.Target.RecordInteraction(step.Interaction)
	case step.Network != nil:
		class := p.Target.NetworkChanged(capability.NetworkInfo{EffectiveType: step.Network.Type, DownlinkMbps: step.Network.Downlink})
		logger.Info("Replayed network change", zap.String("type", step.Network.Type), zap.Stringer("connection", class))
	case step.MemoryPressure:
		relief := p.Target.MemoryPressure()
		logger.Info("Replayed memory pressure", zap.Int("records_cleared", relief.RecordsCleared))
	case step.Slide != nil:
		p.Target.ShowSlide(*step.Slide)
	}
}

func (p *Player) wait(ctx context.Context, d time.Duration) error {
	if p.Speed > 0 {
		d = time.Duration(float64(d) / p.Speed)
	}
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
