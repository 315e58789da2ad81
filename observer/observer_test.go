package observer

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smart-prefetch/models"
)

var t0 = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func TestScrollDirection(t *testing.T) {
	o := New(nil)
	assert.Equal(t, models.ScrollDown, o.ScrollDirection(), "no samples")

	o.RecordScroll(100, t0)
	assert.Equal(t, models.ScrollDown, o.ScrollDirection(), "single sample")

	steps := []struct {
		y    float64
		want models.ScrollDirection
	}{
		{300, models.ScrollDown},
		{200, models.ScrollUp},
		{200, models.ScrollUp},
		{201, models.ScrollDown},
		{0, models.ScrollUp},
	}
	for i, s := range steps {
		o.RecordScroll(s.y, t0.Add(time.Duration(i+1)*time.Second))
		assert.Equal(t, s.want, o.ScrollDirection(), "step %d (y=%v)", i, s.y)
	}
	assert.Equal(t, 0.0, o.ScrollY())
	assert.True(t, o.HasScrolled())
}

func TestClickHistoryIsBounded(t *testing.T) {
	o := New(nil)
	for i := 0; i < 1000; i++ {
		o.RecordClick(models.ClickSample{X: float64(i), Href: fmt.Sprintf("/p/%d", i), At: t0.Add(time.Duration(i) * time.Millisecond)})
	}

	clicks := o.RecentClicks(20)
	require.Len(t, clicks, 20)
	for i, c := range clicks {
		assert.Equal(t, float64(980+i), c.X)
	}
	assert.Len(t, o.RecentClicks(100), MaxClickSamples)
	assert.Equal(t, []models.ClickSample{clicks[17], clicks[18], clicks[19]}, o.RecentClicks(3))
}

func TestScrollAndHoverHistoryAreBounded(t *testing.T) {
	o := New(nil)
	for i := 0; i < 120; i++ {
		o.RecordScroll(float64(i), t0)
		o.RecordHover(float64(i), 0, t0)
	}
	scrolls := o.RecentScrolls(MaxScrollSamples + 10)
	require.Len(t, scrolls, MaxScrollSamples)
	assert.Equal(t, 70.0, scrolls[0].Y)
	assert.Equal(t, 119.0, scrolls[len(scrolls)-1].Y)
	assert.Len(t, o.RecentHovers(1000), MaxHoverSamples)
}

func TestRecordStampsMissingTimestamps(t *testing.T) {
	o := New(nil)
	o.now = func() time.Time { return t0 }

	o.RecordClick(models.ClickSample{Href: "/a"})
	assert.Equal(t, t0, o.RecentClicks(1)[0].At)
}

func TestDwellAccumulates(t *testing.T) {
	o := New(nil)

	o.RecordSectionVisibility("hero", true, t0)
	assert.Equal(t, map[string]time.Duration{"hero": 0}, o.DwellTimes())

	o.RecordSectionVisibility("hero", false, t0.Add(3*time.Second))
	o.RecordSectionVisibility("park", true, t0.Add(3*time.Second))
	o.RecordSectionVisibility("hero", true, t0.Add(10*time.Second))
	o.RecordSectionVisibility("hero", false, t0.Add(12*time.Second))
	// A hide without a preceding show is ignored.
	o.RecordSectionVisibility("drinks", false, t0.Add(12*time.Second))

	dwell := o.DwellTimes()
	assert.Equal(t, 5*time.Second, dwell["hero"])
	assert.Equal(t, time.Duration(0), dwell["park"])
	_, ok := dwell["drinks"]
	assert.False(t, ok)
}

func TestRecordDispatchesVariants(t *testing.T) {
	o := New(nil)
	samples := []models.Sample{
		models.ScrollSample{Y: 10, At: t0},
		models.ClickSample{Href: "/a", At: t0},
		models.HoverSample{X: 1, Y: 2, At: t0},
		models.VisibilitySample{Section: "hero", Visible: true, At: t0},
		models.VisibilitySample{Section: "hero", Visible: false, At: t0.Add(time.Second)},
	}
	for _, s := range samples {
		o.Record(s)
	}

	assert.Equal(t, 10.0, o.ScrollY())
	assert.Len(t, o.RecentClicks(5), 1)
	assert.Len(t, o.RecentHovers(5), 1)
	assert.Equal(t, time.Second, o.DwellTimes()["hero"])
}

func TestOnIdleFiresAndRearms(t *testing.T) {
	o := New(nil)
	var fired atomic.Int32
	cancel := o.OnIdle(30*time.Millisecond, func() { fired.Add(1) })
	defer cancel()

	require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 5*time.Millisecond)

	// Fires once per idle period.
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(1), fired.Load())

	o.RecordInteraction(InteractionKeypress)
	require.Eventually(t, func() bool { return fired.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestOnIdleResetsOnInteraction(t *testing.T) {
	o := New(nil)
	var fired atomic.Int32
	cancel := o.OnIdle(80*time.Millisecond, func() { fired.Add(1) })
	defer cancel()

	for i := 0; i < 5; i++ {
		time.Sleep(30 * time.Millisecond)
		o.RecordScroll(float64(i), time.Time{})
	}
	assert.Equal(t, int32(0), fired.Load())

	require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestOnIdleCancel(t *testing.T) {
	o := New(nil)
	var fired atomic.Int32
	cancel := o.OnIdle(20*time.Millisecond, func() { fired.Add(1) })
	cancel()

	time.Sleep(50 * time.Millisecond)
	o.RecordInteraction(InteractionTouch)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())
}
