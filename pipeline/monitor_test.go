package pipeline

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

type stepClock struct{ t time.Time }

func (c *stepClock) now() time.Time { return c.t }

func newTestMonitor(st *State) (*HealthMonitor, *stepClock) {
	clock := &stepClock{t: time.Now()}
	m := NewHealthMonitor(st, 2*time.Second, 10*time.Second, zerolog.Nop())
	m.now = clock.now
	m.started = clock.t
	m.lastFrameUpdate = clock.t
	return m, clock
}

func TestHealthMonitorCaptureInactive(t *testing.T) {
	st := NewState(1, LabelUncertain)
	m, _ := newTestMonitor(st)

	h := m.Check()
	assert.False(t, h.Healthy)
	assert.Equal(t, "capture inactive", h.Reason)
	assert.Equal(t, h, m.Health())
}

func TestHealthMonitorFrameProgress(t *testing.T) {
	st := NewState(1, LabelUncertain)
	st.Status.SetCaptureActive(true)
	m, clock := newTestMonitor(st)

	st.Frames.Store(EncodedFrame{Seq: 1})
	assert.True(t, m.Check().Healthy)

	clock.t = clock.t.Add(time.Second)
	st.Frames.Store(EncodedFrame{Seq: 2})
	assert.True(t, m.Check().Healthy)

	// sequence stuck at 2
	clock.t = clock.t.Add(3 * time.Second)
	h := m.Check()
	assert.False(t, h.Healthy)
	assert.Contains(t, h.Reason, "no frame progress")

	st.Frames.Store(EncodedFrame{Seq: 3})
	assert.True(t, m.Check().Healthy)
}

func TestHealthMonitorStaleLabel(t *testing.T) {
	st := NewState(1, LabelUncertain)
	st.Status.SetCaptureActive(true)
	st.Status.SetModelLoaded(true)
	m, clock := newTestMonitor(st)

	st.Labels.Store(Reading{Label: "Green", Confidence: 0.9, UpdatedAt: clock.t})
	for seq := uint64(1); seq <= 12; seq++ {
		clock.t = clock.t.Add(time.Second)
		st.Frames.Store(EncodedFrame{Seq: seq})
		m.Check()
	}

	h := m.Health()
	assert.False(t, h.Healthy)
	assert.Contains(t, h.Reason, "no classification")
}

func TestHealthMonitorDemoFramesWithoutCamera(t *testing.T) {
	st := NewState(1, LabelUncertain)
	m, clock := newTestMonitor(st)

	for seq := uint64(1); seq <= 3; seq++ {
		clock.t = clock.t.Add(time.Second)
		st.Frames.Store(EncodedFrame{Seq: seq})
		assert.True(t, m.Check().Healthy, "synthetic frames advance without an active camera")
	}

	clock.t = clock.t.Add(3 * time.Second)
	h := m.Check()
	assert.False(t, h.Healthy)
	assert.Contains(t, h.Reason, "no frame progress")
}
