package detection

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"hueeye/pipeline"
)

type scriptedClassifier struct {
	mu      sync.Mutex
	results []Result
	err     error
	panics  bool
	calls   []time.Time
}

func (s *scriptedClassifier) Classify(gocv.Mat) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, time.Now())
	if s.panics {
		panic("tensor shape mismatch")
	}
	if s.err != nil {
		return Result{}, s.err
	}
	if len(s.results) == 0 {
		return Result{Label: pipeline.LabelUncertain}, nil
	}
	r := s.results[0]
	if len(s.results) > 1 {
		s.results = s.results[1:]
	}
	return r, nil
}

func (s *scriptedClassifier) ExpectedInputShape() InputShape { return InputShape{Width: 64, Height: 64, Channels: 3} }
func (s *scriptedClassifier) ExpectsGrayscale() bool { return false }

func (s *scriptedClassifier) callTimes() []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Time(nil), s.calls...)
}

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newSample(seq uint64) pipeline.Sample {
	return pipeline.Sample{Mat: gocv.NewMatWithSize(8, 8, gocv.MatTypeCV8UC3), Seq: seq}
}

func newTestGate(c Classifier, interval time.Duration) (*Gate, *pipeline.State, *fakeClock) {
	st := pipeline.NewState(1, pipeline.LabelUncertain)
	g := NewGate(c, st, GateOptions{Interval: interval, QueueWait: 20 * time.Millisecond})
	clock := &fakeClock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	g.now = clock.now
	return g, st, clock
}

func TestGatePublishesResult(t *testing.T) {
	c := &scriptedClassifier{results: []Result{{Label: "Green", Confidence: 0.92}}}
	g, st, _ := newTestGate(c, 500*time.Millisecond)

	assert.True(t, g.Handle(newSample(1)))

	r := st.Labels.Load()
	assert.Equal(t, "Green", r.Label)
	assert.Equal(t, 0.92, r.Confidence)
}

func TestGateThrottlesWithinInterval(t *testing.T) {
	c := &scriptedClassifier{results: []Result{
		{Label: "Green", Confidence: 0.92},
		{Label: "red", Confidence: 0.81},
	}}
	g, st, clock := newTestGate(c, 500*time.Millisecond)

	assert.True(t, g.Handle(newSample(1)))

	clock.advance(200 * time.Millisecond)
	assert.False(t, g.Handle(newSample(2)), "second sample inside the interval is discarded")
	assert.Equal(t, "Green", st.Labels.Load().Label, "label stays stale between intervals")

	clock.advance(300 * time.Millisecond)
	assert.True(t, g.Handle(newSample(3)))
	assert.Equal(t, "red", st.Labels.Load().Label)

	assert.Len(t, c.callTimes(), 2)
	assert.Equal(t, uint64(1), st.Stats.Totals().Throttled)
	assert.Equal(t, uint64(2), st.Stats.Totals().Inferences)
}

func TestGateErrorYieldsErrorLabel(t *testing.T) {
	c := &scriptedClassifier{err: errors.New("forward pass failed")}
	g, st, clock := newTestGate(c, 0)

	st.Labels.Store(pipeline.Reading{Label: "Blue", Confidence: 0.9})
	assert.True(t, g.Handle(newSample(1)))

	r := st.Labels.Load()
	assert.Equal(t, pipeline.LabelError, r.Label)
	assert.Zero(t, r.Confidence)
	assert.Equal(t, uint64(1), st.Stats.Totals().InferenceErrors)

	// next cycle proceeds normally
	c.err = nil
	c.results = []Result{{Label: "yellow", Confidence: 0.75}}
	clock.advance(time.Second)
	assert.True(t, g.Handle(newSample(2)))
	assert.Equal(t, "yellow", st.Labels.Load().Label)
}

func TestGateRecoversFromPanic(t *testing.T) {
	c := &scriptedClassifier{panics: true}
	g, st, _ := newTestGate(c, 0)

	assert.NotPanics(t, func() { g.Handle(newSample(1)) })
	assert.Equal(t, pipeline.LabelError, st.Labels.Load().Label)
	assert.Zero(t, st.Labels.Load().Confidence)
}

func TestGateModelUnavailable(t *testing.T) {
	g, st, clock := newTestGate(UnavailableClassifier{}, 0)

	for i := uint64(1); i <= 3; i++ {
		g.Handle(newSample(i))
		assert.Equal(t, pipeline.LabelModelUnavailable, st.Labels.Load().Label)
		clock.advance(time.Second)
	}
}

func TestGateRunRespectsInterval(t *testing.T) {
	c := &scriptedClassifier{results: []Result{{Label: "Green", Confidence: 0.92}}}
	st := pipeline.NewState(1, pipeline.LabelUncertain)
	interval := 60 * time.Millisecond
	g := NewGate(c, st, GateOptions{Interval: interval, QueueWait: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- g.Run(ctx) }()

	// producer offers far faster than the interval
	deadline := time.Now().Add(400 * time.Millisecond)
	var seq uint64
	for time.Now().Before(deadline) {
		seq++
		s := newSample(seq)
		if !st.Queue.Offer(s) {
			s.Close()
		}
		time.Sleep(2 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("gate did not stop after cancel")
	}

	calls := c.callTimes()
	require.GreaterOrEqual(t, len(calls), 2)
	for i := 1; i < len(calls); i++ {
		// gate compares its own clock; allow scheduler jitter on the classifier side
		assert.GreaterOrEqual(t, calls[i].Sub(calls[i-1]), interval-5*time.Millisecond)
	}
	assert.Equal(t, "Green", st.Labels.Load().Label)
}

func TestGateRunIdleQueueIsNotAnError(t *testing.T) {
	c := &scriptedClassifier{}
	st := pipeline.NewState(1, pipeline.LabelUncertain)
	g := NewGate(c, st, GateOptions{Interval: time.Millisecond, QueueWait: 5 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := g.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, c.callTimes())
	assert.Equal(t, pipeline.LabelUncertain, st.Labels.Load().Label)
}
