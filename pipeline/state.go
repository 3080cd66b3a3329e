// Package pipeline holds the state shared between the capture loop, the
// inference gate and the readers: two latest-wins cells, the bounded
// hand-off queue, component status flags and counters.
//
// All of it is created once in main before any goroutine starts and is
// passed by pointer; nothing here is a package-level variable.
package pipeline

import (
	"image"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"
)

// Sample is a classification input handed from capture to inference.
// The receiver owns Mat and must Close it.
type Sample struct {
	Mat        gocv.Mat
	Bounds     image.Rectangle // region location inside the mirrored frame
	Seq        uint64
	CapturedAt time.Time
}

// Close releases the sample's pixel buffer
func (s Sample) Close() {
	s.Mat.Close()
}

// Status reports component startup state, not live correctness
type Status struct {
	modelLoaded   atomic.Bool
	captureActive atomic.Bool
}

// SetModelLoaded records whether the classifier loaded at startup
func (s *Status) SetModelLoaded(v bool) { s.modelLoaded.Store(v) }

// ModelLoaded reports whether the classifier loaded at startup
func (s *Status) ModelLoaded() bool { return s.modelLoaded.Load() }

// SetCaptureActive records whether the capture device is open
func (s *Status) SetCaptureActive(v bool) { s.captureActive.Store(v) }

// CaptureActive reports whether the capture device is open
func (s *Status) CaptureActive() bool { return s.captureActive.Load() }

// State bundles everything the pipeline components share
type State struct {
	Frames *FrameCell
	Labels *LabelCell
	Queue  *FrameQueue[Sample]
	Status *Status
	Stats  *Stats
}

// NewState builds the shared state. initialLabel seeds the label cell,
// normally LabelUncertain or LabelModelUnavailable.
func NewState(queueSize int, initialLabel string) *State {
	return &State{
		Frames: NewFrameCell(),
		Labels: NewLabelCell(Reading{Label: initialLabel}),
		Queue:  NewFrameQueue[Sample](queueSize),
		Status: &Status{},
		Stats:  NewStats(),
	}
}
