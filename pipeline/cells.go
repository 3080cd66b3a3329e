package pipeline

import (
	"sync"
	"time"
)

// Reserved labels reported alongside the model's own class names
const (
	LabelUncertain        = "uncertain"
	LabelError            = "error"
	LabelModelUnavailable = "model unavailable"
)

// EncodedFrame is a JPEG-compressed annotated frame. Data is never mutated
// after the frame has been stored in a FrameCell.
type EncodedFrame struct {
	Data       []byte
	Seq        uint64
	CapturedAt time.Time
}

// FrameCell holds the most recent encoded frame. Writes replace, reads copy
// the struct; the byte slice itself is shared read-only.
type FrameCell struct {
	mu     sync.Mutex
	frame  EncodedFrame
	stored bool
}

// NewFrameCell creates an empty frame cell
func NewFrameCell() *FrameCell {
	return &FrameCell{}
}

// Store replaces the current frame
func (c *FrameCell) Store(frame EncodedFrame) {
	c.mu.Lock()
	c.frame = frame
	c.stored = true
	c.mu.Unlock()
}

// Load returns the current frame and false if nothing was ever stored
func (c *FrameCell) Load() (EncodedFrame, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frame, c.stored
}

// Reading is a (label, confidence) pair as last published by the inference gate
type Reading struct {
	Label      string
	Confidence float64
	UpdatedAt  time.Time
}

// LabelCell holds the most recent classification. Watchers get a channel
// that is closed on the next Store.
type LabelCell struct {
	mu      sync.Mutex
	reading Reading
	changed chan struct{}
}

// NewLabelCell creates a label cell seeded with an initial reading
func NewLabelCell(initial Reading) *LabelCell {
	if initial.UpdatedAt.IsZero() {
		initial.UpdatedAt = time.Now()
	}
	return &LabelCell{
		reading: initial,
		changed: make(chan struct{}),
	}
}

// Store replaces the current reading and wakes every watcher
func (c *LabelCell) Store(r Reading) {
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = time.Now()
	}
	c.mu.Lock()
	c.reading = r
	close(c.changed)
	c.changed = make(chan struct{})
	c.mu.Unlock()
}

// Load returns the current reading. It never blocks on writers beyond the swap.
func (c *LabelCell) Load() Reading {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reading
}

// Watch returns the current reading and a channel closed on the next Store
func (c *LabelCell) Watch() (Reading, <-chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reading, c.changed
}
