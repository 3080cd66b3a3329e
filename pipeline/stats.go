package pipeline

import (
	"sync"
	"time"
)

// Stats tracks performance metrics for the capture and inference stages
type Stats struct {
	mu             sync.Mutex
	lastReportTime time.Time

	// window counters, reset by Report
	captureCount    int64
	inferenceCount  int64
	readTimeTotal   time.Duration
	encodeTimeTotal time.Duration
	inferTimeTotal  time.Duration

	// lifetime counters
	totalCaptured   uint64
	totalReadFails  uint64
	totalCycleFails uint64
	totalInferences uint64
	totalThrottled  uint64
	totalInferFails uint64
}

// Report is a window summary produced by Stats.Report
type Report struct {
	Window       time.Duration
	CaptureFPS   float64
	InferenceFPS float64
	AvgRead      time.Duration
	AvgEncode    time.Duration
	AvgInference time.Duration
}

// Totals are lifetime counters, safe to expose over HTTP
type Totals struct {
	FramesCaptured  uint64 `json:"frames_captured"`
	ReadFailures    uint64 `json:"read_failures"`
	CycleFailures   uint64 `json:"cycle_failures"`
	Inferences      uint64 `json:"inferences"`
	Throttled       uint64 `json:"throttled"`
	InferenceErrors uint64 `json:"inference_errors"`
}

// NewStats creates a new pipeline statistics tracker
func NewStats() *Stats {
	return &Stats{lastReportTime: time.Now()}
}

// UpdateCapture records one captured and published frame
func (s *Stats) UpdateCapture(read, encode time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.captureCount++
	s.readTimeTotal += read
	s.encodeTimeTotal += encode
	s.totalCaptured++
}

// ReadFailed records a failed device read
func (s *Stats) ReadFailed() {
	s.mu.Lock()
	s.totalReadFails++
	s.mu.Unlock()
}

// CycleFailed records a capture cycle aborted after a successful read
func (s *Stats) CycleFailed() {
	s.mu.Lock()
	s.totalCycleFails++
	s.mu.Unlock()
}

// UpdateInference records one executed classification
func (s *Stats) UpdateInference(duration time.Duration, failed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inferenceCount++
	s.inferTimeTotal += duration
	s.totalInferences++
	if failed {
		s.totalInferFails++
	}
}

// Throttled records a sample discarded by the inference interval
func (s *Stats) Throttled() {
	s.mu.Lock()
	s.totalThrottled++
	s.mu.Unlock()
}

// Report returns rates and averages since the previous Report and resets the window
func (s *Stats) Report() Report {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	window := now.Sub(s.lastReportTime)
	seconds := window.Seconds()
	if seconds <= 0 {
		seconds = 1.0
	}

	r := Report{
		Window:       window,
		CaptureFPS:   float64(s.captureCount) / seconds,
		InferenceFPS: float64(s.inferenceCount) / seconds,
	}
	if s.captureCount > 0 {
		r.AvgRead = s.readTimeTotal / time.Duration(s.captureCount)
		r.AvgEncode = s.encodeTimeTotal / time.Duration(s.captureCount)
	}
	if s.inferenceCount > 0 {
		r.AvgInference = s.inferTimeTotal / time.Duration(s.inferenceCount)
	}

	s.captureCount = 0
	s.inferenceCount = 0
	s.readTimeTotal = 0
	s.encodeTimeTotal = 0
	s.inferTimeTotal = 0
	s.lastReportTime = now

	return r
}

// Totals returns the lifetime counters
func (s *Stats) Totals() Totals {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Totals{
		FramesCaptured:  s.totalCaptured,
		ReadFailures:    s.totalReadFails,
		CycleFailures:   s.totalCycleFails,
		Inferences:      s.totalInferences,
		Throttled:       s.totalThrottled,
		InferenceErrors: s.totalInferFails,
	}
}
