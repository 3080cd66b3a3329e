package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// HealthMonitor watches the shared cells for progress. A frame cell whose
// sequence stops advancing or a label cell that stops being refreshed marks
// the pipeline stalled. It never restarts anything; it reports.
type HealthMonitor struct {
	state        *State
	frameTimeout time.Duration
	labelTimeout time.Duration
	interval     time.Duration
	log          zerolog.Logger
	now          func() time.Time

	mu              sync.RWMutex
	started         time.Time
	lastSeq         uint64
	lastFrameUpdate time.Time
	healthy         bool
	reason          string
}

// Health is a point-in-time monitor verdict
type Health struct {
	Healthy bool   `json:"healthy"`
	Reason  string `json:"reason,omitempty"`
}

// NewHealthMonitor creates a monitor. frameTimeout bounds the time without a
// new frame, labelTimeout the time without a new classification.
func NewHealthMonitor(state *State, frameTimeout, labelTimeout time.Duration, log zerolog.Logger) *HealthMonitor {
	now := time.Now()
	return &HealthMonitor{
		state:           state,
		frameTimeout:    frameTimeout,
		labelTimeout:    labelTimeout,
		interval:        5 * time.Second,
		log:             log,
		now:             time.Now,
		started:         now,
		lastFrameUpdate: now,
		healthy:         true,
	}
}

// Check samples the cells once and returns the verdict
func (m *HealthMonitor) Check() Health {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	frame, stored := m.state.Frames.Load()
	if stored && frame.Seq != m.lastSeq {
		m.lastSeq = frame.Seq
		m.lastFrameUpdate = now
	}

	// A source without a camera (demo frames) still publishes; only an
	// inactive camera with nothing ever stored means no source is running.
	m.healthy, m.reason = true, ""
	switch {
	case !m.state.Status.CaptureActive() && !stored:
		m.healthy, m.reason = false, "capture inactive"
	case now.Sub(m.lastFrameUpdate) > m.frameTimeout:
		m.healthy = false
		m.reason = fmt.Sprintf("no frame progress for %v (last frame: %d, %v ago)",
			m.frameTimeout, m.lastSeq, now.Sub(m.lastFrameUpdate).Round(time.Millisecond))
	case m.state.Status.ModelLoaded() && now.Sub(m.state.Labels.Load().UpdatedAt) > m.labelTimeout &&
		now.Sub(m.started) > m.labelTimeout:
		m.healthy = false
		m.reason = fmt.Sprintf("no classification for %v", m.labelTimeout)
	}

	return Health{Healthy: m.healthy, Reason: m.reason}
}

// Health returns the verdict of the last Check
func (m *HealthMonitor) Health() Health {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Health{Healthy: m.healthy, Reason: m.reason}
}

// Run checks periodically until ctx is cancelled and logs every transition
func (m *HealthMonitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	wasHealthy := true
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			h := m.Check()
			if h.Healthy != wasHealthy {
				if h.Healthy {
					m.log.Info().Msg("pipeline recovered")
				} else {
					m.log.Warn().Str("reason", h.Reason).Msg("pipeline stalled")
				}
				wasHealthy = h.Healthy
			}
		}
	}
}
