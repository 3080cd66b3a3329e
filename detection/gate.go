package detection

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"hueeye/logging"
	"hueeye/pipeline"
)

// GateOptions configures the inference gate
type GateOptions struct {
	Interval  time.Duration // minimum time between two executed classifications
	QueueWait time.Duration // bounded wait on the frame queue
}

// Gate consumes samples from the frame queue and runs the classifier at most
// once per interval. It is the only writer of the label cell.
type Gate struct {
	classifier Classifier
	state      *pipeline.State
	opts       GateOptions
	log        zerolog.Logger

	now     func() time.Time
	lastRun time.Time
}

// NewGate creates an inference gate
func NewGate(classifier Classifier, state *pipeline.State, opts GateOptions) *Gate {
	if opts.QueueWait <= 0 {
		opts.QueueWait = 500 * time.Millisecond
	}
	return &Gate{
		classifier: classifier,
		state:      state,
		opts:       opts,
		log:        logging.Component("INFERENCE"),
		now:        time.Now,
	}
}

// Run consumes the queue until ctx is cancelled. Queue timeouts are not errors.
func (g *Gate) Run(ctx context.Context) error {
	g.log.Info().
		Dur("interval", g.opts.Interval).
		Dur("queue_wait", g.opts.QueueWait).
		Msg("inference gate started")

	for {
		sample, ok := g.state.Queue.Poll(ctx, g.opts.QueueWait)
		if !ok {
			if ctx.Err() != nil {
				g.log.Info().Msg("inference gate stopped")
				return ctx.Err()
			}
			continue
		}
		g.Handle(sample)
	}
}

// Handle processes one sample and releases it. It reports whether the
// classifier was invoked.
func (g *Gate) Handle(sample pipeline.Sample) bool {
	defer sample.Close()

	now := g.now()
	if !g.lastRun.IsZero() && now.Sub(g.lastRun) < g.opts.Interval {
		g.state.Stats.Throttled()
		return false
	}
	g.lastRun = now

	start := time.Now()
	result, err := g.classify(sample)
	failed := err != nil
	g.state.Stats.UpdateInference(time.Since(start), failed)

	if failed {
		g.log.Error().Err(err).Uint64("seq", sample.Seq).Msg("classification failed")
		result = Result{Label: pipeline.LabelError}
	}

	g.state.Labels.Store(pipeline.Reading{Label: result.Label, Confidence: result.Confidence})
	g.log.Debug().
		Str("label", result.Label).
		Float64("confidence", result.Confidence).
		Uint64("seq", sample.Seq).
		Msg("label updated")
	return true
}

// classify shields the loop from panics raised inside the classifier
func (g *Gate) classify(sample pipeline.Sample) (result Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("classifier panic: %v", r)
		}
	}()
	return g.classifier.Classify(sample.Mat)
}
