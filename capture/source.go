package capture

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/rs/zerolog"
	"gocv.io/x/gocv"

	"hueeye/detection"
	"hueeye/logging"
	"hueeye/pipeline"
)

// Annotator draws display guidance onto a frame copy
type Annotator interface {
	Annotate(img *gocv.Mat, region image.Rectangle, reading pipeline.Reading)
}

// Options configures the acquisition loop
type Options struct {
	Mirror        bool          // flip horizontally, off for devices that render their own text
	RegionSize    int           // classification region edge, 0 = full frame
	JPEGQuality   int           // 1..100
	FrameInterval time.Duration // fixed delay per cycle
	ReadBackoff   time.Duration // delay after a failed read
}

// Source is the single producer of display frames and classification samples
type Source struct {
	device    Device
	state     *pipeline.State
	annotator Annotator
	opts      Options

	log     zerolog.Logger
	readLog zerolog.Logger // sampled, a dead camera fails every cycle
	seq     uint64
}

// NewSource creates the acquisition loop for device
func NewSource(device Device, state *pipeline.State, annotator Annotator, opts Options) *Source {
	log := logging.Component("CAPTURE")
	return &Source{
		device:    device,
		state:     state,
		annotator: annotator,
		opts:      opts,
		log:       log,
		readLog:   logging.Sampled(log, 5, 10*time.Second),
	}
}

// Run reads frames until ctx is cancelled. Read failures are retried after a
// backoff and a failing cycle never ends the loop.
func (s *Source) Run(ctx context.Context) error {
	s.log.Info().
		Str("device", s.device.Name()).
		Int("region_size", s.opts.RegionSize).
		Dur("frame_interval", s.opts.FrameInterval).
		Msg("frame source started")

	img := gocv.NewMat()
	defer img.Close()

	for {
		if ctx.Err() != nil {
			break
		}

		readStart := time.Now()
		if err := s.device.Read(&img); err != nil {
			s.state.Stats.ReadFailed()
			s.readLog.Warn().Err(err).Str("device", s.device.Name()).Msg("can't receive frame from device")
			if !sleepCtx(ctx, s.opts.ReadBackoff) {
				break
			}
			continue
		}
		readTime := time.Since(readStart)

		if err := s.cycle(img, readTime); err != nil {
			s.state.Stats.CycleFailed()
			s.log.Error().Err(err).Uint64("seq", s.seq).Msg("capture cycle failed")
		}

		if !sleepCtx(ctx, s.opts.FrameInterval) {
			break
		}
	}

	s.log.Info().Msg("frame source stopped")
	return ctx.Err()
}

// cycle turns one raw frame into a published display frame and a
// best-effort classification sample
func (s *Source) cycle(raw gocv.Mat, readTime time.Duration) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	s.seq++
	capturedAt := time.Now()

	mirrored := gocv.NewMat()
	defer mirrored.Close()
	if s.opts.Mirror {
		gocv.Flip(raw, &mirrored, 1)
	} else {
		raw.CopyTo(&mirrored)
	}

	bounds := detection.RegionBounds(mirrored.Cols(), mirrored.Rows(), s.opts.RegionSize)

	display := mirrored.Clone()
	defer display.Close()
	s.annotator.Annotate(&display, bounds, s.state.Labels.Load())

	s.offerSample(mirrored, bounds, capturedAt)

	encodeStart := time.Now()
	data, err := encodeJPEG(display, s.opts.JPEGQuality)
	if err != nil {
		return err
	}
	encodeTime := time.Since(encodeStart)

	s.state.Frames.Store(pipeline.EncodedFrame{Data: data, Seq: s.seq, CapturedAt: capturedAt})
	s.state.Stats.UpdateCapture(readTime, encodeTime)
	return nil
}

// offerSample hands an owned copy of the unannotated region to the
// inference gate. A full queue drops it on the spot.
func (s *Source) offerSample(frame gocv.Mat, bounds image.Rectangle, capturedAt time.Time) {
	var owned gocv.Mat
	if bounds.Empty() || bounds == image.Rect(0, 0, frame.Cols(), frame.Rows()) {
		owned = frame.Clone()
	} else {
		region := frame.Region(bounds)
		owned = region.Clone()
		region.Close()
	}

	sample := pipeline.Sample{Mat: owned, Bounds: bounds, Seq: s.seq, CapturedAt: capturedAt}
	if !s.state.Queue.Offer(sample) {
		sample.Close()
	}
}
