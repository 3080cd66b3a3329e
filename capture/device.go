// Package capture owns the frame source: the capture device, the
// acquisition loop and JPEG encoding of display frames.
package capture

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gocv.io/x/gocv"

	"hueeye/config"
	"hueeye/overlay"
)

var (
	// ErrDeviceUnavailable is returned when the capture device cannot be opened
	ErrDeviceUnavailable = errors.New("capture device unavailable")
	// ErrFrameRead is returned for a single failed or empty read
	ErrFrameRead = errors.New("failed to read frame")
)

// Device produces raw BGR frames
type Device interface {
	// Read fills dst with the next frame
	Read(dst *gocv.Mat) error
	Close() error
	Name() string
}

// CameraDevice reads from a local camera through OpenCV
type CameraDevice struct {
	vc    *gocv.VideoCapture
	index int
}

// OpenCamera opens the configured camera, retrying up to cfg.OpenRetries
// times. Exhausted retries return ErrDeviceUnavailable.
func OpenCamera(ctx context.Context, cfg config.CameraConfig, log zerolog.Logger) (*CameraDevice, error) {
	dev, err := openWithRetry(ctx, cfg.OpenRetries, cfg.OpenBackoff, log, func() (Device, error) {
		vc, err := gocv.OpenVideoCapture(cfg.Index)
		if err != nil {
			return nil, err
		}
		if !vc.IsOpened() {
			vc.Close()
			return nil, fmt.Errorf("camera %d did not open", cfg.Index)
		}

		// Minimize driver buffering so the loop always sees a recent frame
		vc.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Width))
		vc.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Height))
		vc.Set(gocv.VideoCaptureFPS, float64(cfg.FPS))
		vc.Set(gocv.VideoCaptureBufferSize, float64(cfg.BufferSize))

		return &CameraDevice{vc: vc, index: cfg.Index}, nil
	})
	if err != nil {
		return nil, err
	}
	return dev.(*CameraDevice), nil
}

func openWithRetry(ctx context.Context, attempts int, backoff time.Duration, log zerolog.Logger, open func() (Device, error)) (Device, error) {
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		dev, err := open()
		if err == nil {
			log.Info().Str("device", dev.Name()).Int("attempt", attempt).Msg("capture device opened")
			return dev, nil
		}
		lastErr = err
		log.Warn().Err(err).Int("attempt", attempt).Int("of", attempts).Msg("cannot open capture device")

		if attempt < attempts && !sleepCtx(ctx, backoff) {
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, lastErr)
}

// Read fills dst with the next camera frame
func (d *CameraDevice) Read(dst *gocv.Mat) error {
	if ok := d.vc.Read(dst); !ok || dst.Empty() {
		return ErrFrameRead
	}
	return nil
}

// Close releases the camera
func (d *CameraDevice) Close() error {
	return d.vc.Close()
}

// Name identifies the device in logs
func (d *CameraDevice) Name() string {
	return fmt.Sprintf("camera:%d", d.index)
}

// DemoDevice generates synthetic frames when no physical camera is available
type DemoDevice struct {
	width  int
	height int
	now    func() time.Time
}

// NewDemoDevice creates a synthetic device producing width x height frames
func NewDemoDevice(width, height int) *DemoDevice {
	return &DemoDevice{width: width, height: height, now: time.Now}
}

// Read renders the next synthetic frame into dst
func (d *DemoDevice) Read(dst *gocv.Mat) error {
	frame := overlay.DemoFrame(d.width, d.height, d.now())
	defer frame.Close()
	frame.CopyTo(dst)
	return nil
}

// Close is a no-op
func (d *DemoDevice) Close() error { return nil }

// Name identifies the device in logs
func (d *DemoDevice) Name() string { return "demo" }

// sleepCtx waits for d or until ctx is done. It returns false when ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
