// Package stream multiplexes the latest encoded frame to any number of
// multipart (MJPEG) readers.
package stream

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"hueeye/logging"
	"hueeye/pipeline"
)

// Boundary separates parts of the multipart stream
const Boundary = "frame"

// ContentType is the response content type for a stream
const ContentType = "multipart/x-mixed-replace; boundary=" + Boundary

// ErrReaderClosed is returned by Next once a reader has been closed or its
// context has ended. Readers are not restartable.
var ErrReaderClosed = errors.New("stream reader closed")

// Multiplexer samples the frame cell on behalf of every connected reader
type Multiplexer struct {
	frames      *pipeline.FrameCell
	interval    time.Duration
	placeholder []byte
	active      atomic.Int64
	log         zerolog.Logger
}

// NewMultiplexer creates a multiplexer sampling frames every interval. A
// width x height placeholder, matching the camera frame size, is served while
// the cell is still empty.
func NewMultiplexer(frames *pipeline.FrameCell, interval time.Duration, width, height int) (*Multiplexer, error) {
	placeholder, err := Placeholder(width, height, "Starting camera...")
	if err != nil {
		return nil, fmt.Errorf("render placeholder: %w", err)
	}
	return &Multiplexer{
		frames:      frames,
		interval:    interval,
		placeholder: placeholder,
		log:         logging.Component("STREAM"),
	}, nil
}

// Open starts a new reader. The caller must Close it.
func (m *Multiplexer) Open() *Reader {
	n := m.active.Add(1)
	m.log.Debug().Int64("readers", n).Msg("stream reader opened")
	return &Reader{m: m}
}

// Readers is the number of open readers
func (m *Multiplexer) Readers() int64 {
	return m.active.Load()
}

// Reader is one client's lazy, infinite sequence of multipart chunks
type Reader struct {
	m       *Multiplexer
	started bool
	closed  bool
	sent    uint64
}

// Next returns the next chunk. The first chunk is immediate, later ones wait
// the sampling interval. The same frame may be returned repeatedly when the
// source is slower than the reader.
func (r *Reader) Next(ctx context.Context) ([]byte, error) {
	if r.closed {
		return nil, ErrReaderClosed
	}

	if r.started {
		timer := time.NewTimer(r.m.interval)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			r.Close()
			return nil, ctx.Err()
		}
	} else if ctx.Err() != nil {
		r.Close()
		return nil, ctx.Err()
	}
	r.started = true

	data := r.m.placeholder
	if frame, ok := r.m.frames.Load(); ok {
		data = frame.Data
	}
	r.sent++
	return Part(data), nil
}

// Sent is the number of chunks produced so far
func (r *Reader) Sent() uint64 { return r.sent }

// Close ends the sequence. It is safe to call more than once.
func (r *Reader) Close() {
	if r.closed {
		return
	}
	r.closed = true
	n := r.m.active.Add(-1)
	r.m.log.Debug().Int64("readers", n).Uint64("sent", r.sent).Msg("stream reader closed")
}

// Part frames one JPEG as a multipart chunk
func Part(jpeg []byte) []byte {
	header := fmt.Sprintf("--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", Boundary, len(jpeg))
	chunk := make([]byte, 0, len(header)+len(jpeg)+2)
	chunk = append(chunk, header...)
	chunk = append(chunk, jpeg...)
	chunk = append(chunk, "\r\n"...)
	return chunk
}
