package server

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"hueeye/pipeline"
	"hueeye/stream"
)

// colorResponse is the /get_color body
type colorResponse struct {
	Color      string   `json:"color"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// colorMessage is pushed on /ws/color for every label change
type colorMessage struct {
	Color      string    `json:"color"`
	Confidence float64   `json:"confidence"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (s *Server) handleIndex(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "running",
		"service":     "HueEye Backend API",
		"environment": s.cfg.Environment(),
		"endpoints": gin.H{
			"video_feed":    "/video_feed",
			"get_color":     "/get_color",
			"health":        "/health",
			"camera_status": "/camera_status",
			"color_socket":  "/ws/color",
		},
	})
}

// handleVideoFeed streams multipart JPEG chunks until the client disconnects
func (s *Server) handleVideoFeed(c *gin.Context) {
	reader := s.streams.Open()
	defer reader.Close()

	c.Header("Content-Type", stream.ContentType)
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("Pragma", "no-cache")
	c.Header("X-Accel-Buffering", "no")

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		chunk, err := reader.Next(ctx)
		if err != nil {
			if !errors.Is(err, stream.ErrReaderClosed) && ctx.Err() == nil {
				s.log.Warn().Err(err).Msg("stream reader failed")
			}
			return false
		}
		if _, err := w.Write(chunk); err != nil {
			return false
		}
		return true
	})
}

// handleGetColor returns the latest label. It only reads the label cell.
func (s *Server) handleGetColor(c *gin.Context) {
	reading := s.state.Labels.Load()

	resp := colorResponse{Color: reading.Label}
	if s.cfg.Inference.ExposeConfidence {
		confidence := reading.Confidence
		resp.Confidence = &confidence
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleHealth(c *gin.Context) {
	status := s.state.Status
	body := gin.H{
		"status":        "healthy",
		"model_loaded":  status.ModelLoaded(),
		"camera_active": status.CaptureActive(),
		"environment":   s.cfg.Environment(),
		"instance_id":   s.cfg.InstanceID,
		"timestamp":     float64(time.Now().UnixNano()) / float64(time.Second),
		"uptime":        time.Since(s.started).Round(time.Second).String(),
		"stats": gin.H{
			"pipeline":       s.state.Stats.Totals(),
			"queue_dropped":  s.state.Queue.Dropped(),
			"stream_readers": s.streams.Readers(),
		},
	}
	if status.ModelLoaded() {
		body["inference"] = s.provider
	}
	if s.monitor != nil {
		body["pipeline"] = s.monitor.Health()
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) handleCameraStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"active":      s.state.Status.CaptureActive(),
		"environment": s.cfg.Environment(),
	})
}

// handleColorSocket pushes the current label, then every label change, until
// the peer disconnects. Repeated classifications of the same label are not sent.
func (s *Server) handleColorSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	// Reads only serve to notice the peer going away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ctx := c.Request.Context()
	sent := false
	var last string
	for {
		reading, changed := s.state.Labels.Watch()
		if !sent || reading.Label != last {
			if err := s.writeReading(conn, reading); err != nil {
				return
			}
			sent, last = true, reading.Label
		}

		select {
		case <-changed:
		case <-gone:
			return
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(time.Second))
			return
		}
	}
}

func (s *Server) writeReading(conn *websocket.Conn, r pipeline.Reading) error {
	msg := colorMessage{Color: r.Label, UpdatedAt: r.UpdatedAt}
	if s.cfg.Inference.ExposeConfidence {
		msg.Confidence = r.Confidence
	}
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteJSON(msg)
}
