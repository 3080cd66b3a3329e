// Package server exposes the pipeline over HTTP: the MJPEG stream, the label
// query, health and status, and a websocket push of label changes.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"hueeye/config"
	"hueeye/detection"
	"hueeye/logging"
	"hueeye/pipeline"
	"hueeye/stream"
)

// Server is the HTTP surface of the service
type Server struct {
	cfg      *config.Config
	state    *pipeline.State
	streams  *stream.Multiplexer
	provider detection.ProviderInfo
	monitor  *pipeline.HealthMonitor

	router   *gin.Engine
	upgrader websocket.Upgrader
	log      zerolog.Logger
	started  time.Time
}

// New builds the router. provider describes the loaded inference backend and
// is zero when the model is unavailable.
func New(cfg *config.Config, state *pipeline.State, streams *stream.Multiplexer, provider detection.ProviderInfo) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		cfg:      cfg,
		state:    state,
		streams:  streams,
		provider: provider,
		router:   gin.New(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		log:     logging.Component("HTTP"),
		started: time.Now(),
	}

	s.router.Use(s.requestLogger(), gin.CustomRecovery(s.recoverPanic))
	s.routes()
	return s
}

// SetMonitor adds the pipeline monitor verdict to /health
func (s *Server) SetMonitor(m *pipeline.HealthMonitor) {
	s.monitor = m
}

func (s *Server) routes() {
	s.router.GET("/", s.handleIndex)
	s.router.GET("/video_feed", s.handleVideoFeed)
	s.router.GET("/get_color", s.handleGetColor)
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/camera_status", s.handleCameraStatus)
	s.router.GET("/ws/color", s.handleColorSocket)

	s.router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Endpoint not found"})
	})
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on the configured address until ctx is cancelled, then shuts
// down and waits up to five seconds for requests to finish.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Server.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", srv.Addr).Msg("HTTP server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.log.Info().Msg("HTTP server stopped")
	return nil
}

func (s *Server) recoverPanic(c *gin.Context, recovered any) {
	s.log.Error().Interface("panic", recovered).Str("path", c.Request.URL.Path).Msg("handler panic")
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
}

// requestLogger logs one line per finished request. Stream and websocket
// requests log when the client goes away.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		s.log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str("client", c.ClientIP()).
			Msg("request")
	}
}
