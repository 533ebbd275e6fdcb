package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/rs/zerolog"

	"github.com/naelolaiz/JDY-31-PSG9080/internal/auth"
	"github.com/naelolaiz/JDY-31-PSG9080/internal/command"
	"github.com/naelolaiz/JDY-31-PSG9080/internal/config"
)

// Server represents the HTTP API server.
type Server struct {
	httpServer     *http.Server
	cfg            config.HTTPConfig
	controller     command.ControllerPort
	telemetryHub   TelemetryPort
	authMiddleware *auth.Middleware
	metricsPath    string
	metrics        http.Handler
	log            zerolog.Logger
	startTime      time.Time
	router         chi.Router
}

// NewServer creates a new API server. A nil authMiddleware serves every
// request as the local user.
func NewServer(cfg config.HTTPConfig, controller command.ControllerPort, telemetryHub TelemetryPort, authMiddleware *auth.Middleware, log zerolog.Logger) *Server {
	if authMiddleware == nil {
		authMiddleware = auth.NewMiddleware(nil)
	}
	return &Server{
		cfg:            cfg,
		controller:     controller,
		telemetryHub:   telemetryHub,
		authMiddleware: authMiddleware,
		log:            log,
		startTime:      time.Now(),
	}
}

// SetMetrics exposes h at path, outside the authenticated API.
func (s *Server) SetMetrics(path string, h http.Handler) {
	s.metricsPath = path
	s.metrics = h
	s.router = nil
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	if s.router == nil {
		s.router = s.routes()
	}
	return s.router
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	s.log.Info().Str("addr", addr).Msg("http server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				log.Debug().
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", ww.Status()).
					Int("bytes", ww.BytesWritten()).
					Dur("took", time.Since(start)).
					Str("requestId", middleware.GetReqID(r.Context())).
					Msg("request")
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
