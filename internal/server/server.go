// Package server exposes the cycle trigger over HTTP.
package server

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"feedpush/internal/cycle"
)

// Runner executes one cycle.
type Runner interface {
	Run(ctx context.Context) (*cycle.Report, error)
}

type errorBody struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// Option configures a Server.
type Option func(*Server)

// WithCycleTimeout bounds each triggered cycle. Zero leaves the cycle bound only
// by the request context.
func WithCycleTimeout(d time.Duration) Option {
	return func(s *Server) { s.cycleTimeout = d }
}

// CycleTimeout returns the cycle deadline that leaves room to write the report
// before an HTTP write timeout of writeTimeout expires.
func CycleTimeout(writeTimeout time.Duration) time.Duration {
	if writeTimeout <= 0 {
		return 0
	}
	margin := writeTimeout / 10
	if margin > 10*time.Second {
		margin = 10 * time.Second
	}
	return writeTimeout - margin
}

// Server serves the trigger, health and metrics endpoints.
type Server struct {
	echo         *echo.Echo
	runner       Runner
	secret       string
	cycleTimeout time.Duration
	log          *slog.Logger

	// mu serializes cycles started by overlapping triggers.
	mu sync.Mutex
}

// New creates a Server. An empty secret rejects every trigger as misconfigured.
// A nil gatherer disables /metrics.
func New(runner Runner, secret string, gatherer prometheus.Gatherer, log *slog.Logger, opts ...Option) *Server {
	if log == nil {
		log = slog.Default()
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			log.Debug("http request", "method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency)
			return nil
		},
	}))

	s := &Server{echo: e, runner: runner, secret: secret, log: log}
	for _, opt := range opts {
		opt(s)
	}

	e.POST("/cron/notify", s.handleTrigger)
	e.GET("/healthz", s.handleHealth)
	if gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens on addr until Shutdown is called.
func (s *Server) Start(addr string, writeTimeout time.Duration) error {
	s.echo.Server.ReadHeaderTimeout = 10 * time.Second
	s.echo.Server.WriteTimeout = writeTimeout
	s.log.Info("http server listening", "addr", addr)
	return s.echo.Start(addr)
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) handleTrigger(c echo.Context) error {
	if s.secret == "" {
		s.log.Error("trigger rejected: cron secret not configured")
		return c.JSON(http.StatusInternalServerError, errorBody{Error: "cron secret not configured"})
	}
	if !s.authorized(c.Request().Header.Get(echo.HeaderAuthorization)) {
		s.log.Warn("trigger rejected: unauthorized", "remote", c.RealIP())
		return c.JSON(http.StatusUnauthorized, errorBody{Error: "unauthorized"})
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ctx := c.Request().Context()
	if s.cycleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cycleTimeout)
		defer cancel()
	}

	rep, err := s.runner.Run(ctx)
	if err != nil {
		if rep == nil {
			return c.JSON(http.StatusInternalServerError, errorBody{Error: err.Error()})
		}
		return c.JSON(http.StatusInternalServerError, rep)
	}
	return c.JSON(http.StatusOK, rep)
}

func (s *Server) authorized(header string) bool {
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(s.secret)) == 1
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":  "healthy",
		"service": "feedpush",
	})
}
