// Package httpsrv serves the operational endpoints: liveness, readiness,
// and Prometheus metrics.
package httpsrv

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/hyescribe/hyescribe/internal/conf"
	"github.com/hyescribe/hyescribe/internal/datastore"
	"github.com/hyescribe/hyescribe/internal/logging"
	"github.com/hyescribe/hyescribe/internal/observability"
	"github.com/hyescribe/hyescribe/internal/queue"
)

// Server is the operational HTTP endpoint.
type Server struct {
	echo    *echo.Echo
	listen  string
	store   datastore.Interface
	queue   *queue.Queue
	metrics *observability.Metrics
	logger  *slog.Logger
	version string
}

// New builds the server. metrics may be nil, in which case /metrics is not
// registered.
func New(settings *conf.Settings, store datastore.Interface, q *queue.Queue,
	m *observability.Metrics, version string) *Server {
	logger := logging.ForService("httpsrv")
	if logger == nil {
		logger = slog.Default()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{
		echo:    e,
		listen:  settings.HTTP.Listen,
		store:   store,
		queue:   q,
		metrics: m,
		logger:  logger,
		version: version,
	}

	e.GET("/healthz", s.handleHealthz)
	e.GET("/readyz", s.handleReadyz)
	if m != nil {
		e.GET("/metrics", echo.WrapHandler(m.Handler()))
	}
	return s
}

// Start serves until the listener fails. Intended to run in its own
// goroutine; http.ErrServerClosed is swallowed.
func (s *Server) Start() {
	s.logger.Info("http server listening", "addr", s.listen)
	if err := s.echo.Start(s.listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error("http server stopped", "error", err)
	}
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) handleHealthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.version,
	})
}

// handleReadyz verifies the job store and the queue answer.
func (s *Server) handleReadyz(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	checks := map[string]string{"store": "ok", "queue": "ok"}
	healthy := true

	if _, _, err := s.store.ListJobs(ctx, "", 1, 0); err != nil {
		checks["store"] = err.Error()
		healthy = false
	}
	if err := s.queue.Ping(ctx); err != nil {
		checks["queue"] = err.Error()
		healthy = false
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, checks)
}
