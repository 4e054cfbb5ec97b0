// Package api serves the dashboard feed over HTTP: navigation state, the
// per-view year series and a health check.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"autoprice/internal/dataset"
	"autoprice/internal/report"
)

type Config struct {
	Addr string

	// YearColumn names the grouping column of the summary. Default "year".
	YearColumn string

	// Date range used when a request gives none. Default 2000-01-01..2015-12-31.
	DefaultStart time.Time
	DefaultEnd   time.Time
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = ":8050"
	}
	if c.YearColumn == "" {
		c.YearColumn = "year"
	}
	if c.DefaultStart.IsZero() {
		c.DefaultStart = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	if c.DefaultEnd.IsZero() {
		c.DefaultEnd = time.Date(2015, 12, 31, 0, 0, 0, 0, time.UTC)
	}
	return c
}

type Server struct {
	config  Config
	router  *echo.Echo
	log     *zap.Logger
	summary *dataset.Table
	sel     *report.Selector
}

// New builds a server over summary, the output of report.YearSummary.
func New(summary *dataset.Table, config Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		config:  config.withDefaults(),
		router:  e,
		log:     logger,
		summary: summary,
		sel:     report.NewSelector(),
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				fields = append(fields, zap.Error(v.Error))
			}
			s.log.Info("request", fields...)
			return nil
		},
	}))

	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.GET("/healthz", s.health)
	s.router.GET("/api/nav", s.nav)
	s.router.POST("/api/nav/:id", s.selectNav)
	s.router.GET("/api/views/:view", s.view)
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves until ctx is done, then shuts down within ten seconds.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listening", zap.String("addr", s.config.Addr))
		if err := s.router.Start(s.config.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.log.Info("shutting down")
	if err := s.router.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
