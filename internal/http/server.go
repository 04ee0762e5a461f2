// Package http exposes the feedback endpoint and service health over HTTP.
package http

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/tracebridge/internal/config"
	"github.com/fyrsmithlabs/tracebridge/internal/feedback"
)

const instrumentationName = "github.com/fyrsmithlabs/tracebridge/internal/http"

// FeedbackService handles one feedback submission.
type FeedbackService interface {
	Submit(ctx context.Context, req feedback.Request) bool
}

// TracerProvider hands out named tracers. Satisfied by both
// telemetry.Provider and the OTel SDK provider.
type TracerProvider interface {
	Tracer(name string, opts ...trace.TracerOption) trace.Tracer
}

// Server provides the HTTP API.
type Server struct {
	echo     *echo.Echo
	feedback FeedbackService
	tracer   trace.Tracer
	logger   *zap.Logger
	config   config.ServerConfig
}

// NewServer creates a new HTTP server. A nil tracer provider disables
// request spans.
func NewServer(svc FeedbackService, tp TracerProvider, logger *zap.Logger, cfg config.ServerConfig) (*Server, error) {
	if svc == nil {
		return nil, fmt.Errorf("feedback service cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if tp == nil {
		tp = noop.NewTracerProvider()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:     e,
		feedback: svc,
		tracer:   tp.Tracer(instrumentationName),
		logger:   logger,
		config:   cfg,
	}

	e.Use(s.traceRequests)

	s.registerRoutes()

	return s, nil
}

// traceRequests wraps each request in a span named after its route.
func (s *Server) traceRequests(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		ctx, span := s.tracer.Start(req.Context(), req.Method+" "+c.Path())
		defer span.End()
		c.SetRequest(req.WithContext(ctx))

		err := next(c)

		span.SetAttributes(
			attribute.String("http.request.method", req.Method),
			attribute.String("http.route", c.Path()),
			attribute.Int("http.response.status_code", c.Response().Status),
		)
		if err != nil {
			span.RecordError(err)
		}
		return err
	}
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)

	fb := s.echo.Group("")
	if s.config.AuthToken != "" {
		fb.Use(s.bearerAuth)
	}
	fb.POST("/feedback", s.handleFeedback)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleFeedback correlates a feedback submission with a stored turn.
// Expected rejections are reported as a JSON false body, not an HTTP
// error, so clients can distinguish them from transport problems.
func (s *Server) handleFeedback(c echo.Context) error {
	var req feedback.Request
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid feedback request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	ctx := c.Request().Context()
	ok := s.feedback.Submit(ctx, req)
	trace.SpanFromContext(ctx).SetAttributes(attribute.Bool("feedback.accepted", ok))
	return c.JSON(http.StatusOK, ok)
}

// bearerAuth checks the Authorization header against the configured token.
func (s *Server) bearerAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		header := c.Request().Header.Get(echo.HeaderAuthorization)
		token, found := strings.CutPrefix(header, "Bearer ")
		if !found || subtle.ConstantTimeCompare([]byte(token), []byte(s.config.AuthToken)) != 1 {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid or missing token")
		}
		return next(c)
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
