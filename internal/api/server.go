// Package api exposes the orchestrator's conversation engine over HTTP: the
// synchronous /chat turn endpoint, session inspection/cleanup, health and
// metrics probes, and the /ws push channel clients attach to for
// asynchronous dispatch outcomes.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/carebridge/orchestrator/internal/conversation"
	"github.com/carebridge/orchestrator/internal/correlation"
	orcherrors "github.com/carebridge/orchestrator/internal/errors"
	"github.com/carebridge/orchestrator/internal/metrics"
	"github.com/carebridge/orchestrator/internal/push"
	"github.com/carebridge/orchestrator/internal/session"
	"github.com/carebridge/orchestrator/internal/version"
)

// Server wires the conversation engine and its supporting components onto
// an echo.Echo instance.
type Server struct {
	echo        *echo.Echo
	engine      *conversation.Engine
	store       session.Store
	push        *push.Hub
	metrics     *metrics.Exporter
	membership  *correlation.Membership // nil in single-instance (in-memory) deployments
	correlation *correlation.Registry
	logger      *slog.Logger
	mode        string
}

// Deps are the components a Server exposes over HTTP.
type Deps struct {
	Engine      *conversation.Engine
	Store       session.Store
	Push        *push.Hub
	Metrics     *metrics.Exporter
	Membership  *correlation.Membership // optional: enables WS ownership redirection across instances
	Correlation *correlation.Registry
	Logger      *slog.Logger
	Mode        string // surfaced in GET /health
}

// NewServer builds an echo instance with the orchestrator's standard
// middleware stack and routes, ready to be served with echo.Start.
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestID())
	e.Use(requestLogger(deps.Logger))
	e.Use(middleware.Recover())
	e.Use(middleware.GzipWithConfig(middleware.GzipConfig{
		Level: 5,
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/ws/:session_id"
		},
	}))

	s := &Server{
		echo:        e,
		engine:      deps.Engine,
		store:       deps.Store,
		push:        deps.Push,
		metrics:     deps.Metrics,
		membership:  deps.Membership,
		correlation: deps.Correlation,
		logger:      deps.Logger,
		mode:        deps.Mode,
	}
	s.registerRoutes()
	return s
}

// chatRateLimitRPM bounds POST /chat to a per-IP requests-per-minute rate,
// shedding the rest with 429 rather than letting a single client starve the
// dispatch pipeline.
const chatRateLimitRPM = 60

func (s *Server) registerRoutes() {
	s.echo.POST("/chat", s.handleChat, middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(chatRateLimitRPM) / 60,
			Burst:     chatRateLimitRPM,
			ExpiresIn: time.Minute,
		}),
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": echo.Map{"code": "INTERNAL_ERROR", "message": err.Error()}})
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			return c.JSON(http.StatusTooManyRequests, echo.Map{"error": echo.Map{"code": "RATE_LIMITED", "message": "too many requests, please slow down"}})
		},
	}))
	s.echo.GET("/session/:id", s.handleGetSession)
	s.echo.DELETE("/session/:id", s.handleDeleteSession)
	s.echo.GET("/sessions", s.handleListSessions)
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/ws/:session_id", s.handleWebSocket)

	if s.metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	}
}

// Start serves on addr, blocking until ctx is canceled, at which point it
// shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.echo.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// requestLogger logs one structured line per request, grounded on the
// orchestrator's slog-everywhere convention rather than echo's text logger.
func requestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			req := c.Request()
			res := c.Response()
			status := res.Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				} else if status == 0 {
					status = http.StatusInternalServerError
				}
			}

			logger.Info("http request",
				"request_id", res.Header().Get(echo.HeaderXRequestID),
				"method", req.Method,
				"path", c.Path(),
				"status", status,
				"duration_ms", time.Since(start).Milliseconds(),
			)
			return err
		}
	}
}

// httpError maps the orchestrator's error taxonomy onto a status code and
// client-facing payload, per the error handling design's propagation policy.
func httpError(c echo.Context, err error) error {
	var classified *orcherrors.Classified
	if orcherrors.As(err, &classified) {
		status := http.StatusInternalServerError
		switch classified.Kind {
		case orcherrors.KindValidation:
			status = http.StatusBadRequest
		case orcherrors.KindSessionMissing:
			status = http.StatusNotFound
		case orcherrors.KindProviderFailure, orcherrors.KindDispatchFailure, orcherrors.KindAgentTimeout:
			status = http.StatusServiceUnavailable
		case orcherrors.KindStoreOutage:
			status = http.StatusServiceUnavailable
		case orcherrors.KindProtocolError:
			status = http.StatusBadRequest
		}
		return c.JSON(status, echo.Map{
			"error": echo.Map{
				"code":    classified.Kind.Code(),
				"message": classified.Error(),
			},
		})
	}
	return c.JSON(http.StatusInternalServerError, echo.Map{
		"error": echo.Map{"code": "INTERNAL_ERROR", "message": errors.Wrap(err, "unclassified failure").Error()},
	})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (s *Server) handleWebSocket(c echo.Context) error {
	sessionID := c.Param("session_id")
	if sessionID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "session_id is required"})
	}

	// A session's push connection must land on the instance the hash ring
	// currently assigns it to, since the in-process Hub only tracks
	// connections local to this instance. Cross-instance forwarding isn't
	// implemented, so a misrouted client is told which instance owns the
	// session instead of silently never receiving pushes.
	if s.membership != nil && !s.membership.IsLocal(sessionID) {
		return c.JSON(http.StatusConflict, echo.Map{
			"error":    "session is owned by a different orchestrator instance",
			"owner_id": s.membership.OwnerOf(sessionID),
		})
	}

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Warn("api: websocket upgrade failed", "session_id", sessionID, "error", err)
		return nil
	}

	s.push.Attach(c.Request().Context(), sessionID, ws)
	return nil
}

// serviceName identifies this service in GET /health, per the external
// health-check contract.
const serviceName = "carebridge-orchestrator"

func (s *Server) handleHealth(c echo.Context) error {
	status := "healthy"

	probeCtx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()
	if _, _, err := s.store.Get(probeCtx, "__healthcheck__"); err != nil {
		status = "degraded"
	}

	if s.engine == nil || s.push == nil {
		status = "unhealthy"
	}

	activeConnections := 0
	if s.push != nil {
		activeConnections = s.push.Count()
	}

	return c.JSON(http.StatusOK, echo.Map{
		"status":             status,
		"service":            serviceName,
		"timestamp":          time.Now().UTC().Format(time.RFC3339),
		"version":            version.String(),
		"mode":               s.mode,
		"active_connections": activeConnections,
	})
}
