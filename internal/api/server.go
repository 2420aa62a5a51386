// Package api is the HTTP surface of the gateway: every intercepted request,
// the /_worker control endpoints, the PWA support files and /metrics.
package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/menubuilder/offline-gateway/internal/backgroundsync"
	"github.com/menubuilder/offline-gateway/internal/cachestore"
	"github.com/menubuilder/offline-gateway/internal/conf"
	"github.com/menubuilder/offline-gateway/internal/datastore/repository"
	"github.com/menubuilder/offline-gateway/internal/events"
	"github.com/menubuilder/offline-gateway/internal/lifecycle"
	"github.com/menubuilder/offline-gateway/internal/logger"
	"github.com/menubuilder/offline-gateway/internal/messaging"
	"github.com/menubuilder/offline-gateway/internal/observability"
	"github.com/menubuilder/offline-gateway/internal/router"
)

// Connectivity reports the last known origin reachability.
type Connectivity interface {
	Online() bool
}

// Deps are the components the server exposes.
type Deps struct {
	Settings   *conf.Settings
	Origin     *url.URL
	Registry   cachestore.Registry
	Router     *router.Router
	Worker     *lifecycle.Worker
	Dispatcher *messaging.Dispatcher
	Agent      *backgroundsync.Agent
	Store      repository.SubmissionRepository
	Monitor    Connectivity
	Metrics    *observability.Metrics
	Bus        *events.Bus
	// Transport carries pass-through traffic; nil uses http.DefaultTransport.
	Transport http.RoundTripper
	Logger    logger.Logger
}

// Server wraps the echo instance.
type Server struct {
	echo  *echo.Echo
	deps  Deps
	log   logger.Logger
	proxy echo.HandlerFunc
	hub   *wsHub
}

// NewServer builds the echo instance and registers every route.
func NewServer(deps Deps) *Server {
	log := deps.Logger
	if log == nil {
		log = logger.NewSlogLogger(io.Discard, logger.LogLevelError, nil)
	}
	log = log.Module("api")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo: e,
		deps: deps,
		log:  log,
		hub:  newWSHub(log),
	}
	s.proxy = newPassThrough(deps.Origin, deps.Router.AllowsHost, deps.Transport, log)
	deps.Bus.Subscribe(s.hub.broadcast)

	e.Use(middleware.Recover())
	e.Use(s.requestLogger())

	s.registerPWARoutes()
	s.registerWorkerRoutes()
	if deps.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(deps.Metrics.Handler()))
	}
	e.Any("/*", s.handleFetch)
	return s
}

// ServeHTTP lets the server be used as an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Start listens on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.log.Info("gateway listening", logger.String("addr", addr))
	err := s.echo.Start(addr)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown closes websocket clients and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.closeAll()
	return s.echo.Shutdown(ctx)
}

func (s *Server) requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:   true,
		LogURI:      true,
		LogMethod:   true,
		LogLatency:  true,
		LogRemoteIP: true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []logger.Field{
				logger.String("method", v.Method),
				logger.String("uri", v.URI),
				logger.Int("status", v.Status),
				logger.Duration("latency", v.Latency),
				logger.String("remote_ip", v.RemoteIP),
			}
			if route := c.Response().Header().Get(headerStrategy); route != "" {
				fields = append(fields, logger.String("route", route))
			}
			if v.Error != nil {
				fields = append(fields, logger.Error(v.Error))
				s.log.Warn("request failed", fields...)
				return nil
			}
			s.log.Debug("request", fields...)
			return nil
		},
	})
}

// requestTimeout bounds control endpoint work that touches storage.
const requestTimeout = 30 * time.Second
