package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/menubuilder/offline-gateway/internal/backgroundsync"
	"github.com/menubuilder/offline-gateway/internal/cachestore"
	"github.com/menubuilder/offline-gateway/internal/datastore/entities"
	"github.com/menubuilder/offline-gateway/internal/errors"
	"github.com/menubuilder/offline-gateway/internal/logger"
	"github.com/menubuilder/offline-gateway/internal/messaging"
)

const (
	syncRateLimitWindow = time.Minute
	syncRateLimit       = 6
	syncRateLimitBurst  = 10

	// maxSubmissionBytes bounds a queued form payload.
	maxSubmissionBytes = 1 << 20
)

// registerWorkerRoutes registers the /_worker control endpoints.
func (s *Server) registerWorkerRoutes() {
	g := s.echo.Group("/_worker")
	g.GET("/state", s.handleState)
	g.GET("/cache", s.handleCacheStats)
	g.POST("/messages", s.handleMessage)
	g.GET("/ws", s.handleWebSocket)
	g.POST("/queue/:queue", s.handleEnqueue)
	g.GET("/queue/:queue", s.handleListQueue)

	rateLimiterConfig := middleware.RateLimiterConfig{
		Skipper: middleware.DefaultSkipper,
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(
			middleware.RateLimiterMemoryStoreConfig{
				Rate:      syncRateLimit,
				Burst:     syncRateLimitBurst,
				ExpiresIn: syncRateLimitWindow,
			},
		),
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return c.JSON(http.StatusForbidden, map[string]string{"error": "Unable to identify client"})
		},
		DenyHandler: func(c echo.Context, _ string, _ error) error {
			return c.JSON(http.StatusTooManyRequests, map[string]string{
				"error": "Too many sync requests, please wait before trying again",
			})
		},
	}
	g.POST("/sync/:tag", s.handleSync, middleware.RateLimiterWithConfig(rateLimiterConfig))
}

// StateResponse is returned by GET /_worker/state.
type StateResponse struct {
	State      string   `json:"state"`
	Version    string   `json:"version"`
	Partitions []string `json:"partitions"`
	Online     bool     `json:"online"`
}

func (s *Server) handleState(c echo.Context) error {
	online := false
	if s.deps.Monitor != nil {
		online = s.deps.Monitor.Online()
	}
	return c.JSON(http.StatusOK, StateResponse{
		State:      string(s.deps.Worker.State()),
		Version:    s.deps.Settings.Worker.Version,
		Partitions: s.deps.Worker.Names().All(),
		Online:     online,
	})
}

// CacheStatsResponse is returned by GET /_worker/cache.
type CacheStatsResponse struct {
	Partitions []cachestore.PartitionStats `json:"partitions"`
	TotalBytes int64                       `json:"total_bytes"`
}

func (s *Server) handleCacheStats(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	stats, err := cachestore.Stats(ctx, s.deps.Registry, s.deps.Worker.Names())
	if err != nil {
		s.log.Error("failed to read cache stats", logger.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to read cache stats"})
	}
	var total int64
	for _, p := range stats {
		total += p.Bytes
	}
	return c.JSON(http.StatusOK, CacheStatsResponse{Partitions: stats, TotalBytes: total})
}

// handleMessage accepts one protocol message. With "reply": true the HTTP
// response is the reply port; otherwise the message is fire-and-forget.
func (s *Server) handleMessage(c echo.Context) error {
	var msg messaging.Message
	if err := c.Bind(&msg); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid message body"})
	}

	var reply *messaging.Reply
	var port messaging.ReplyPort
	if msg.Reply {
		port = messaging.ReplyFunc(func(_ context.Context, r messaging.Reply) error {
			reply = &r
			return nil
		})
	}

	if err := s.deps.Dispatcher.Dispatch(c.Request().Context(), &msg, port); err != nil {
		if errors.CategoryOf(err) == errors.CategoryValidation {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
		s.log.Error("message dispatch failed", logger.String("type", string(msg.Type)), logger.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to process message"})
	}
	if reply != nil {
		return c.JSON(http.StatusOK, reply)
	}
	return c.JSON(http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleSync(c echo.Context) error {
	kind, err := backgroundsync.ParseTag(c.Param("tag"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	report, err := s.deps.Agent.Sync(c.Request().Context(), kind)
	if errors.Is(err, backgroundsync.ErrSyncInProgress) {
		return c.JSON(http.StatusConflict, map[string]string{"error": "Sync already in progress"})
	}
	if report == nil {
		s.log.Error("sync failed", logger.String("tag", string(kind)), logger.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Sync failed"})
	}
	if err != nil {
		s.log.Warn("sync finished with errors", logger.String("tag", string(kind)), logger.Error(err))
	}
	return c.JSON(http.StatusOK, report)
}

func parseQueue(c echo.Context) (backgroundsync.Kind, bool) {
	return backgroundsync.KindForQueue(entities.Queue(c.Param("queue")))
}

// EnqueueResponse is returned by POST /_worker/queue/:queue.
type EnqueueResponse struct {
	ID    string `json:"id"`
	Queue string `json:"queue"`
	Tag   string `json:"tag"`
}

func (s *Server) handleEnqueue(c echo.Context) error {
	kind, ok := parseQueue(c)
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Unknown queue"})
	}

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxSubmissionBytes+1))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Failed to read body"})
	}
	if len(body) > maxSubmissionBytes {
		return c.JSON(http.StatusRequestEntityTooLarge, map[string]string{"error": "Submission too large"})
	}
	if !json.Valid(body) {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Submission must be JSON"})
	}

	sub, err := s.deps.Agent.Enqueue(c.Request().Context(), kind, body)
	if err != nil {
		s.log.Error("failed to queue submission", logger.String("queue", string(kind.Queue())), logger.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to queue submission"})
	}
	return c.JSON(http.StatusCreated, EnqueueResponse{
		ID:    sub.ID,
		Queue: string(sub.Queue),
		Tag:   string(kind),
	})
}

func (s *Server) handleListQueue(c echo.Context) error {
	kind, ok := parseQueue(c)
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Unknown queue"})
	}

	subs, err := s.deps.Store.List(c.Request().Context(), kind.Queue())
	if err != nil {
		s.log.Error("failed to list queue", logger.String("queue", string(kind.Queue())), logger.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to list queue"})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"queue":       kind.Queue(),
		"count":       len(subs),
		"submissions": subs,
	})
}
