package server

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/mockapi/internal/changes"
	"github.com/MarcoPoloResearchLab/mockapi/internal/dispatch"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	// EventsPath streams change events as Server-Sent Events.
	EventsPath = "/_events"

	eventChange              = "change"
	defaultHeartbeatInterval = 15 * time.Second
	maxBodyBytes             = 4 << 20
)

var (
	errMissingDispatcher = errors.New("dispatcher dependency required")
	errMissingFeed       = errors.New("change feed dependency required")
)

type Dependencies struct {
	Dispatcher        *dispatch.Dispatcher
	Feed              *changes.Feed
	Logger            *zap.Logger
	HeartbeatInterval time.Duration
}

// NewHTTPHandler exposes the dispatcher over real HTTP. Every path except
// EventsPath is forwarded to the dispatcher as if it were addressed to the mock host.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Dispatcher == nil {
		return nil, errMissingDispatcher
	}
	if deps.Feed == nil {
		return nil, errMissingFeed
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	handler := &httpHandler{
		dispatcher: deps.Dispatcher,
		feed:       deps.Feed,
		logger:     logger,
		heartbeat:  heartbeat,
	}

	router.GET(EventsPath, handler.streamChanges)
	router.NoRoute(handler.forward)

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowHeaders:  []string{dispatch.HeaderAuthorization, dispatch.HeaderContentType},
		ExposeHeaders: []string{dispatch.HeaderTotalCount, dispatch.HeaderRequestID},
		MaxAge:        12 * time.Hour,
	})
}

type httpHandler struct {
	dispatcher *dispatch.Dispatcher
	feed       *changes.Feed
	logger     *zap.Logger
	heartbeat  time.Duration
}

func (h *httpHandler) forward(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		h.logger.Warn("failed to read request body", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	response := h.dispatcher.Do(c.Request.Context(), dispatch.Request{
		Method: c.Request.Method,
		URL:    h.dispatcher.BaseURL() + c.Request.URL.RequestURI(),
		Header: c.Request.Header.Clone(),
		Body:   body,
	})
	if c.Request.Context().Err() != nil {
		c.Abort()
		return
	}

	for name, values := range response.Header {
		if name == dispatch.HeaderContentType {
			continue
		}
		for _, value := range values {
			c.Writer.Header().Add(name, value)
		}
	}
	c.Data(response.Status, response.Header.Get(dispatch.HeaderContentType), response.Body)
}

func (h *httpHandler) streamChanges(c *gin.Context) {
	ctx := c.Request.Context()
	collection := c.Query("collection")
	events, cancel := h.feed.Subscribe(ctx, collection)
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	h.logger.Debug("change stream opened", zap.String("collection", collection))
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case event, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent(eventChange, event)
			return true
		case tick := <-ticker.C:
			c.SSEvent(changes.EventHeartbeat, gin.H{"timestamp": tick.UTC().Format(time.RFC3339)})
			return true
		}
	})
	h.logger.Debug("change stream closed", zap.String("collection", collection))
}
