package server

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/chapterhub/internal/content"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	streamEventDataUpdate = "data-update"
	streamEventHeartbeat  = "heartbeat"
)

// handleStream relays change events to the caller as Server-Sent Events
// until the client disconnects.
func (h *httpHandler) handleStream(c *gin.Context) {
	collections, ok := parseCollectionFilter(c.Query("collections"))
	if !ok {
		respondFailure(c, http.StatusBadRequest, "Invalid collection")
		return
	}

	ctx := c.Request.Context()
	events, cleanup := h.relay.Subscribe(ctx, collections...)
	defer cleanup()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.SSEvent(streamEventHeartbeat, gin.H{"timestamp": h.clock().UTC()})
	c.Writer.Flush()

	h.logger.Debug("realtime stream opened", zap.Strings("collections", collections))
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case event, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent(streamEventDataUpdate, event)
			return true
		case tick := <-ticker.C:
			c.SSEvent(streamEventHeartbeat, gin.H{"timestamp": tick.UTC()})
			return true
		}
	})
	h.logger.Debug("realtime stream closed")
}

func parseCollectionFilter(raw string) ([]string, bool) {
	if strings.TrimSpace(raw) == "" {
		return nil, true
	}
	parts := strings.Split(raw, ",")
	collections := make([]string, 0, len(parts))
	for _, part := range parts {
		if strings.TrimSpace(part) == "" {
			continue
		}
		collection, err := content.ParseCollection(part)
		if err != nil {
			return nil, false
		}
		collections = append(collections, collection.String())
	}
	return collections, true
}
