package handlers

import (
	"context"
	"time"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/research-agent/backend/internal/storage"
	"github.com/research-agent/backend/internal/storage/models"
	"github.com/research-agent/backend/pkg/logger"
)

// WatchHandler pushes session status transitions over a websocket.
// It is an observation channel only: the same states the polling
// endpoint reports, never partial answer content.
type WatchHandler struct {
	store        storage.Store
	pollInterval time.Duration
}

func NewWatchHandler(store storage.Store) *WatchHandler {
	return &WatchHandler{
		store:        store,
		pollInterval: time.Second,
	}
}

func (h *WatchHandler) HandleConnection(c *websocket.Conn) {
	sessionID := c.Params("session_id")

	defer func() {
		c.Close()
		logger.Debug("Status watch closed", zap.String("session_id", sessionID))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	lastStatus := ""
	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()

	for {
		session, err := h.store.GetSession(ctx, sessionID)
		if err != nil {
			h.send(c, map[string]interface{}{
				"type":  "error",
				"error": "Unknown session_id",
			})
			return
		}

		if session.Status != lastStatus {
			lastStatus = session.Status
			ok := h.send(c, map[string]interface{}{
				"type":        "status",
				"status":      session.Status,
				"is_complete": models.IsTerminalStatus(session.Status),
			})
			if !ok {
				return
			}
		}

		if models.IsTerminalStatus(session.Status) {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (h *WatchHandler) send(c *websocket.Conn, msg map[string]interface{}) bool {
	if err := c.WriteJSON(msg); err != nil {
		logger.Debug("Status watch write failed", zap.Error(err))
		return false
	}
	return true
}
