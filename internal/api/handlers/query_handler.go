package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/research-agent/backend/internal/metrics"
	"github.com/research-agent/backend/internal/storage"
	"github.com/research-agent/backend/internal/storage/models"
	"github.com/research-agent/backend/internal/synthesis"
	"github.com/research-agent/backend/internal/worker"
	"github.com/research-agent/backend/pkg/logger"
)

type QueryHandler struct {
	store      storage.Store
	pool       *worker.Pool
	traceToken string
}

func NewQueryHandler(store storage.Store, pool *worker.Pool, traceToken string) *QueryHandler {
	return &QueryHandler{
		store:      store,
		pool:       pool,
		traceToken: traceToken,
	}
}

// SubmitQuery creates a session and enqueues it; the planner runs on
// the worker pool, never on the request goroutine.
func (h *QueryHandler) SubmitQuery(c *fiber.Ctx) error {
	var req struct {
		Question string `json:"question"`
	}

	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Question == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Question is required",
		})
	}

	session, err := h.store.CreateSession(c.Context(), req.Question)
	if err != nil {
		logger.Error("Failed to create session", zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Storage temporarily unavailable. Please retry later.",
		})
	}

	if err := h.pool.Enqueue(worker.Job{SessionID: session.ID}); err != nil {
		logger.Error("Failed to enqueue session", zap.String("session_id", session.ID), zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Service is overloaded. Please retry later.",
		})
	}

	metrics.SessionsStarted.Inc()

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"session_id": session.ID,
		"status":     session.Status,
	})
}

func (h *QueryHandler) GetStatus(c *fiber.Ctx) error {
	session, errResp := h.loadSession(c)
	if session == nil {
		return errResp
	}

	return c.JSON(fiber.Map{
		"status":      session.Status,
		"is_complete": models.IsTerminalStatus(session.Status),
	})
}

func (h *QueryHandler) GetResult(c *fiber.Ctx) error {
	session, errResp := h.loadSession(c)
	if session == nil {
		return errResp
	}

	if !models.IsTerminalStatus(session.Status) {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Result not ready",
		})
	}

	snapshot, evidence, err := h.store.ReadResult(c.Context(), session.ID)
	if err != nil {
		logger.Error("Failed to read result", zap.String("session_id", session.ID), zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Storage temporarily unavailable. Please retry later.",
		})
	}

	answer := synthesis.AbstentionAnswer
	level := session.ConfidenceLevel
	reason := session.ConfidenceReason
	if level == "" {
		level = models.ConfidenceLow
	}
	if snapshot != nil {
		answer = snapshot.AnswerText
		level = snapshot.ConfidenceLevel
		reason = snapshot.ConfidenceReason
	}

	evidenceItems := make([]fiber.Map, 0, len(evidence))
	for _, ev := range evidence {
		source := ""
		if len(ev.SourceURLs) > 0 {
			source = ev.SourceURLs[0]
		}
		evidenceItems = append(evidenceItems, fiber.Map{
			"claim":   ev.ClaimText,
			"status":  ev.Status,
			"source":  source,
			"sources": ev.SourceURLs,
		})
	}

	return c.JSON(fiber.Map{
		"answer":            answer,
		"confidence_level":  level,
		"confidence_reason": reason,
		"evidence":          evidenceItems,
	})
}

// GetTrace exposes the planner's decision audit. When a trace token is
// configured, requests must carry it in the X-Internal-Token header;
// with no token configured the endpoint is not gated.
func (h *QueryHandler) GetTrace(c *fiber.Ctx) error {
	if h.traceToken != "" && c.Get("X-Internal-Token") != h.traceToken {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "Forbidden",
		})
	}

	session, errResp := h.loadSession(c)
	if session == nil {
		return errResp
	}

	traces, searchLogs, err := h.store.ReadTrace(c.Context(), session.ID)
	if err != nil {
		logger.Error("Failed to read trace", zap.String("session_id", session.ID), zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Storage temporarily unavailable. Please retry later.",
		})
	}

	traceItems := make([]fiber.Map, 0, len(traces))
	for _, t := range traces {
		traceItems = append(traceItems, fiber.Map{
			"attempt_number":        t.AttemptNumber,
			"planner_state":         t.PlannerState,
			"strategy_used":         t.StrategyUsed,
			"num_docs":              t.NumDocs,
			"verification_decision": t.VerificationDecision,
			"stop_reason":           t.StopReason,
			"created_at":            t.CreatedAt,
		})
	}

	logItems := make([]fiber.Map, 0, len(searchLogs))
	for _, l := range searchLogs {
		logItems = append(logItems, fiber.Map{
			"attempt_number": l.AttemptNumber,
			"query_used":     l.QueryUsed,
			"num_docs":       l.NumDocs,
			"success":        l.Success,
			"created_at":     l.CreatedAt,
		})
	}

	return c.JSON(fiber.Map{
		"planner_traces": traceItems,
		"search_logs":    logItems,
	})
}

// loadSession resolves the path parameter; on failure the fiber error
// response is already written and a nil session is returned.
func (h *QueryHandler) loadSession(c *fiber.Ctx) (*models.QuerySession, error) {
	sessionID := c.Params("session_id")
	if _, err := uuid.Parse(sessionID); err != nil {
		return nil, c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Unknown session_id",
		})
	}

	session, err := h.store.GetSession(c.Context(), sessionID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Unknown session_id",
		})
	}
	if err != nil {
		logger.Error("Failed to load session", zap.String("session_id", sessionID), zap.Error(err))
		return nil, c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Storage temporarily unavailable. Please retry later.",
		})
	}

	return session, nil
}
