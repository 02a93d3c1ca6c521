package storage

import (
	"context"
	"errors"
	"time"

	"github.com/research-agent/backend/internal/storage/models"
)

var ErrNotFound = errors.New("storage: not found")

// Store is the repository capability the planner and the HTTP layer
// depend on. Every method is a single short transaction.
type Store interface {
	CreateSession(ctx context.Context, question string) (*models.QuerySession, error)
	GetSession(ctx context.Context, sessionID string) (*models.QuerySession, error)
	UpdateSessionStatus(ctx context.Context, sessionID, status string) error
	FinalizeSession(ctx context.Context, sessionID, status, confidenceLevel, confidenceReason string) error

	AppendPlannerTrace(ctx context.Context, trace *models.PlannerTrace) error
	AppendSearchLog(ctx context.Context, log *models.SearchLog) error

	// WriteAnswer commits the snapshot and its evidence atomically.
	WriteAnswer(ctx context.Context, snapshot *models.AnswerSnapshot, evidence []models.Evidence) error
	BulkWriteEvidence(ctx context.Context, sessionID string, evidence []models.Evidence) error

	ReadResult(ctx context.Context, sessionID string) (*models.AnswerSnapshot, []models.Evidence, error)
	ReadTrace(ctx context.Context, sessionID string) ([]models.PlannerTrace, []models.SearchLog, error)
}

// QueryCache maps query fingerprints to frozen answer copies. Get
// never returns expired entries; PutIfAbsent is first-writer-wins.
type QueryCache interface {
	Get(ctx context.Context, queryHash string) (*models.CachedAnswer, error)
	PutIfAbsent(ctx context.Context, queryHash string, entry *models.CachedAnswer, ttl time.Duration) error
}
