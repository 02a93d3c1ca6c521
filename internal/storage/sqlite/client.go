package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/research-agent/backend/internal/storage"
	"github.com/research-agent/backend/internal/storage/models"
	"github.com/research-agent/backend/pkg/logger"
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS query_sessions (
		id TEXT PRIMARY KEY,
		question TEXT NOT NULL,
		status TEXT NOT NULL,
		confidence_level TEXT,
		confidence_reason TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_status ON query_sessions(status);
	CREATE INDEX IF NOT EXISTS idx_sessions_created ON query_sessions(created_at);

	CREATE TABLE IF NOT EXISTS planner_traces (
		session_id TEXT NOT NULL,
		attempt_number INTEGER NOT NULL,
		planner_state TEXT NOT NULL,
		strategy_used TEXT NOT NULL,
		num_docs INTEGER NOT NULL,
		verification_decision TEXT NOT NULL,
		stop_reason TEXT,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (session_id, attempt_number),
		FOREIGN KEY (session_id) REFERENCES query_sessions(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS search_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		attempt_number INTEGER NOT NULL,
		query_used TEXT NOT NULL,
		num_docs INTEGER NOT NULL,
		success INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (session_id) REFERENCES query_sessions(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_search_logs_session ON search_logs(session_id);

	CREATE TABLE IF NOT EXISTS answer_snapshots (
		session_id TEXT PRIMARY KEY,
		answer_text TEXT NOT NULL,
		confidence_level TEXT NOT NULL,
		confidence_reason TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (session_id) REFERENCES query_sessions(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS evidence (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		claim_text TEXT NOT NULL,
		status TEXT NOT NULL,
		source_urls TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (session_id) REFERENCES query_sessions(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_evidence_session ON evidence(session_id);

	CREATE TABLE IF NOT EXISTS query_cache (
		query_hash TEXT PRIMARY KEY,
		payload TEXT NOT NULL,
		expires_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_cache_expires ON query_cache(expires_at);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func (c *Client) CreateSession(ctx context.Context, question string) (*models.QuerySession, error) {
	now := time.Now()
	session := &models.QuerySession{
		ID:        uuid.New().String(),
		Question:  question,
		Status:    models.StatusInit,
		CreatedAt: now,
		UpdatedAt: now,
	}

	query := `INSERT INTO query_sessions (id, question, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`

	_, err := c.db.ExecContext(ctx, query,
		session.ID,
		session.Question,
		session.Status,
		now.Unix(),
		now.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	logger.Debug("Session created", zap.String("session_id", session.ID))
	return session, nil
}

func (c *Client) GetSession(ctx context.Context, sessionID string) (*models.QuerySession, error) {
	query := `
		SELECT id, question, status, COALESCE(confidence_level, ''), COALESCE(confidence_reason, ''), created_at, updated_at
		FROM query_sessions WHERE id = ?
	`

	var s models.QuerySession
	var createdAt, updatedAt int64

	err := c.db.QueryRowContext(ctx, query, sessionID).Scan(
		&s.ID,
		&s.Question,
		&s.Status,
		&s.ConfidenceLevel,
		&s.ConfidenceReason,
		&createdAt,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	s.CreatedAt = time.Unix(createdAt, 0)
	s.UpdatedAt = time.Unix(updatedAt, 0)
	return &s, nil
}

func (c *Client) UpdateSessionStatus(ctx context.Context, sessionID, status string) error {
	query := `UPDATE query_sessions SET status = ?, updated_at = ? WHERE id = ?`

	res, err := c.db.ExecContext(ctx, query, status, time.Now().Unix(), sessionID)
	if err != nil {
		return fmt.Errorf("failed to update session status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (c *Client) FinalizeSession(ctx context.Context, sessionID, status, confidenceLevel, confidenceReason string) error {
	query := `
		UPDATE query_sessions
		SET status = ?, confidence_level = ?, confidence_reason = ?, updated_at = ?
		WHERE id = ?
	`

	res, err := c.db.ExecContext(ctx, query, status, confidenceLevel, confidenceReason, time.Now().Unix(), sessionID)
	if err != nil {
		return fmt.Errorf("failed to finalize session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}

	logger.Info("Session finalized",
		zap.String("session_id", sessionID),
		zap.String("status", status),
		zap.String("confidence", confidenceLevel),
	)
	return nil
}

func (c *Client) AppendPlannerTrace(ctx context.Context, trace *models.PlannerTrace) error {
	query := `
		INSERT INTO planner_traces (session_id, attempt_number, planner_state, strategy_used, num_docs, verification_decision, stop_reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.ExecContext(ctx, query,
		trace.SessionID,
		trace.AttemptNumber,
		trace.PlannerState,
		trace.StrategyUsed,
		trace.NumDocs,
		trace.VerificationDecision,
		trace.StopReason,
		time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to append planner trace: %w", err)
	}

	logger.Debug("Planner trace appended",
		zap.String("session_id", trace.SessionID),
		zap.Int("attempt", trace.AttemptNumber),
		zap.String("decision", trace.VerificationDecision),
	)
	return nil
}

func (c *Client) AppendSearchLog(ctx context.Context, log *models.SearchLog) error {
	query := `
		INSERT INTO search_logs (session_id, attempt_number, query_used, num_docs, success, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	success := 0
	if log.Success {
		success = 1
	}

	_, err := c.db.ExecContext(ctx, query,
		log.SessionID,
		log.AttemptNumber,
		log.QueryUsed,
		log.NumDocs,
		success,
		time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to append search log: %w", err)
	}
	return nil
}

func (c *Client) WriteAnswer(ctx context.Context, snapshot *models.AnswerSnapshot, evidence []models.Evidence) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO answer_snapshots (session_id, answer_text, confidence_level, confidence_reason, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			answer_text = excluded.answer_text,
			confidence_level = excluded.confidence_level,
			confidence_reason = excluded.confidence_reason
	`,
		snapshot.SessionID,
		snapshot.AnswerText,
		snapshot.ConfidenceLevel,
		snapshot.ConfidenceReason,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to write answer snapshot: %w", err)
	}

	if err := insertEvidence(ctx, tx, snapshot.SessionID, evidence, now); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit answer: %w", err)
	}

	logger.Info("Answer snapshot written",
		zap.String("session_id", snapshot.SessionID),
		zap.Int("evidence_count", len(evidence)),
	)
	return nil
}

func (c *Client) BulkWriteEvidence(ctx context.Context, sessionID string, evidence []models.Evidence) error {
	if len(evidence) == 0 {
		return nil
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertEvidence(ctx, tx, sessionID, evidence, time.Now().Unix()); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit evidence: %w", err)
	}
	return nil
}

func insertEvidence(ctx context.Context, tx *sql.Tx, sessionID string, evidence []models.Evidence, now int64) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO evidence (session_id, claim_text, status, source_urls, created_at)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare evidence insert: %w", err)
	}
	defer stmt.Close()

	for _, ev := range evidence {
		urlsJSON, err := json.Marshal(ev.SourceURLs)
		if err != nil {
			return fmt.Errorf("failed to marshal source urls: %w", err)
		}
		_, err = stmt.ExecContext(ctx, sessionID, ev.ClaimText, ev.Status, string(urlsJSON), now)
		if err != nil {
			return fmt.Errorf("failed to insert evidence: %w", err)
		}
	}
	return nil
}

func (c *Client) ReadResult(ctx context.Context, sessionID string) (*models.AnswerSnapshot, []models.Evidence, error) {
	var snapshot *models.AnswerSnapshot
	var createdAt int64
	var s models.AnswerSnapshot

	err := c.db.QueryRowContext(ctx, `
		SELECT session_id, answer_text, confidence_level, confidence_reason, created_at
		FROM answer_snapshots WHERE session_id = ?
	`, sessionID).Scan(&s.SessionID, &s.AnswerText, &s.ConfidenceLevel, &s.ConfidenceReason, &createdAt)
	if err == nil {
		s.CreatedAt = time.Unix(createdAt, 0)
		snapshot = &s
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, nil, fmt.Errorf("failed to read answer snapshot: %w", err)
	}

	rows, err := c.db.QueryContext(ctx, `
		SELECT session_id, claim_text, status, source_urls, created_at
		FROM evidence WHERE session_id = ? ORDER BY id
	`, sessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read evidence: %w", err)
	}
	defer rows.Close()

	var evidence []models.Evidence
	for rows.Next() {
		var ev models.Evidence
		var urlsJSON string
		var evCreated int64
		if err := rows.Scan(&ev.SessionID, &ev.ClaimText, &ev.Status, &urlsJSON, &evCreated); err != nil {
			return nil, nil, fmt.Errorf("failed to scan evidence row: %w", err)
		}
		json.Unmarshal([]byte(urlsJSON), &ev.SourceURLs)
		ev.CreatedAt = time.Unix(evCreated, 0)
		evidence = append(evidence, ev)
	}

	return snapshot, evidence, rows.Err()
}

func (c *Client) ReadTrace(ctx context.Context, sessionID string) ([]models.PlannerTrace, []models.SearchLog, error) {
	traceRows, err := c.db.QueryContext(ctx, `
		SELECT session_id, attempt_number, planner_state, strategy_used, num_docs, verification_decision, COALESCE(stop_reason, ''), created_at
		FROM planner_traces WHERE session_id = ? ORDER BY attempt_number
	`, sessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read planner traces: %w", err)
	}
	defer traceRows.Close()

	var traces []models.PlannerTrace
	for traceRows.Next() {
		var t models.PlannerTrace
		var createdAt int64
		if err := traceRows.Scan(&t.SessionID, &t.AttemptNumber, &t.PlannerState, &t.StrategyUsed, &t.NumDocs, &t.VerificationDecision, &t.StopReason, &createdAt); err != nil {
			return nil, nil, fmt.Errorf("failed to scan trace row: %w", err)
		}
		t.CreatedAt = time.Unix(createdAt, 0)
		traces = append(traces, t)
	}
	if err := traceRows.Err(); err != nil {
		return nil, nil, err
	}

	logRows, err := c.db.QueryContext(ctx, `
		SELECT session_id, attempt_number, query_used, num_docs, success, created_at
		FROM search_logs WHERE session_id = ? ORDER BY id
	`, sessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read search logs: %w", err)
	}
	defer logRows.Close()

	var logs []models.SearchLog
	for logRows.Next() {
		var l models.SearchLog
		var success int
		var createdAt int64
		if err := logRows.Scan(&l.SessionID, &l.AttemptNumber, &l.QueryUsed, &l.NumDocs, &success, &createdAt); err != nil {
			return nil, nil, fmt.Errorf("failed to scan search log row: %w", err)
		}
		l.Success = success == 1
		l.CreatedAt = time.Unix(createdAt, 0)
		logs = append(logs, l)
	}

	return traces, logs, logRows.Err()
}

// Get returns nil on miss. Expired entries are treated as misses and
// reaped opportunistically.
func (c *Client) Get(ctx context.Context, queryHash string) (*models.CachedAnswer, error) {
	var payload string
	var expiresAt int64

	err := c.db.QueryRowContext(ctx, `
		SELECT payload, expires_at FROM query_cache WHERE query_hash = ?
	`, queryHash).Scan(&payload, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read query cache: %w", err)
	}

	if time.Now().Unix() >= expiresAt {
		c.db.ExecContext(ctx, `DELETE FROM query_cache WHERE query_hash = ? AND expires_at = ?`, queryHash, expiresAt)
		return nil, nil
	}

	var entry models.CachedAnswer
	if err := json.Unmarshal([]byte(payload), &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cache entry: %w", err)
	}

	logger.Debug("Query cache hit", zap.String("query_hash", queryHash))
	return &entry, nil
}

// PutIfAbsent is first-writer-wins: a live entry under the same hash
// is never overwritten.
func (c *Client) PutIfAbsent(ctx context.Context, queryHash string, entry *models.CachedAnswer, ttl time.Duration) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	now := time.Now()
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO query_cache (query_hash, payload, expires_at, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(query_hash) DO UPDATE SET
			payload = excluded.payload,
			expires_at = excluded.expires_at,
			created_at = excluded.created_at
		WHERE query_cache.expires_at <= excluded.created_at
	`, queryHash, string(payload), now.Add(ttl).Unix(), now.Unix())
	if err != nil {
		return fmt.Errorf("failed to write query cache: %w", err)
	}

	logger.Debug("Query cached", zap.String("query_hash", queryHash), zap.Duration("ttl", ttl))
	return nil
}
