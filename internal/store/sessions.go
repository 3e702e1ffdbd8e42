package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rahul/dealdesk/internal/observability"
)

// DefaultMaxTurns bounds the history loaded into a turn.
const DefaultMaxTurns = 40

// SessionStore persists conversation sessions and their ordered turns.
type SessionStore struct {
	db       *sql.DB
	maxTurns int
	logger   *observability.Logger
}

// NewSessionStore wraps db. maxTurns <= 0 means DefaultMaxTurns.
func NewSessionStore(db *sql.DB, maxTurns int, logger *observability.Logger) *SessionStore {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	return &SessionStore{db: db, maxTurns: maxTurns, logger: logger}
}

// Load returns the session with the given id, or a fresh one if none is
// stored. The history is truncated to the newest turns and sanitized so that
// every tool result answers a call in the same history.
func (s *SessionStore) Load(ctx context.Context, id string) (*Session, error) {
	sess, err := s.loadSession(ctx, id)
	if errors.Is(err, ErrNotFound) {
		now := time.Now().UTC()
		return &Session{ID: id, CreatedAt: now, UpdatedAt: now}, nil
	}
	if err != nil {
		return nil, err
	}

	turns, err := s.loadTurns(ctx, id)
	if err != nil {
		return nil, err
	}
	turns = Truncate(turns, s.maxTurns)
	turns, dropped := Sanitize(turns)
	if dropped > 0 {
		s.logger.LogSanitize(id, dropped)
	}
	sess.Turns = turns
	return sess, nil
}

func (s *SessionStore) loadSession(ctx context.Context, id string) (*Session, error) {
	const q = `SELECT session_id, entity_ref, last_executor, awaiting_confirmation, pending_action, created_at, updated_at
FROM sessions WHERE session_id = ?`

	var sess Session
	var awaiting int
	var created, updated int64
	err := s.db.QueryRowContext(ctx, q, id).Scan(&sess.ID, &sess.EntityRef, &sess.LastExecutor,
		&awaiting, &sess.PendingAction, &created, &updated)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	sess.AwaitingConfirmation = awaiting != 0
	sess.CreatedAt = time.Unix(created, 0).UTC()
	sess.UpdatedAt = time.Unix(updated, 0).UTC()
	return &sess, nil
}

func (s *SessionStore) loadTurns(ctx context.Context, id string) ([]Turn, error) {
	const q = `SELECT role, content, tool_calls_json, tool_call_id, tool_name, created_at
FROM turns WHERE session_id = ? ORDER BY seq ASC`

	rows, err := s.db.QueryContext(ctx, q, id)
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		var role, callsJSON string
		var created int64
		if err := rows.Scan(&role, &t.Content, &callsJSON, &t.ToolCallID, &t.ToolName, &created); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		t.Role = Role(role)
		t.CreatedAt = time.Unix(created, 0).UTC()
		if callsJSON != "" {
			if err := json.Unmarshal([]byte(callsJSON), &t.ToolCalls); err != nil {
				return nil, fmt.Errorf("decode tool calls: %w", err)
			}
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// Save writes the session and replaces its stored history in a single
// transaction. Concurrent saves of one session are last-writer-wins.
func (s *SessionStore) Save(ctx context.Context, sess *Session) error {
	now := time.Now().UTC()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	sess.UpdatedAt = now

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	const upsert = `INSERT INTO sessions (session_id, entity_ref, last_executor, awaiting_confirmation, pending_action, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(session_id) DO UPDATE SET
	entity_ref = excluded.entity_ref,
	last_executor = excluded.last_executor,
	awaiting_confirmation = excluded.awaiting_confirmation,
	pending_action = excluded.pending_action,
	updated_at = excluded.updated_at`
	if _, err := tx.ExecContext(ctx, upsert, sess.ID, sess.EntityRef, sess.LastExecutor,
		boolInt(sess.AwaitingConfirmation), sess.PendingAction, sess.CreatedAt.Unix(), sess.UpdatedAt.Unix()); err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM turns WHERE session_id = ?`, sess.ID); err != nil {
		return fmt.Errorf("clear turns: %w", err)
	}

	const insert = `INSERT INTO turns (session_id, seq, role, content, tool_calls_json, tool_call_id, tool_name, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	for i, t := range sess.Turns {
		callsJSON := ""
		if len(t.ToolCalls) > 0 {
			b, err := json.Marshal(t.ToolCalls)
			if err != nil {
				return fmt.Errorf("encode tool calls: %w", err)
			}
			callsJSON = string(b)
		}
		created := t.CreatedAt
		if created.IsZero() {
			created = now
		}
		if _, err := tx.ExecContext(ctx, insert, sess.ID, i, string(t.Role), t.Content,
			callsJSON, t.ToolCallID, t.ToolName, created.Unix()); err != nil {
			return fmt.Errorf("insert turn %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// DeleteIdle removes sessions not updated since before, with their turns.
func (s *SessionStore) DeleteIdle(ctx context.Context, before time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	cutoff := before.Unix()
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM turns WHERE session_id IN (SELECT session_id FROM sessions WHERE updated_at < ?)`, cutoff); err != nil {
		return 0, fmt.Errorf("delete idle turns: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE updated_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete idle sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("check rows affected: %w", err)
	}
	return n, tx.Commit()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
