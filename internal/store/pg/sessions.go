package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/theuncproject/chatflow/internal/store"
)

// SessionStore implements store.SessionStore backed by Postgres.
type SessionStore struct {
	db *sql.DB
}

func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{db: db}
}

// activeSessionQuery selects the canonical active session for a sender:
// newest active one wins. Concurrent creates can leave more than one active
// row; this read resolves them deterministically instead of locking.
const activeSessionQuery = `
	SELECT session_id, user_limited_until
	  FROM sessions
	 WHERE sender_id = $1 AND status = $2
	 ORDER BY created_at DESC
	 LIMIT 1`

func (s *SessionStore) GetOrCreateActiveSession(ctx context.Context, senderID string) (string, error) {
	var sessionID string
	var limitedUntil sql.NullTime
	err := s.db.QueryRowContext(ctx, activeSessionQuery, senderID, store.SessionActive).
		Scan(&sessionID, &limitedUntil)
	if err == nil {
		return sessionID, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("query active session: %w", err)
	}

	sessionID = uuid.NewString()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, sender_id, status, created_at) VALUES ($1, $2, $3, $4)`,
		sessionID, senderID, store.SessionActive, time.Now().Unix(),
	)
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}

	slog.Info("created session", "session_id", sessionID, "sender_id", senderID)
	return sessionID, nil
}

func (s *SessionStore) RateLimitedUntil(ctx context.Context, senderID string) (time.Time, bool, error) {
	var sessionID string
	var limitedUntil sql.NullTime
	err := s.db.QueryRowContext(ctx, activeSessionQuery, senderID, store.SessionActive).
		Scan(&sessionID, &limitedUntil)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("query active session: %w", err)
	}
	if !limitedUntil.Valid || !limitedUntil.Time.After(time.Now()) {
		return time.Time{}, false, nil
	}
	return limitedUntil.Time, true, nil
}
