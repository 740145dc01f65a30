package mem

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/theuncproject/chatflow/internal/store"
)

// SessionStore is an in-memory store.SessionStore.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string][]*store.Session // senderID → sessions, append order
}

func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string][]*store.Session)}
}

// activeLocked returns the most recently created active session, or nil.
func (s *SessionStore) activeLocked(senderID string) *store.Session {
	var latest *store.Session
	for _, sess := range s.sessions[senderID] {
		if sess.Status != store.SessionActive {
			continue
		}
		if latest == nil || sess.CreatedAt >= latest.CreatedAt {
			latest = sess
		}
	}
	return latest
}

func (s *SessionStore) GetOrCreateActiveSession(_ context.Context, senderID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess := s.activeLocked(senderID); sess != nil {
		return sess.SessionID, nil
	}

	sess := &store.Session{
		SessionID: uuid.NewString(),
		SenderID:  senderID,
		Status:    store.SessionActive,
		CreatedAt: time.Now().Unix(),
	}
	s.sessions[senderID] = append(s.sessions[senderID], sess)
	slog.Info("created session", "session_id", sess.SessionID, "sender_id", senderID)
	return sess.SessionID, nil
}

func (s *SessionStore) RateLimitedUntil(_ context.Context, senderID string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.activeLocked(senderID)
	if sess == nil || sess.UserLimitedUntil == nil {
		return time.Time{}, false, nil
	}
	if until := *sess.UserLimitedUntil; until.After(time.Now()) {
		return until, true, nil
	}
	return time.Time{}, false, nil
}

// SetRateLimit stamps the sender's active session with a rate-limit window.
// The field is otherwise written by an external collaborator, so this exists
// for standalone tooling and tests.
func (s *SessionStore) SetRateLimit(senderID string, until time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess := s.activeLocked(senderID); sess != nil {
		sess.UserLimitedUntil = &until
	}
}

// CloseActive marks the sender's active session closed.
func (s *SessionStore) CloseActive(senderID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess := s.activeLocked(senderID); sess != nil {
		sess.Status = store.SessionClosed
	}
}
