package notify

import (
	"context"
	"log/slog"

	"github.com/theuncproject/chatflow/internal/store"
)

// Gate checks a sender's rate-limit window before calling the reply service.
// Everything here is best-effort: a failed rate-limit read fails open, a
// failed call is logged and swallowed.
type Gate struct {
	sessions store.SessionStore
	client   *ReplyClient
}

func NewGate(sessions store.SessionStore, client *ReplyClient) *Gate {
	return &Gate{sessions: sessions, client: client}
}

// Notify triggers the reply service for senderID unless the sender's active
// session is rate limited. Always returns nil; failures are logged.
func (g *Gate) Notify(ctx context.Context, senderID string) error {
	until, limited, err := g.sessions.RateLimitedUntil(ctx, senderID)
	if err != nil {
		// Fail open: a broken session read must not block the notification.
		slog.Error("rate limit lookup failed, proceeding", "sender_id", senderID, "error", err)
	} else if limited {
		slog.Info("sender rate limited, skipping notification",
			"sender_id", senderID, "until", until)
		return nil
	}

	if err := g.client.Notify(ctx, senderID); err != nil {
		slog.Warn("reply service notification failed", "sender_id", senderID, "error", err)
		return nil
	}

	slog.Info("notified reply service", "sender_id", senderID)
	return nil
}
