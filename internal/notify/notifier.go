// Package notify reacts to row-insert events from the durable store's
// change feed: it filters to inbound messages, deduplicates senders within a
// batch, and triggers the external reply service once per sender, gated by
// the session's rate-limit window.
package notify

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/theuncproject/chatflow/internal/store"
	"github.com/theuncproject/chatflow/pkg/protocol"
)

// DefaultCallTimeout bounds one outbound notification call.
const DefaultCallTimeout = 10 * time.Second

// StreamSummary is the structured result of one stream-event invocation.
type StreamSummary struct {
	Message  string `json:"message"`
	Records  int    `json:"records"`
	Notified int    `json:"notified"`
}

// Notifier fans out notifications for a batch of change-feed entries.
type Notifier struct {
	gate        *Gate
	callTimeout time.Duration
}

func NewNotifier(gate *Gate, callTimeout time.Duration) *Notifier {
	if callTimeout <= 0 {
		callTimeout = DefaultCallTimeout
	}
	return &Notifier{gate: gate, callTimeout: callTimeout}
}

// HandleStream processes one change-feed batch. Notifications for distinct
// senders run concurrently and each gets its own timeout; cancelling or
// failing one never touches its siblings, so the feed checkpoint always
// advances.
func (n *Notifier) HandleStream(ctx context.Context, event protocol.StreamEvent) (*StreamSummary, error) {
	if event.Source == protocol.SourceKeepalive {
		slog.Info("received keepalive event")
		return &StreamSummary{Message: "warmed up"}, nil
	}

	senderIDs := collectSenders(event.Records)
	summary := &StreamSummary{
		Message:  "stream processed",
		Records:  len(event.Records),
		Notified: len(senderIDs),
	}
	if len(senderIDs) == 0 {
		slog.Info("no senders to notify", "records", len(event.Records))
		return summary, nil
	}

	slog.Info("notifying reply service", "sender_count", len(senderIDs))

	// Plain group, not WithContext: the first failure must not cancel the
	// other senders' calls. Gate.Notify swallows its own errors anyway.
	var g errgroup.Group
	for _, senderID := range senderIDs {
		senderID := senderID
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(ctx, n.callTimeout)
			defer cancel()
			return n.gate.Notify(callCtx, senderID)
		})
	}
	if err := g.Wait(); err != nil {
		slog.Warn("notification fan-out reported error", "error", err)
	}
	return summary, nil
}

// collectSenders extracts the distinct sender ids of inserted inbound
// messages, sorted for deterministic logging and tests.
func collectSenders(records []protocol.StreamRecord) []string {
	seen := make(map[string]struct{})
	for _, rec := range records {
		if rec.EventName != protocol.EventInsert {
			continue
		}
		image := rec.Change.NewImage
		if len(image) == 0 {
			continue
		}
		chatType, _ := image["chat_type"].(string)
		if chatType != store.ChatTypeInbound {
			slog.Debug("skipping non-inbound message", "chat_type", chatType)
			continue
		}
		senderID, _ := image["sender_id"].(string)
		if senderID == "" {
			slog.Warn("insert record has no sender_id")
			continue
		}
		seen[senderID] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
