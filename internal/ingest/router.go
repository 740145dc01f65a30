// Package ingest routes batched queue events into storage: parse each raw
// record, group by sender, resolve the sender's active session, and write
// the group in bounded batches. One bad record or one failing sender never
// takes down the rest of the batch.
package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/theuncproject/chatflow/internal/store"
	"github.com/theuncproject/chatflow/internal/wire"
	"github.com/theuncproject/chatflow/pkg/protocol"
)

// RecordFailure describes one record that was skipped during grouping.
type RecordFailure struct {
	MessageID string `json:"message_id"` // transport-assigned identifier
	Reason    string `json:"reason"`
}

// Summary is the structured result of one batch invocation.
type Summary struct {
	Message       string          `json:"message"`
	TotalRecords  int             `json:"total_records"`
	SenderCount   int             `json:"sender_count"`
	Stored        int             `json:"stored"`
	Skipped       []RecordFailure `json:"skipped,omitempty"`
	FailedSenders []string        `json:"failed_senders,omitempty"`
}

// Router drives the ingestion write path.
type Router struct {
	sessions store.SessionStore
	messages store.MessageStore
}

func NewRouter(sessions store.SessionStore, messages store.MessageStore) *Router {
	return &Router{sessions: sessions, messages: messages}
}

// GroupBySender parses each record and groups the results by sender id,
// preserving arrival order within a sender. Records that fail to parse are
// skipped and reported; they never abort the batch.
func GroupBySender(records []protocol.QueueRecord) (map[string][]*wire.ParsedMessage, []RecordFailure) {
	groups := make(map[string][]*wire.ParsedMessage)
	var skipped []RecordFailure

	for _, rec := range records {
		pm, err := wire.ParseBody(rec.Body)
		if err != nil {
			slog.Error("skipping unparseable record", "message_id", rec.MessageID, "error", err)
			skipped = append(skipped, RecordFailure{MessageID: rec.MessageID, Reason: err.Error()})
			continue
		}
		groups[pm.Sender.ID] = append(groups[pm.Sender.ID], pm)
	}

	slog.Info("grouped messages",
		"record_count", len(records), "sender_count", len(groups), "skipped", len(skipped))
	return groups, skipped
}

// ProcessBatch handles one queue event. Keepalive events and empty batches
// succeed without touching storage. Per-sender failures are recorded in the
// summary; only a failure before grouping begins returns an error.
func (r *Router) ProcessBatch(ctx context.Context, event protocol.QueueEvent) (*Summary, error) {
	if event.Source == protocol.SourceKeepalive {
		slog.Info("received keepalive event")
		return &Summary{Message: "warmed up"}, nil
	}

	if len(event.Records) == 0 {
		slog.Info("no records in event")
		return &Summary{Message: "no messages to process"}, nil
	}

	groups, skipped := GroupBySender(event.Records)

	summary := &Summary{
		Message:      "batch processing complete",
		TotalRecords: len(event.Records),
		SenderCount:  len(groups),
		Skipped:      skipped,
	}

	for senderID, msgs := range groups {
		if err := r.processSender(ctx, senderID, msgs); err != nil {
			slog.Error("failed to process sender group",
				"sender_id", senderID, "message_count", len(msgs), "error", err)
			summary.FailedSenders = append(summary.FailedSenders, senderID)
			continue
		}
		summary.Stored += len(msgs)
	}

	slog.Info("batch processing complete",
		"total_records", summary.TotalRecords,
		"sender_count", summary.SenderCount,
		"stored", summary.Stored,
		"failed_senders", len(summary.FailedSenders),
	)
	return summary, nil
}

// processSender resolves the sender's active session and stores the group.
func (r *Router) processSender(ctx context.Context, senderID string, msgs []*wire.ParsedMessage) error {
	sessionID, err := r.sessions.GetOrCreateActiveSession(ctx, senderID)
	if err != nil {
		return fmt.Errorf("resolve session: %w", err)
	}
	if err := r.messages.StoreBatch(ctx, sessionID, senderID, msgs); err != nil {
		return fmt.Errorf("store messages: %w", err)
	}
	return nil
}
