// Package store defines the durable-store abstractions the pipeline writes
// through: session lookup-or-create, batched message writes, and the
// change feed that decouples ingestion from notification.
package store

import (
	"context"
	"time"

	"github.com/theuncproject/chatflow/internal/wire"
)

// BatchChunkSize bounds one batched message write.
const BatchChunkSize = 25

// SessionStore manages the per-sender active-session abstraction.
type SessionStore interface {
	// GetOrCreateActiveSession returns the most recently created active
	// session for the sender, creating one if none exists. Two concurrent
	// calls for the same sender may both create a session; reads converge
	// on the newest one.
	GetOrCreateActiveSession(ctx context.Context, senderID string) (string, error)

	// RateLimitedUntil reports whether the sender's active session carries
	// a rate-limit timestamp in the future. Absent session, absent field,
	// or a past timestamp all mean not limited.
	RateLimitedUntil(ctx context.Context, senderID string) (time.Time, bool, error)
}

// MessageStore persists normalized message records.
type MessageStore interface {
	// StoreBatch writes msgs in chunks of at most BatchChunkSize. A failed
	// chunk is logged and does not stop later chunks; chunk failures are
	// joined into the returned error.
	StoreBatch(ctx context.Context, sessionID, senderID string, msgs []*wire.ParsedMessage) error
}

// FeedEntry is one row-level change surfaced by the backend.
type FeedEntry struct {
	Op       string         // protocol.EventInsert etc.
	NewImage map[string]any // stored message fields, insert only
}

// Feed delivers row-change entries emitted by the message store.
type Feed interface {
	// Entries starts the feed and returns its delivery channel. The channel
	// is closed when ctx is cancelled or the feed shuts down.
	Entries(ctx context.Context) (<-chan FeedEntry, error)
}

// Stores is the top-level container for the storage backends. Feed is nil
// when the backend has no change feed wired (e.g. migrations-only use).
type Stores struct {
	Sessions SessionStore
	Messages MessageStore
	Feed     Feed
}
