// Package mem provides in-memory store implementations used in standalone
// mode and in tests. Inserted messages are republished on an in-process
// change feed so the notification path works without Postgres.
package mem

import (
	"encoding/json"
	"log/slog"

	"github.com/theuncproject/chatflow/internal/store"
)

// NewStores creates the full in-memory store set with the feed wired to the
// message store.
func NewStores() *store.Stores {
	feed := NewFeed()
	return &store.Stores{
		Sessions: NewSessionStore(),
		Messages: NewMessageStore(feed),
		Feed:     feed,
	}
}

// imageOf renders a stored message as the generic field map carried by
// change-feed entries.
func imageOf(m store.Message) map[string]any {
	data, err := json.Marshal(m)
	if err != nil {
		slog.Warn("marshal feed image", "error", err)
		return nil
	}
	var image map[string]any
	if err := json.Unmarshal(data, &image); err != nil {
		return nil
	}
	return image
}
