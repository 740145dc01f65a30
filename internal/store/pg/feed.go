package pg

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/theuncproject/chatflow/internal/store"
)

// feedChannel is the NOTIFY channel the messages insert trigger publishes on.
const feedChannel = "chatflow_changes"

const (
	listenerMinReconnect = time.Second
	listenerMaxReconnect = 30 * time.Second
)

// notification is the payload shape emitted by the chatflow_notify_message
// trigger: the operation kind plus a trimmed new-row image.
type notification struct {
	Op  string         `json:"op"`
	New map[string]any `json:"new"`
}

// Feed implements store.Feed on Postgres LISTEN/NOTIFY. It holds its own
// connection via pq.Listener; reconnects are handled by the listener itself.
type Feed struct {
	dsn string
}

func NewFeed(dsn string) *Feed {
	return &Feed{dsn: dsn}
}

func (f *Feed) Entries(ctx context.Context) (<-chan store.FeedEntry, error) {
	listener := pq.NewListener(f.dsn, listenerMinReconnect, listenerMaxReconnect,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				slog.Warn("pg listener event", "event", ev, "error", err)
			}
		})

	if err := listener.Listen(feedChannel); err != nil {
		listener.Close()
		return nil, err
	}
	slog.Info("change feed listening", "channel", feedChannel)

	out := make(chan store.FeedEntry)
	go func() {
		defer close(out)
		defer listener.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case n := <-listener.Notify:
				if n == nil {
					// Connection was re-established; rows inserted during the
					// gap are lost to the feed. At-least-once is provided by
					// the transport upstream, not by this listener.
					slog.Warn("pg listener reconnected, possible missed notifications")
					continue
				}
				var payload notification
				if err := json.Unmarshal([]byte(n.Extra), &payload); err != nil {
					slog.Warn("invalid change notification payload", "error", err)
					continue
				}
				entry := store.FeedEntry{Op: payload.Op, NewImage: payload.New}
				select {
				case out <- entry:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
