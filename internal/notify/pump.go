package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/theuncproject/chatflow/internal/store"
	"github.com/theuncproject/chatflow/pkg/protocol"
)

const (
	// pumpBatchMax caps how many feed entries are handed to the notifier at
	// once; pumpBatchWindow is how long the pump coalesces entries so that a
	// burst from one sender collapses into a single notification.
	pumpBatchMax    = 64
	pumpBatchWindow = 250 * time.Millisecond
)

// RunPump consumes the store's change feed and drives the notifier with
// coalesced batches until ctx is cancelled. It returns when the feed channel
// closes or the context ends.
func RunPump(ctx context.Context, feed store.Feed, notifier *Notifier) error {
	entries, err := feed.Entries(ctx)
	if err != nil {
		return err
	}
	slog.Info("change feed pump started")

	for {
		entry, ok := <-entries
		if !ok {
			slog.Info("change feed pump stopped")
			return nil
		}
		batch := []store.FeedEntry{entry}

		// Coalesce whatever else arrives within the window.
		timer := time.NewTimer(pumpBatchWindow)
	collect:
		for len(batch) < pumpBatchMax {
			select {
			case next, more := <-entries:
				if !more {
					break collect
				}
				batch = append(batch, next)
			case <-timer.C:
				break collect
			}
		}
		timer.Stop()

		event := protocol.StreamEvent{Records: make([]protocol.StreamRecord, 0, len(batch))}
		for _, e := range batch {
			event.Records = append(event.Records, protocol.StreamRecord{
				EventName: e.Op,
				Change:    protocol.StreamChange{NewImage: e.NewImage},
			})
		}

		if _, err := notifier.HandleStream(ctx, event); err != nil {
			slog.Error("stream batch failed", "records", len(event.Records), "error", err)
		}
	}
}
