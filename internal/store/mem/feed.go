package mem

import (
	"context"
	"log/slog"

	"github.com/theuncproject/chatflow/internal/store"
	"github.com/theuncproject/chatflow/pkg/protocol"
)

const feedBuffer = 256

// Feed is an in-process change feed fed by the in-memory message store.
type Feed struct {
	ch chan store.FeedEntry
}

func NewFeed() *Feed {
	return &Feed{ch: make(chan store.FeedEntry, feedBuffer)}
}

// publishInsert enqueues an insert entry. The feed is lossy under
// back-pressure: a full buffer drops the entry rather than blocking the
// write path.
func (f *Feed) publishInsert(image map[string]any) {
	entry := store.FeedEntry{Op: protocol.EventInsert, NewImage: image}
	select {
	case f.ch <- entry:
	default:
		slog.Warn("in-process feed buffer full, dropping entry")
	}
}

func (f *Feed) Entries(ctx context.Context) (<-chan store.FeedEntry, error) {
	out := make(chan store.FeedEntry)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case entry := <-f.ch:
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
