package mem

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/theuncproject/chatflow/internal/store"
	"github.com/theuncproject/chatflow/internal/wire"
	"github.com/theuncproject/chatflow/pkg/protocol"
)

func parsed(senderID, messageID, text string) *wire.ParsedMessage {
	return &wire.ParsedMessage{
		Channel:  "whatsapp",
		Sender:   wire.Sender{ID: senderID},
		Content:  wire.Content{Text: text, Segments: 1},
		Metadata: wire.Metadata{MessageID: messageID, AccountID: "AC001"},
	}
}

func TestSessionStore_GetOrCreate(t *testing.T) {
	ctx := context.Background()
	s := NewSessionStore()

	first, err := s.GetOrCreateActiveSession(ctx, "123")
	if err != nil {
		t.Fatal(err)
	}
	if first == "" {
		t.Fatal("expected a session id")
	}

	second, err := s.GetOrCreateActiveSession(ctx, "123")
	if err != nil {
		t.Fatal(err)
	}
	if second != first {
		t.Errorf("second call = %q, want the session created by the first call %q", second, first)
	}

	other, err := s.GetOrCreateActiveSession(ctx, "456")
	if err != nil {
		t.Fatal(err)
	}
	if other == first {
		t.Error("different senders must not share a session")
	}
}

func TestSessionStore_NewSessionAfterClose(t *testing.T) {
	ctx := context.Background()
	s := NewSessionStore()

	first, _ := s.GetOrCreateActiveSession(ctx, "123")
	s.CloseActive("123")

	second, err := s.GetOrCreateActiveSession(ctx, "123")
	if err != nil {
		t.Fatal(err)
	}
	if second == first {
		t.Error("closed session must not be reused")
	}
}

func TestSessionStore_RateLimitedUntil(t *testing.T) {
	ctx := context.Background()
	s := NewSessionStore()
	s.GetOrCreateActiveSession(ctx, "123")

	t.Run("no limit set", func(t *testing.T) {
		if _, limited, _ := s.RateLimitedUntil(ctx, "123"); limited {
			t.Error("sender without limit reported limited")
		}
	})

	t.Run("future limit", func(t *testing.T) {
		until := time.Now().Add(time.Hour)
		s.SetRateLimit("123", until)
		got, limited, err := s.RateLimitedUntil(ctx, "123")
		if err != nil {
			t.Fatal(err)
		}
		if !limited || !got.Equal(until) {
			t.Errorf("limited=%v until=%v, want true/%v", limited, got, until)
		}
	})

	t.Run("past limit", func(t *testing.T) {
		s.SetRateLimit("123", time.Now().Add(-time.Hour))
		if _, limited, _ := s.RateLimitedUntil(ctx, "123"); limited {
			t.Error("expired limit reported limited")
		}
	})

	t.Run("unknown sender", func(t *testing.T) {
		if _, limited, _ := s.RateLimitedUntil(ctx, "nobody"); limited {
			t.Error("unknown sender reported limited")
		}
	})
}

func TestMessageStore_ChunkedWrites(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		count int
		ops   int
	}{
		{1, 1},
		{25, 1},
		{26, 2},
		{60, 3},
	}
	for _, tc := range cases {
		s := NewMessageStore(nil)
		var msgs []*wire.ParsedMessage
		for i := 0; i < tc.count; i++ {
			msgs = append(msgs, parsed("123", fmt.Sprintf("SM%03d", i), "hi"))
		}
		if err := s.StoreBatch(ctx, "sess-1", "123", msgs); err != nil {
			t.Fatal(err)
		}
		if got := s.WriteOps(); got != tc.ops {
			t.Errorf("%d messages: %d write ops, want %d", tc.count, got, tc.ops)
		}
		if got := len(s.Messages()); got != tc.count {
			t.Errorf("%d messages: stored %d", tc.count, got)
		}
	}
}

func TestMessageStore_RedeliveryOverwrites(t *testing.T) {
	ctx := context.Background()
	s := NewMessageStore(nil)

	if err := s.StoreBatch(ctx, "sess-1", "123", []*wire.ParsedMessage{parsed("123", "SM001", "first")}); err != nil {
		t.Fatal(err)
	}
	if err := s.StoreBatch(ctx, "sess-1", "123", []*wire.ParsedMessage{parsed("123", "SM001", "second")}); err != nil {
		t.Fatal(err)
	}

	rows := s.Messages()
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1 (last write wins)", len(rows))
	}
	if rows[0].Content.Text != "second" {
		t.Errorf("text = %q, want second", rows[0].Content.Text)
	}
}

func TestFeed_DeliversInserts(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	stores := NewStores()
	entries, err := stores.Feed.Entries(ctx)
	if err != nil {
		t.Fatal(err)
	}

	if err := stores.Messages.StoreBatch(ctx, "sess-1", "123", []*wire.ParsedMessage{parsed("123", "SM001", "hi")}); err != nil {
		t.Fatal(err)
	}

	select {
	case entry := <-entries:
		if entry.Op != protocol.EventInsert {
			t.Errorf("op = %q, want INSERT", entry.Op)
		}
		if entry.NewImage["sender_id"] != "123" {
			t.Errorf("sender_id = %v", entry.NewImage["sender_id"])
		}
		if entry.NewImage["chat_type"] != store.ChatTypeInbound {
			t.Errorf("chat_type = %v", entry.NewImage["chat_type"])
		}
	case <-ctx.Done():
		t.Fatal("no feed entry delivered")
	}
}

func TestFeed_NoEntryForOverwrite(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	feed := NewFeed()
	s := NewMessageStore(feed)
	entries, err := feed.Entries(ctx)
	if err != nil {
		t.Fatal(err)
	}

	s.StoreBatch(ctx, "sess-1", "123", []*wire.ParsedMessage{parsed("123", "SM001", "first")})
	s.StoreBatch(ctx, "sess-1", "123", []*wire.ParsedMessage{parsed("123", "SM001", "second")})

	<-entries // the initial insert
	select {
	case entry := <-entries:
		t.Errorf("overwrite emitted a feed entry: %+v", entry)
	case <-time.After(100 * time.Millisecond):
	}
}
