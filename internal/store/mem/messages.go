package mem

import (
	"context"
	"sync"
	"time"

	"github.com/theuncproject/chatflow/internal/store"
	"github.com/theuncproject/chatflow/internal/wire"
)

// MessageStore is an in-memory store.MessageStore. Writes are keyed by
// (account_id, message_id) so redelivery overwrites instead of duplicating.
type MessageStore struct {
	mu       sync.Mutex
	byKey    map[[2]string]int // (accountID, messageID) → index in rows
	rows     []store.Message
	writeOps int
	feed     *Feed
}

// NewMessageStore creates a message store publishing inserts to feed.
// feed may be nil.
func NewMessageStore(feed *Feed) *MessageStore {
	return &MessageStore{byKey: make(map[[2]string]int), feed: feed}
}

func (s *MessageStore) StoreBatch(_ context.Context, sessionID, senderID string, msgs []*wire.ParsedMessage) error {
	createdAt := time.Now().Unix()

	for _, chunk := range store.Chunk(msgs, store.BatchChunkSize) {
		var inserted []store.Message

		s.mu.Lock()
		s.writeOps++
		for _, pm := range chunk {
			m := store.NewInboundMessage(sessionID, senderID, pm, createdAt)
			key := [2]string{m.Metadata.AccountID, m.MessageID}
			if idx, ok := s.byKey[key]; ok {
				s.rows[idx] = m // last write wins
				continue
			}
			s.byKey[key] = len(s.rows)
			s.rows = append(s.rows, m)
			inserted = append(inserted, m)
		}
		s.mu.Unlock()

		if s.feed != nil {
			for _, m := range inserted {
				s.feed.publishInsert(imageOf(m))
			}
		}
	}
	return nil
}

// WriteOps reports how many batched write operations have been issued.
func (s *MessageStore) WriteOps() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeOps
}

// Messages returns a copy of all stored rows in insertion order.
func (s *MessageStore) Messages() []store.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.Message, len(s.rows))
	copy(out, s.rows)
	return out
}
