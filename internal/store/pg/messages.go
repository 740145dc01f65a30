package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/theuncproject/chatflow/internal/store"
	"github.com/theuncproject/chatflow/internal/wire"
)

// MessageStore implements store.MessageStore backed by Postgres.
type MessageStore struct {
	db *sql.DB
}

func NewMessageStore(db *sql.DB) *MessageStore {
	return &MessageStore{db: db}
}

const messageColumns = 9

// StoreBatch writes msgs in chunks of store.BatchChunkSize, one multi-row
// upsert per chunk. A failed chunk is logged and later chunks are still
// attempted; the chunk errors are joined into the returned error.
func (s *MessageStore) StoreBatch(ctx context.Context, sessionID, senderID string, msgs []*wire.ParsedMessage) error {
	createdAt := time.Now().Unix()

	var errs []error
	for i, chunk := range store.Chunk(msgs, store.BatchChunkSize) {
		if err := s.storeChunk(ctx, sessionID, senderID, chunk, createdAt); err != nil {
			slog.Error("message chunk write failed",
				"sender_id", senderID,
				"session_id", sessionID,
				"chunk", i,
				"chunk_size", len(chunk),
				"error", err,
			)
			errs = append(errs, fmt.Errorf("chunk %d: %w", i, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("store batch for sender %s: %w", senderID, errors.Join(errs...))
	}

	slog.Info("stored chat messages",
		"message_count", len(msgs), "session_id", sessionID, "sender_id", senderID)
	return nil
}

func (s *MessageStore) storeChunk(ctx context.Context, sessionID, senderID string, chunk []*wire.ParsedMessage, createdAt int64) error {
	// Postgres rejects an upsert touching the same conflict key twice in one
	// statement, so duplicates within a chunk collapse to the last occurrence.
	rows := make([]store.Message, 0, len(chunk))
	byKey := make(map[[2]string]int, len(chunk))
	for _, pm := range chunk {
		m := store.NewInboundMessage(sessionID, senderID, pm, createdAt)
		key := [2]string{m.Metadata.AccountID, m.MessageID}
		if idx, ok := byKey[key]; ok {
			rows[idx] = m
			continue
		}
		byKey[key] = len(rows)
		rows = append(rows, m)
	}

	var sb strings.Builder
	sb.WriteString(`INSERT INTO messages
		(account_id, message_id, sender_id, chat_type, session_id, content, sender_info, metadata, created_at) VALUES `)

	args := make([]any, 0, len(rows)*messageColumns)
	for i, m := range rows {
		content, err := json.Marshal(m.Content)
		if err != nil {
			return fmt.Errorf("marshal content: %w", err)
		}
		senderInfo, err := json.Marshal(m.SenderInfo)
		if err != nil {
			return fmt.Errorf("marshal sender info: %w", err)
		}
		metadata, err := json.Marshal(m.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}

		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * messageColumns
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9)
		args = append(args, m.Metadata.AccountID, m.MessageID, m.SenderID, m.ChatType,
			m.SessionID, content, senderInfo, metadata, m.CreatedAt)
	}

	// message_id is unique per account; redelivery overwrites (last write wins).
	sb.WriteString(` ON CONFLICT (account_id, message_id) DO UPDATE SET
		sender_id = EXCLUDED.sender_id,
		chat_type = EXCLUDED.chat_type,
		session_id = EXCLUDED.session_id,
		content = EXCLUDED.content,
		sender_info = EXCLUDED.sender_info,
		metadata = EXCLUDED.metadata,
		created_at = EXCLUDED.created_at`)

	if _, err := s.db.ExecContext(ctx, sb.String(), args...); err != nil {
		return err
	}
	return nil
}
