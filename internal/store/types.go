package store

import (
	"time"

	"github.com/theuncproject/chatflow/internal/wire"
)

// Message direction tags as stored in the chat_type column.
const (
	ChatTypeInbound  = "inbound"
	ChatTypeOutbound = "outbound"
)

// Session status values.
const (
	SessionActive = "active"
	SessionClosed = "closed"
)

// Session is one conversation window for a sender. At most one active
// session per sender is treated as canonical; when more exist the
// most-recently-created one wins on read.
type Session struct {
	SessionID        string     `json:"session_id"`
	SenderID         string     `json:"sender_id"`
	Status           string     `json:"status"`
	CreatedAt        int64      `json:"created_at"` // epoch seconds
	UserLimitedUntil *time.Time `json:"user_limited_until,omitempty"`
}

// Message is the normalized stored form of one inbound chat message.
// Immutable once written; duplicate delivery of the same message id
// overwrites (last write wins).
type Message struct {
	SenderID   string        `json:"sender_id"`
	ChatType   string        `json:"chat_type"`
	SessionID  string        `json:"session_id"`
	MessageID  string        `json:"message_id"`
	Content    wire.Content  `json:"content"`
	SenderInfo wire.Sender   `json:"sender_info"`
	Metadata   wire.Metadata `json:"metadata"`
	CreatedAt  int64         `json:"created_at"` // epoch seconds, write time
}

// NewInboundMessage builds the stored record for one parsed message.
// createdAt is shared across a batch so all rows of one write carry the
// same timestamp.
func NewInboundMessage(sessionID, senderID string, pm *wire.ParsedMessage, createdAt int64) Message {
	return Message{
		SenderID:   senderID,
		ChatType:   ChatTypeInbound,
		SessionID:  sessionID,
		MessageID:  pm.Metadata.MessageID,
		Content:    pm.Content,
		SenderInfo: pm.Sender,
		Metadata:   pm.Metadata,
		CreatedAt:  createdAt,
	}
}
