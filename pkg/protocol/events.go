// Package protocol defines the wire shapes of the batch events the service
// consumes: queue events carrying raw webhook bodies and stream events
// carrying row-level change images from the durable store.
package protocol

// SourceKeepalive marks a synthetic scheduled event used to keep a handler
// warm. Handlers must short-circuit to success without touching storage.
const SourceKeepalive = "scheduled-keepalive"

// Change-feed operation kinds.
const (
	EventInsert = "INSERT"
	EventModify = "MODIFY"
	EventRemove = "REMOVE"
)

// QueueRecord is one raw inbound message as delivered by the queueing layer.
type QueueRecord struct {
	MessageID string `json:"messageId"` // transport-assigned identifier
	Body      string `json:"body"`      // URL-encoded webhook payload
}

// QueueEvent is a batch of queue records.
type QueueEvent struct {
	Source  string        `json:"source,omitempty"`
	Records []QueueRecord `json:"Records"`
}

// StreamChange holds the new-value image of a row mutation. Keys follow the
// stored message field names (sender_id, chat_type, ...).
type StreamChange struct {
	NewImage map[string]any `json:"newImage,omitempty"`
}

// StreamRecord is one change-feed entry.
type StreamRecord struct {
	EventName string       `json:"eventName"`
	Change    StreamChange `json:"change"`
}

// StreamEvent is a batch of change-feed entries.
type StreamEvent struct {
	Source  string         `json:"source,omitempty"`
	Records []StreamRecord `json:"Records"`
}
