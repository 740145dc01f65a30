// Package wire decodes raw form-encoded webhook bodies into structured
// messages. One raw record in, one ParsedMessage out; anything that cannot be
// decoded fails with a *ParseError so callers can skip the record and keep
// the batch moving.
package wire

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
)

// channelPrefix is stripped from the From field to recover the bare phone.
const channelPrefix = "whatsapp:"

// ParseError reports a malformed message body.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string { return "parse message body: " + e.Err.Error() }
func (e *ParseError) Unwrap() error { return e.Err }

// Sender identifies the external participant a message came from.
type Sender struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// MediaItem is one attachment referenced by the webhook payload.
type MediaItem struct {
	URL         string `json:"url,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

// Content is the user-visible part of a message.
type Content struct {
	Text       string      `json:"text"`
	MediaCount int         `json:"media_count"`
	MediaItems []MediaItem `json:"media_items,omitempty"`
	Segments   int         `json:"segments"`
}

// Metadata carries channel bookkeeping for a message.
type Metadata struct {
	MessageID   string `json:"message_id"`
	AccountID   string `json:"account_id,omitempty"`
	Status      string `json:"status,omitempty"`
	ChannelData any    `json:"channel_data,omitempty"`
}

// ParsedMessage is the structured form of one inbound webhook body.
type ParsedMessage struct {
	MessageType string         `json:"message_type"`
	Channel     string         `json:"channel"`
	Sender      Sender         `json:"sender"`
	Content     Content        `json:"content"`
	Metadata    Metadata       `json:"metadata"`
	Raw         map[string]any `json:"raw"` // decoded key/value map, kept for forensics
}

// ParseBody decodes one URL-encoded webhook body into a ParsedMessage.
//
// A key with exactly one value collapses to a scalar in Raw; repeated keys
// stay a list. ChannelMetadata is decoded as JSON when possible, otherwise
// the raw string is kept and parsing continues; when absent it defaults to an
// empty object. A missing NumMedia means no media; a present but non-integer
// or repeated NumMedia is a parse failure.
func ParseBody(raw string) (*ParsedMessage, error) {
	values, err := url.ParseQuery(raw)
	if err != nil {
		return nil, &ParseError{Err: fmt.Errorf("decode form body: %w", err)}
	}

	data := make(map[string]any, len(values))
	for k, v := range values {
		if len(v) == 1 {
			data[k] = v[0]
		} else {
			data[k] = append([]string(nil), v...)
		}
	}

	var channelData any = map[string]any{}
	if s := stringField(data, "ChannelMetadata"); s != "" {
		var decoded any
		if jsonErr := json.Unmarshal([]byte(s), &decoded); jsonErr != nil {
			slog.Warn("invalid ChannelMetadata JSON, keeping raw string", "error", jsonErr)
			channelData = s
		} else {
			channelData = decoded
			data["ChannelMetadata"] = decoded
		}
	}

	mediaCount, err := intField(data, "NumMedia", 0)
	if err != nil {
		return nil, &ParseError{Err: err}
	}
	var media []MediaItem
	for i := 0; i < mediaCount; i++ {
		media = append(media, MediaItem{
			URL:         stringField(data, fmt.Sprintf("MediaUrl%d", i)),
			ContentType: stringField(data, fmt.Sprintf("MediaContentType%d", i)),
		})
	}

	segments, err := intField(data, "NumSegments", 1)
	if err != nil {
		return nil, &ParseError{Err: err}
	}

	senderID := stringField(data, "WaId")
	if senderID == "" {
		return nil, &ParseError{Err: fmt.Errorf("missing sender id (WaId)")}
	}

	messageID := stringField(data, "MessageSid")
	if messageID == "" {
		// Structurally permitted, but collides under the storage idempotency
		// key. Flag it loudly.
		slog.Warn("message has no MessageSid, storage dedup key will collide", "sender_id", senderID)
	}

	messageType := stringField(data, "MessageType")
	if messageType == "" {
		messageType = "unknown"
	}

	return &ParsedMessage{
		MessageType: messageType,
		Channel:     "whatsapp",
		Sender: Sender{
			ID:    senderID,
			Name:  stringField(data, "ProfileName"),
			Phone: strings.TrimPrefix(stringField(data, "From"), channelPrefix),
		},
		Content: Content{
			Text:       stringField(data, "Body"),
			MediaCount: mediaCount,
			MediaItems: media,
			Segments:   segments,
		},
		Metadata: Metadata{
			MessageID:   messageID,
			AccountID:   stringField(data, "AccountSid"),
			Status:      stringField(data, "SmsStatus"),
			ChannelData: channelData,
		},
		Raw: data,
	}, nil
}

func stringField(data map[string]any, key string) string {
	if s, ok := data[key].(string); ok {
		return s
	}
	return ""
}

func intField(data map[string]any, key string, def int) (int, error) {
	switch v := data[key].(type) {
	case nil:
		return def, nil
	case string:
		if v == "" {
			return def, nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("field %s: %w", key, err)
		}
		return n, nil
	default:
		// A repeated count key is ambiguous; refuse rather than pick one.
		return 0, fmt.Errorf("field %s: repeated values %v", key, v)
	}
}
