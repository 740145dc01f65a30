package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// secretHeader carries the shared secret expected by the reply service.
const secretHeader = "x-intelligence-api-secret"

// ReplyClient calls the external reply service.
type ReplyClient struct {
	url    string
	secret string
	http   *http.Client
}

func NewReplyClient(url, secret string, timeout time.Duration) *ReplyClient {
	return &ReplyClient{
		url:    url,
		secret: secret,
		http:   &http.Client{Timeout: timeout},
	}
}

// replyPayload is the fixed request shape of the reply endpoint.
type replyPayload struct {
	SenderID string `json:"sender_id"`
	Message  string `json:"message"`
}

// Notify asks the reply service to respond to the sender. Any non-2xx
// response is an error; retrying is the caller's business (in practice:
// nobody's, the notification is best-effort).
func (c *ReplyClient) Notify(ctx context.Context, senderID string) error {
	body, err := json.Marshal(replyPayload{
		SenderID: senderID,
		Message:  fmt.Sprintf("Hello, world! %s", senderID),
	})
	if err != nil {
		return fmt.Errorf("marshal reply payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build reply request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(secretHeader, c.secret)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("call reply service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("reply service returned %d: %s", resp.StatusCode, snippet)
	}
	return nil
}
