package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"testing"

	"github.com/theuncproject/chatflow/internal/store/mem"
	"github.com/theuncproject/chatflow/internal/wire"
	"github.com/theuncproject/chatflow/pkg/protocol"
)

func record(messageID, senderID, text string) protocol.QueueRecord {
	v := url.Values{}
	v.Set("WaId", senderID)
	v.Set("From", "whatsapp:+"+senderID)
	v.Set("Body", text)
	v.Set("NumMedia", "0")
	v.Set("MessageSid", messageID)
	v.Set("AccountSid", "AC001")
	return protocol.QueueRecord{MessageID: messageID, Body: v.Encode()}
}

func TestGroupBySender(t *testing.T) {
	records := []protocol.QueueRecord{
		record("SM1", "111", "first"),
		record("SM2", "222", "other"),
		record("SM3", "111", "second"),
	}

	groups, skipped := GroupBySender(records)
	if len(skipped) != 0 {
		t.Fatalf("skipped = %v", skipped)
	}
	if len(groups) != 2 {
		t.Fatalf("groups = %d, want 2", len(groups))
	}
	msgs := groups["111"]
	if len(msgs) != 2 || msgs[0].Content.Text != "first" || msgs[1].Content.Text != "second" {
		t.Errorf("sender 111 order not preserved: %+v", msgs)
	}
}

func TestGroupBySender_SkipsBadRecords(t *testing.T) {
	records := []protocol.QueueRecord{
		record("SM1", "111", "ok"),
		{MessageID: "SM2", Body: "a=%zz"}, // undecodable
		{MessageID: "SM3", Body: "Body=no-sender"},
	}

	groups, skipped := GroupBySender(records)
	if len(groups) != 1 || len(groups["111"]) != 1 {
		t.Errorf("groups = %+v, want only sender 111", groups)
	}
	if len(skipped) != 2 {
		t.Fatalf("skipped = %d, want 2", len(skipped))
	}
	if skipped[0].MessageID != "SM2" || skipped[1].MessageID != "SM3" {
		t.Errorf("skipped ids = %+v", skipped)
	}
}

func TestProcessBatch_Keepalive(t *testing.T) {
	stores := mem.NewStores()
	r := NewRouter(stores.Sessions, stores.Messages)

	summary, err := r.ProcessBatch(context.Background(), protocol.QueueEvent{Source: protocol.SourceKeepalive})
	if err != nil {
		t.Fatal(err)
	}
	if summary.TotalRecords != 0 || summary.Stored != 0 {
		t.Errorf("keepalive summary = %+v", summary)
	}
	if ms := stores.Messages.(*mem.MessageStore); ms.WriteOps() != 0 {
		t.Error("keepalive event touched storage")
	}
}

func TestProcessBatch_EmptyRecords(t *testing.T) {
	stores := mem.NewStores()
	r := NewRouter(stores.Sessions, stores.Messages)

	summary, err := r.ProcessBatch(context.Background(), protocol.QueueEvent{})
	if err != nil {
		t.Fatal(err)
	}
	if summary.TotalRecords != 0 || summary.SenderCount != 0 {
		t.Errorf("summary = %+v", summary)
	}
}

func TestProcessBatch_StoresPerSender(t *testing.T) {
	stores := mem.NewStores()
	r := NewRouter(stores.Sessions, stores.Messages)

	event := protocol.QueueEvent{Records: []protocol.QueueRecord{
		record("SM1", "123", "hi"),
		record("SM2", "456", "hello"),
		record("SM3", "123", "again"),
	}}

	summary, err := r.ProcessBatch(context.Background(), event)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Stored != 3 || summary.SenderCount != 2 || len(summary.FailedSenders) != 0 {
		t.Fatalf("summary = %+v", summary)
	}

	rows := stores.Messages.(*mem.MessageStore).Messages()
	if len(rows) != 3 {
		t.Fatalf("stored rows = %d, want 3", len(rows))
	}

	sessionsBySender := map[string]map[string]bool{}
	for _, row := range rows {
		if row.ChatType != "inbound" {
			t.Errorf("chat_type = %q, want inbound", row.ChatType)
		}
		if row.SessionID == "" {
			t.Error("stored message without session id")
		}
		if sessionsBySender[row.SenderID] == nil {
			sessionsBySender[row.SenderID] = map[string]bool{}
		}
		sessionsBySender[row.SenderID][row.SessionID] = true
	}
	if len(sessionsBySender["123"]) != 1 {
		t.Errorf("sender 123 got %d sessions, want 1", len(sessionsBySender["123"]))
	}
}

// failingMessageStore fails StoreBatch for one specific sender.
type failingMessageStore struct {
	inner   *mem.MessageStore
	failFor string
}

func (f *failingMessageStore) StoreBatch(ctx context.Context, sessionID, senderID string, msgs []*wire.ParsedMessage) error {
	if senderID == f.failFor {
		return errors.New("backend unavailable")
	}
	return f.inner.StoreBatch(ctx, sessionID, senderID, msgs)
}

func TestProcessBatch_SenderFailureIsolated(t *testing.T) {
	stores := mem.NewStores()
	failing := &failingMessageStore{inner: stores.Messages.(*mem.MessageStore), failFor: "666"}
	r := NewRouter(stores.Sessions, failing)

	event := protocol.QueueEvent{Records: []protocol.QueueRecord{
		record("SM1", "666", "doomed"),
		record("SM2", "123", "fine"),
	}}

	summary, err := r.ProcessBatch(context.Background(), event)
	if err != nil {
		t.Fatalf("per-sender failure must not fail the batch: %v", err)
	}
	if summary.Stored != 1 {
		t.Errorf("stored = %d, want 1", summary.Stored)
	}
	if len(summary.FailedSenders) != 1 || summary.FailedSenders[0] != "666" {
		t.Errorf("failed senders = %v", summary.FailedSenders)
	}
	if rows := failing.inner.Messages(); len(rows) != 1 || rows[0].SenderID != "123" {
		t.Errorf("surviving rows = %+v", rows)
	}
}

func TestProcessBatch_LargeSenderGroupChunked(t *testing.T) {
	stores := mem.NewStores()
	r := NewRouter(stores.Sessions, stores.Messages)

	var records []protocol.QueueRecord
	for i := 0; i < 30; i++ {
		records = append(records, record(fmt.Sprintf("SM%03d", i), "123", "hi"))
	}

	if _, err := r.ProcessBatch(context.Background(), protocol.QueueEvent{Records: records}); err != nil {
		t.Fatal(err)
	}
	if ops := stores.Messages.(*mem.MessageStore).WriteOps(); ops != 2 {
		t.Errorf("write ops = %d, want 2 for 30 messages", ops)
	}
}
