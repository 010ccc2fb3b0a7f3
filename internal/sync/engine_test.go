package sync

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/matheus3301/inbox/internal/bus"
	"github.com/matheus3301/inbox/internal/session"
	"github.com/matheus3301/inbox/internal/store"
	"github.com/matheus3301/inbox/internal/wire"
	"github.com/matheus3301/inbox/internal/wsclient"
	"go.uber.org/zap"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func msg(id int64, from, to, content string, at time.Time) wire.Message {
	return wire.Message{
		ID:             id,
		ConversationID: "c1",
		FromUserID:     wire.ID(from),
		ToUserID:       wire.ID(to),
		Content:        content,
		CreatedAt:      wire.Timestamp{Time: at},
	}
}

type fakeHistory struct {
	convs   []wire.ConversationSummary
	byID    map[wire.ID][]wire.Message
	fetched []wire.ID
	err     error
}

func (f *fakeHistory) Conversations(context.Context) ([]wire.ConversationSummary, error) {
	return f.convs, nil
}

func (f *fakeHistory) Conversation(_ context.Context, id wire.ID) (*wire.Conversation, error) {
	f.fetched = append(f.fetched, id)
	if f.err != nil {
		return nil, f.err
	}
	return &wire.Conversation{ConversationID: id, Messages: f.byID[id]}, nil
}

func TestEngineIngestMessage(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	e := NewEngine(db, b, session.NewIdentity("u1"), nil, nil)

	ch, unsub := b.Subscribe("message.", 10)
	defer unsub()

	if err := e.IngestMessage(msg(1, "u2", "u1", "hello", time.Now()), false); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages("u2", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Content != "hello" || msgs[0].Status != store.StatusReceived {
		t.Fatalf("got %+v, want one received message", msgs)
	}

	select {
	case evt := <-ch:
		if evt.Kind != bus.KindMessageUpserted {
			t.Errorf("event kind = %q, want %s", evt.Kind, bus.KindMessageUpserted)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message.upserted event")
	}
}

func TestEngineIngestMessageIdempotent(t *testing.T) {
	db := testDB(t)
	e := NewEngine(db, bus.New(), session.NewIdentity("u1"), nil, nil)

	m := msg(1, "u2", "u1", "v1", time.Now())
	if err := e.IngestMessage(m, false); err != nil {
		t.Fatal(err)
	}
	m.Content = "v2"
	if err := e.IngestMessage(m, false); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages("u2", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1 (idempotent)", len(msgs))
	}
	if msgs[0].Content != "v2" {
		t.Errorf("content = %q, want v2 (updated)", msgs[0].Content)
	}
}

func TestEngineEchoStoredAsSent(t *testing.T) {
	db := testDB(t)
	// No identity yet: the echo itself says who we are.
	e := NewEngine(db, bus.New(), nil, nil, nil)

	if err := e.IngestMessage(msg(7, "u1", "u2", "mine", time.Now()), true); err != nil {
		t.Fatal(err)
	}

	m, err := db.GetMessage("7")
	if err != nil {
		t.Fatal(err)
	}
	if m == nil || !m.Outgoing || m.PeerUserID != "u2" || m.Status != store.StatusSent {
		t.Errorf("echo stored as %+v", m)
	}
}

func TestEngineApplyReadReceipt(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	e := NewEngine(db, b, session.NewIdentity("u1"), nil, nil)

	if err := e.IngestMessage(msg(1, "u1", "u2", "hi", time.Now()), true); err != nil {
		t.Fatal(err)
	}

	ch, unsub := b.Subscribe(bus.KindMessageRead, 1)
	defer unsub()

	if err := e.ApplyReadReceipt("c1", "u2"); err != nil {
		t.Fatal(err)
	}

	m, _ := db.GetMessage("1")
	if m == nil || !m.IsRead {
		t.Errorf("message not marked read: %+v", m)
	}
	select {
	case evt := <-ch:
		p := evt.Payload.(map[string]any)
		if p["changed"] != int64(1) {
			t.Errorf("changed = %v, want 1", p["changed"])
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message.read event")
	}
}

func TestEngineReadReceiptForSocketFrameWithoutConversation(t *testing.T) {
	db := testDB(t)
	e := NewEngine(db, bus.New(), session.NewIdentity("u1"), nil, nil)

	frames := []string{
		`{"type":"new_message","message":{"id":1,"from_user_id":"u2","to_user_id":"u1","content":"hi","created_at":"2024-01-01T00:00:00Z","is_read":false}}`,
		`{"type":"message_sent","message":{"id":2,"from_user_id":"u1","to_user_id":"u2","content":"hello","created_at":"2024-01-01T00:00:05Z","is_read":false}}`,
	}
	for _, raw := range frames {
		frame, err := wsclient.DecodeFrame([]byte(raw))
		if err != nil {
			t.Fatal(err)
		}
		switch f := frame.(type) {
		case wsclient.NewMessage:
			err = e.IngestMessage(f.Message, false)
		case wsclient.MessageSent:
			err = e.IngestMessage(f.Message, true)
		default:
			t.Fatalf("decoded %T", frame)
		}
		if err != nil {
			t.Fatal(err)
		}
	}

	receipt, err := wsclient.DecodeFrame([]byte(`{"type":"read_receipt","conversation_id":"c1","read_by":"u2"}`))
	if err != nil {
		t.Fatal(err)
	}
	r := receipt.(wsclient.ReadReceipt)
	if err := e.ApplyReadReceipt(r.ConversationID, r.ReadBy); err != nil {
		t.Fatal(err)
	}

	sent, _ := db.GetMessage("2")
	if sent == nil || !sent.IsRead {
		t.Errorf("echoed message to u2 = %+v, want read", sent)
	}
	got, _ := db.GetMessage("1")
	if got == nil || got.IsRead {
		t.Errorf("message from u2 = %+v, want still unread", got)
	}
	if msgs, _ := db.ListConversationMessages("c1", 0, 10); len(msgs) != 2 {
		t.Errorf("conversation c1 has %d messages, want 2", len(msgs))
	}
}

func TestEngineIngestHistoryBatch(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	e := NewEngine(db, b, session.NewIdentity("u1"), nil, nil)

	ch, unsub := b.Subscribe(bus.KindHistoryBatch, 10)
	defer unsub()

	now := time.Now().Add(-time.Minute)
	msgs := []wire.Message{
		msg(1, "u2", "u1", "one", now),
		msg(2, "u1", "u2", "two", now.Add(time.Second)),
		msg(3, "u3", "u1", "three", now.Add(2*time.Second)),
	}

	if err := e.IngestHistoryBatch(msgs); err != nil {
		t.Fatal(err)
	}
	// Ingesting twice must not duplicate.
	if err := e.IngestHistoryBatch(msgs); err != nil {
		t.Fatal(err)
	}

	threads, err := db.ListThreads(10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(threads) != 2 {
		t.Errorf("got %d threads, want 2", len(threads))
	}

	msgsA, _ := db.ListMessages("u2", 0, 10)
	msgsB, _ := db.ListMessages("u3", 0, 10)
	if len(msgsA) != 2 || len(msgsB) != 1 {
		t.Errorf("got %d+%d messages, want 2+1", len(msgsA), len(msgsB))
	}
	if own, _ := db.GetMessage("2"); own == nil || own.Status != store.StatusSent {
		t.Errorf("own history message = %+v, want status sent", own)
	}

	select {
	case evt := <-ch:
		if evt.Kind != bus.KindHistoryBatch {
			t.Errorf("event kind = %q, want %s", evt.Kind, bus.KindHistoryBatch)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for history batch event")
	}
}

func TestEngineBackfill(t *testing.T) {
	db := testDB(t)
	old := time.Now().Add(-time.Hour)
	h := &fakeHistory{
		convs: []wire.ConversationSummary{
			{ConversationID: "c1", OtherUserID: "u2", LastMessageAt: wire.Timestamp{Time: old}},
			{ConversationID: "c2", OtherUserID: "u3", LastMessageAt: wire.Timestamp{Time: old}},
		},
		byID: map[wire.ID][]wire.Message{
			"c1": {msg(1, "u2", "u1", "a", old)},
			"c2": {{ID: 2, FromUserID: "u3", ToUserID: "u1", Content: "b", CreatedAt: wire.Timestamp{Time: old}}},
		},
	}
	e := NewEngine(db, bus.New(), session.NewIdentity("u1"), h, nil)

	n, err := e.Backfill(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("backfilled %d, want 2", n)
	}
	m, _ := db.GetMessage("2")
	if m == nil || m.ConversationID != "c2" {
		t.Errorf("conversation id not filled from summary: %+v", m)
	}

	// Nothing changed since the checkpoint: no conversation is refetched.
	h.fetched = nil
	if _, err := e.Backfill(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(h.fetched) != 0 {
		t.Errorf("refetched %v, want none", h.fetched)
	}
}

func TestBackfillAfterUserSwitchRefetchesHistory(t *testing.T) {
	db := testDB(t)
	old := time.Now().Add(-time.Hour)
	h := &fakeHistory{
		convs: []wire.ConversationSummary{{ConversationID: "c7", OtherUserID: "u3", LastMessageAt: wire.Timestamp{Time: old}}},
		byID:  map[wire.ID][]wire.Message{"c7": {msg(7, "u3", "u2", "for u2", old)}},
	}
	identity := session.NewIdentity("u1")
	e := NewEngine(db, bus.New(), identity, h, nil)

	if _, err := e.Reconciler().ClaimMirror("u1"); err != nil {
		t.Fatal(err)
	}
	if err := e.IngestMessage(msg(1, "u2", "u1", "for u1", old), false); err != nil {
		t.Fatal(err)
	}
	if err := e.Reconciler().SetTime(CheckpointLastBackfill, time.Now()); err != nil {
		t.Fatal(err)
	}

	identity.Set("u2")
	reset, err := e.Reconciler().ClaimMirror("u2")
	if err != nil {
		t.Fatal(err)
	}
	if !reset {
		t.Fatal("ClaimMirror(u2) did not reset the mirror of u1")
	}
	if m, _ := db.GetMessage("1"); m != nil {
		t.Errorf("message of u1 survived the switch: %+v", m)
	}

	n, err := e.Backfill(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 || len(h.fetched) != 1 {
		t.Fatalf("backfilled %d messages from %v, want c7 fetched", n, h.fetched)
	}
	m, _ := db.GetMessage("7")
	if m == nil || m.PeerUserID != "u3" || m.Outgoing {
		t.Errorf("history of u2 stored as %+v", m)
	}
}

func TestClaimMirrorAdoptsUnownedMirror(t *testing.T) {
	db := testDB(t)
	e := NewEngine(db, bus.New(), session.NewIdentity("u1"), nil, nil)
	if err := e.IngestMessage(msg(1, "u2", "u1", "hi", time.Now()), false); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		reset, err := e.Reconciler().ClaimMirror("u1")
		if err != nil {
			t.Fatal(err)
		}
		if reset {
			t.Errorf("claim %d reset the mirror", i)
		}
	}
	if m, _ := db.GetMessage("1"); m == nil {
		t.Error("existing rows dropped on first claim")
	}
}

func TestEngineBackfillFailureKeepsCheckpoint(t *testing.T) {
	db := testDB(t)
	h := &fakeHistory{
		convs: []wire.ConversationSummary{{ConversationID: "c1"}},
		err:   errors.New("boom"),
	}
	e := NewEngine(db, bus.New(), session.NewIdentity("u1"), h, nil)

	if _, err := e.Backfill(context.Background()); err == nil {
		t.Fatal("Backfill() should fail")
	}
	at, err := e.Reconciler().Time(CheckpointLastBackfill)
	if err != nil {
		t.Fatal(err)
	}
	if !at.IsZero() {
		t.Errorf("checkpoint advanced to %v after failure", at)
	}
}

func TestReconcilerCheckpoints(t *testing.T) {
	r := NewReconciler(testDB(t), zap.NewNop())

	if _, err := r.GetCheckpoint("missing"); err == nil {
		t.Error("GetCheckpoint(missing) should fail")
	}
	at, err := r.Time("missing")
	if err != nil || !at.IsZero() {
		t.Errorf("Time(missing) = %v, %v; want zero, nil", at, err)
	}

	want := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	if err := r.MarkConnected(want); err != nil {
		t.Fatal(err)
	}
	got, err := r.Time(CheckpointLastConnected)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(want) {
		t.Errorf("last connected = %v, want %v", got, want)
	}
}

// TestEngineBusSubscription verifies the engine processes events from the bus.
// This is the core of the socket→bus→sync decoupling.
func TestEngineBusSubscription(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	logger, _ := zap.NewDevelopment()
	e := NewEngine(db, b, session.NewIdentity("u1"), nil, logger)

	ctx := context.Background()
	e.Start(ctx)
	defer e.Stop()

	// Publish what wsclient.Client publishes for a new_message frame.
	b.Emit(bus.KindMessage, wsclient.MessageEvent{Message: msg(5, "u2", "u1", "from bus", time.Now())})

	// Give the engine time to process.
	time.Sleep(100 * time.Millisecond)

	msgs, err := db.ListMessages("u2", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1 (bus subscription)", len(msgs))
	}
	if msgs[0].Content != "from bus" {
		t.Errorf("content = %q, want 'from bus'", msgs[0].Content)
	}

	b.Emit(bus.KindReadReceipt, wsclient.ReadReceiptEvent{ConversationID: "c1", ReadBy: "u1"})
	b.Emit(bus.KindConnected, wsclient.ConnectedEvent{UserID: "u1"})

	time.Sleep(100 * time.Millisecond)

	if m, _ := db.GetMessage("5"); m == nil || !m.IsRead {
		t.Errorf("read receipt not applied: %+v", m)
	}
	at, err := e.Reconciler().Time(CheckpointLastConnected)
	if err != nil {
		t.Fatal(err)
	}
	if at.IsZero() {
		t.Error("last_connected_at not recorded")
	}
}
