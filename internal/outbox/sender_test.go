package outbox

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/inbox/internal/bus"
	"github.com/matheus3301/inbox/internal/session"
	"github.com/matheus3301/inbox/internal/store"
	"github.com/matheus3301/inbox/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// mockSender records calls and returns configurable results.
type mockSender struct {
	mu    sync.Mutex
	calls []sendCall
	err   error
	delay time.Duration // artificial delay to observe intermediate states
}

type sendCall struct {
	To       wire.ID
	Content  string
	Greeting bool
}

func (m *mockSender) Send(_ context.Context, to wire.ID, content string) (*wire.Message, error) {
	return m.record(to, content, false)
}

func (m *mockSender) SendGreeting(_ context.Context, to wire.ID, content string) (*wire.Message, error) {
	return m.record(to, content, true)
}

func (m *mockSender) record(to wire.ID, content string, greeting bool) (*wire.Message, error) {
	m.mu.Lock()
	m.calls = append(m.calls, sendCall{To: to, Content: content, Greeting: greeting})
	n := len(m.calls)
	m.mu.Unlock()
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	if m.err != nil {
		return nil, m.err
	}
	return &wire.Message{ID: int64(100 + n), ToUserID: to, Content: content, CreatedAt: wire.Timestamp{Time: time.Now()}}, nil
}

func (m *mockSender) Calls() []sendCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sendCall(nil), m.calls...)
}

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

func newSender(t *testing.T, db *store.DB, b *bus.Bus, mock *mockSender, self string) *Sender {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	s := NewSender(db, mock, session.NewIdentity(self), b, 20*time.Millisecond, logger)
	return s
}

func TestSenderProcessesPendingMessages(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	mock := &mockSender{}
	s := newSender(t, db, b, mock, "u1")

	ch, unsub := b.Subscribe(bus.KindSendAck, 10)
	defer unsub()

	clientID, err := s.Enqueue("u2", "hello", false)
	require.NoError(t, err)
	require.NotEmpty(t, clientID)

	s.Start(context.Background())
	defer s.Stop()

	select {
	case evt := <-ch:
		p := evt.Payload.(map[string]any)
		assert.Equal(t, clientID, p["client_msg_id"])
		assert.Equal(t, int64(101), p["server_msg_id"])
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for send_ack event")
	}

	calls := mock.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, sendCall{To: "u2", Content: "hello"}, calls[0])

	pending, err := db.PendingOutbox()
	require.NoError(t, err)
	assert.Empty(t, pending, "outbox should be drained")

	entry, err := db.GetOutbox(clientID)
	require.NoError(t, err)
	assert.Equal(t, int64(101), entry.ServerMsgID)
}

func TestSenderGreetingUsesGreetingEndpoint(t *testing.T) {
	db := testDB(t)
	mock := &mockSender{}
	s := newSender(t, db, bus.New(), mock, "u1")

	_, err := s.Enqueue("u2", "nice to meet you", true)
	require.NoError(t, err)

	s.Start(context.Background())
	defer s.Stop()

	require.Eventually(t, func() bool { return len(mock.Calls()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, mock.Calls()[0].Greeting)
}

func TestSenderHandlesFailure(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	mock := &mockSender{err: fmt.Errorf("network error")}
	s := newSender(t, db, b, mock, "u1")

	ch, unsub := b.Subscribe(bus.KindSendFailed, 10)
	defer unsub()

	clientID, err := s.Enqueue("u2", "hello", false)
	require.NoError(t, err)

	s.Start(context.Background())
	defer s.Stop()

	select {
	case evt := <-ch:
		p := evt.Payload.(map[string]string)
		assert.Equal(t, "network error", p["error"])
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for send_failed event")
	}

	// Marked failed, so no longer pending.
	pending, err := db.PendingOutbox()
	require.NoError(t, err)
	assert.Empty(t, pending)

	entry, err := db.GetOutbox(clientID)
	require.NoError(t, err)
	assert.Equal(t, "failed", entry.Status)
	assert.Equal(t, "network error", entry.ErrorMessage)

	require.Eventually(t, func() bool {
		m, _ := db.GetMessage(store.LocalKey(clientID))
		return m != nil && m.Status == store.StatusFailed
	}, time.Second, 10*time.Millisecond)
}

// TestSenderOptimisticInsert verifies that the outbox inserts a message with
// status "sending" before the actual send completes, then replaces it with
// the server-confirmed message.
func TestSenderOptimisticInsert(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	mock := &mockSender{delay: 300 * time.Millisecond}
	s := newSender(t, db, b, mock, "u1")

	clientID, err := s.Enqueue("u2", "optimistic", false)
	require.NoError(t, err)

	ch, unsub := b.Subscribe(bus.KindMessageUpserted, 10)
	defer unsub()

	s.Start(context.Background())
	defer s.Stop()

	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for optimistic message.upserted event")
	}

	// The optimistic row exists while the mock is still sleeping.
	m, err := db.GetMessage(store.LocalKey(clientID))
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, store.StatusSending, m.Status)
	assert.Equal(t, "optimistic", m.Content)
	assert.True(t, m.Outgoing)
	assert.Equal(t, "u2", m.PeerUserID)

	require.Eventually(t, func() bool {
		msgs, _ := db.ListMessages("u2", 0, 10)
		return len(msgs) == 1 && msgs[0].Status == store.StatusSent
	}, 2*time.Second, 10*time.Millisecond)

	msgs, err := db.ListMessages("u2", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, store.ServerKey(101), msgs[0].Key, "optimistic row replaced by server row")
	assert.Equal(t, "u1", msgs[0].FromUserID)
}

func TestSenderWaitsForIdentity(t *testing.T) {
	db := testDB(t)
	mock := &mockSender{}
	logger, _ := zap.NewDevelopment()
	identity := session.NewIdentity("")
	s := NewSender(db, mock, identity, bus.New(), 20*time.Millisecond, logger)

	_, err := s.Enqueue("u2", "later", false)
	require.NoError(t, err)

	s.Start(context.Background())
	defer s.Stop()

	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, mock.Calls(), "nothing is sent without a user id")

	identity.Set("u1")
	require.Eventually(t, func() bool { return len(mock.Calls()) == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestSenderRequeuesStaleOnStart(t *testing.T) {
	db := testDB(t)
	require.NoError(t, db.QueueOutbox("stale", "u2", "left over", ""))
	require.NoError(t, db.MarkOutboxSending("stale"))

	mock := &mockSender{}
	s := newSender(t, db, bus.New(), mock, "u1")
	s.Start(context.Background())
	defer s.Stop()

	require.Eventually(t, func() bool { return len(mock.Calls()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "left over", mock.Calls()[0].Content)
}

func TestEnqueueValidates(t *testing.T) {
	s := newSender(t, testDB(t), bus.New(), &mockSender{}, "u1")

	_, err := s.Enqueue("u2", "", false)
	assert.ErrorIs(t, err, ErrEmptyMessage)

	_, err = s.Enqueue("", "hi", false)
	assert.Error(t, err)
}
