package api

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/inbox/internal/bus"
	"github.com/matheus3301/inbox/internal/notify"
	"github.com/matheus3301/inbox/internal/outbox"
	"github.com/matheus3301/inbox/internal/restapi"
	"github.com/matheus3301/inbox/internal/session"
	"github.com/matheus3301/inbox/internal/status"
	"github.com/matheus3301/inbox/internal/store"
	intsync "github.com/matheus3301/inbox/internal/sync"
	"github.com/matheus3301/inbox/internal/wire"
	"github.com/matheus3301/inbox/internal/wsclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

type fakeSocket struct {
	mu          sync.Mutex
	state       status.State
	identity    *session.Identity
	connects    int
	disconnects int
}

func (f *fakeSocket) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.identity.UserID() == "" {
		return wsclient.ErrNoIdentity
	}
	f.state = status.Connected
	return nil
}

func (f *fakeSocket) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	f.state = status.Disconnected
}

func (f *fakeSocket) State() status.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == "" {
		return status.Disconnected
	}
	return f.state
}

func (f *fakeSocket) Connected() bool        { return f.State() == status.Connected }
func (f *fakeSocket) ReconnectAttempts() int { return 0 }

type fakeRemote struct {
	convs    []wire.ConversationSummary
	found    []wire.Message
	unread   int
	limits   wire.Limits
	marked   []wire.ID
	err      error
	notifs   []wire.Notification
	notifErr error
}

func (f *fakeRemote) Conversations(context.Context) ([]wire.ConversationSummary, error) {
	return f.convs, f.err
}
func (f *fakeRemote) Search(context.Context, string) ([]wire.Message, error) { return f.found, f.err }
func (f *fakeRemote) UnreadCount(context.Context) (int, error)               { return f.unread, f.err }
func (f *fakeRemote) Limits(context.Context) (wire.Limits, error)            { return f.limits, f.err }
func (f *fakeRemote) MarkRead(_ context.Context, id wire.ID) error {
	if f.err != nil {
		return f.err
	}
	f.marked = append(f.marked, id)
	return nil
}
func (f *fakeRemote) Notifications(context.Context) ([]wire.Notification, error) {
	return f.notifs, f.notifErr
}
func (f *fakeRemote) MarkNotificationRead(context.Context, wire.ID) error { return f.notifErr }
func (f *fakeRemote) MarkAllNotificationsRead(context.Context) error      { return f.notifErr }

type harness struct {
	db          *store.DB
	identity    *session.Identity
	checkpoints *intsync.Reconciler
	socket      *fakeSocket
	remote      *fakeRemote
	saved       []string
	control     *Control
}

func newHarness(t *testing.T, userID string) *harness {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	_, err = db.Migrate()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	h := &harness{
		db:          db,
		identity:    session.NewIdentity(userID),
		checkpoints: intsync.NewReconciler(db, nil),
		remote:      &fakeRemote{},
	}
	if userID != "" {
		_, err = h.checkpoints.ClaimMirror(userID)
		require.NoError(t, err)
	}
	h.socket = &fakeSocket{identity: h.identity}
	b := bus.New()
	sender := outbox.NewSender(db, nil, h.identity, b, time.Hour, nil)
	notifier := notify.NewService(db, h.remote, b, time.Hour, nil)
	save := func(id string) error {
		h.saved = append(h.saved, id)
		return nil
	}

	h.control = &Control{
		SessionService:      NewSessionService("main", h.socket, h.identity, db, h.checkpoints, save, nil),
		MessageService:      NewMessageService(db, sender, h.remote, h.identity, nil),
		NotificationService: NewNotificationService(notifier, nil),
		EventService:        NewEventService("main", b, nil),
	}
	return h
}

func req(t *testing.T, fields map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(fields)
	require.NoError(t, err)
	return s
}

func code(err error) codes.Code {
	return grpcstatus.Code(err)
}

func (h *harness) seed(t *testing.T, msgs ...wire.Message) {
	t.Helper()
	for _, m := range msgs {
		require.NoError(t, h.db.UpsertMessage(store.MessageFromWire(m, wire.ID(h.identity.UserID()), store.StatusReceived)))
	}
}

func incoming(id int64, from string, content string) wire.Message {
	return wire.Message{
		ID:             id,
		ConversationID: "c1",
		FromUserID:     wire.ID(from),
		ToUserID:       "u1",
		Content:        content,
		CreatedAt:      wire.Timestamp{Time: time.Now().Add(-time.Duration(10-id) * time.Second)},
	}
}

func TestGetStatus(t *testing.T) {
	h := newHarness(t, "u1")
	h.seed(t, incoming(1, "u2", "hi"))

	resp, err := h.control.GetStatus(context.Background(), req(t, nil))
	require.NoError(t, err)
	m := resp.AsMap()
	assert.Equal(t, "main", m["session"])
	assert.Equal(t, string(status.Disconnected), m["state"])
	assert.Equal(t, "u1", m["user_id"])
	assert.Equal(t, 1.0, m["messages"])
	assert.Equal(t, 1.0, m["unread_messages"])
}

func TestConnectWithoutIdentity(t *testing.T) {
	h := newHarness(t, "")

	_, err := h.control.Connect(context.Background(), req(t, nil))
	assert.Equal(t, codes.FailedPrecondition, code(err))
}

func TestConnectAndDisconnect(t *testing.T) {
	h := newHarness(t, "u1")

	resp, err := h.control.Connect(context.Background(), req(t, nil))
	require.NoError(t, err)
	assert.Equal(t, string(status.Connected), resp.AsMap()["state"])

	resp, err = h.control.Disconnect(context.Background(), req(t, nil))
	require.NoError(t, err)
	assert.Equal(t, string(status.Disconnected), resp.AsMap()["state"])
}

func TestLoginReconnectsUnderNewIdentity(t *testing.T) {
	h := newHarness(t, "u1")
	_, err := h.control.Connect(context.Background(), req(t, nil))
	require.NoError(t, err)

	resp, err := h.control.Login(context.Background(), req(t, map[string]any{"user_id": "u9"}))
	require.NoError(t, err)
	assert.Equal(t, "u9", resp.AsMap()["user_id"])
	assert.Equal(t, "u9", h.identity.UserID())
	assert.Equal(t, []string{"u9"}, h.saved)
	assert.Equal(t, 1, h.socket.disconnects)
	assert.Equal(t, 2, h.socket.connects)
}

func TestLoginAsOtherUserDropsPreviousMirror(t *testing.T) {
	h := newHarness(t, "u1")
	h.seed(t, incoming(1, "u2", "for u1"))
	require.NoError(t, h.checkpoints.SetTime(intsync.CheckpointLastBackfill, time.Now()))
	require.NoError(t, h.db.QueueOutbox("c-1", "u2", "queued as u1", "normal"))

	_, err := h.control.Login(context.Background(), req(t, map[string]any{"user_id": "u1"}))
	require.NoError(t, err)
	counts, err := h.db.Counts()
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Messages, "same user keeps the mirror")

	_, err = h.control.Login(context.Background(), req(t, map[string]any{"user_id": "u2"}))
	require.NoError(t, err)

	counts, err = h.db.Counts()
	require.NoError(t, err)
	assert.Zero(t, counts.Messages)
	assert.Zero(t, counts.PendingOutbox)
	at, err := h.checkpoints.Time(intsync.CheckpointLastBackfill)
	require.NoError(t, err)
	assert.True(t, at.IsZero(), "backfill checkpoint of u1 must not survive")
	owner, err := h.checkpoints.GetCheckpoint(intsync.CheckpointMirrorOwner)
	require.NoError(t, err)
	assert.Equal(t, "u2", owner)
}

func TestLoginWhileDisconnectedDoesNotConnect(t *testing.T) {
	h := newHarness(t, "")

	_, err := h.control.Login(context.Background(), req(t, map[string]any{"user_id": 42}))
	require.NoError(t, err)
	assert.Equal(t, "42", h.identity.UserID(), "numeric ids are accepted")
	assert.Zero(t, h.socket.connects)

	_, err = h.control.Login(context.Background(), req(t, nil))
	assert.Equal(t, codes.InvalidArgument, code(err))
}

func TestSendMessageQueues(t *testing.T) {
	h := newHarness(t, "u1")

	resp, err := h.control.SendMessage(context.Background(), req(t, map[string]any{
		"to_user_id": "u2", "content": "hello", "greeting": true,
	}))
	require.NoError(t, err)
	assert.Equal(t, "queued", resp.AsMap()["status"])

	pending, err := h.db.PendingOutbox()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "greeting", pending[0].MessageType)
	assert.Equal(t, resp.AsMap()["client_msg_id"], pending[0].ClientMsgID)

	_, err = h.control.SendMessage(context.Background(), req(t, map[string]any{"to_user_id": "u2"}))
	assert.Equal(t, codes.InvalidArgument, code(err))
	_, err = h.control.SendMessage(context.Background(), req(t, map[string]any{"content": "x"}))
	assert.Equal(t, codes.InvalidArgument, code(err))
}

func TestListMessages(t *testing.T) {
	h := newHarness(t, "u1")
	h.seed(t, incoming(1, "u2", "one"), incoming(2, "u2", "two"))

	resp, err := h.control.ListMessages(context.Background(), req(t, map[string]any{"peer_user_id": "u2", "limit": 1}))
	require.NoError(t, err)
	m := resp.AsMap()
	msgs := m["messages"].([]any)
	require.Len(t, msgs, 1)
	assert.Equal(t, "two", msgs[0].(map[string]any)["content"])
	assert.Equal(t, true, m["has_more"])

	resp, err = h.control.ListMessages(context.Background(), req(t, map[string]any{"conversation_id": "c1"}))
	require.NoError(t, err)
	assert.Len(t, resp.AsMap()["messages"], 2)

	_, err = h.control.ListMessages(context.Background(), req(t, nil))
	assert.Equal(t, codes.InvalidArgument, code(err))
}

func TestListConversationsFallsBackToLocal(t *testing.T) {
	h := newHarness(t, "u1")
	h.seed(t, incoming(1, "u2", "hey"))

	h.remote.convs = []wire.ConversationSummary{{ConversationID: "7", OtherUserID: "u2", UnreadCount: 3}}
	resp, err := h.control.ListConversations(context.Background(), req(t, nil))
	require.NoError(t, err)
	m := resp.AsMap()
	assert.Equal(t, "remote", m["source"])
	conv := m["conversations"].([]any)[0].(map[string]any)
	assert.Equal(t, 7.0, conv["conversation_id"], "numeric ids keep their JSON form")

	h.remote.err = errors.New("offline")
	resp, err = h.control.ListConversations(context.Background(), req(t, nil))
	require.NoError(t, err)
	m = resp.AsMap()
	assert.Equal(t, "local", m["source"])
	conv = m["conversations"].([]any)[0].(map[string]any)
	assert.Equal(t, "u2", conv["other_user_id"])
	assert.Equal(t, "hey", conv["last_message"])
}

func TestSearchMessages(t *testing.T) {
	h := newHarness(t, "u1")
	h.seed(t, incoming(1, "u2", "find me"), incoming(2, "u2", "not this"))

	resp, err := h.control.SearchMessages(context.Background(), req(t, map[string]any{"query": "find"}))
	require.NoError(t, err)
	assert.Len(t, resp.AsMap()["messages"], 1)

	h.remote.found = []wire.Message{incoming(9, "u3", "remote hit")}
	resp, err = h.control.SearchMessages(context.Background(), req(t, map[string]any{"query": "hit", "remote": true}))
	require.NoError(t, err)
	assert.Equal(t, "remote", resp.AsMap()["source"])

	_, err = h.control.SearchMessages(context.Background(), req(t, nil))
	assert.Equal(t, codes.InvalidArgument, code(err))
}

func TestUnreadCountAndLimits(t *testing.T) {
	h := newHarness(t, "u1")
	h.remote.unread = 5
	h.remote.limits = wire.Limits{"daily": 10.0}

	resp, err := h.control.GetUnreadCount(context.Background(), req(t, nil))
	require.NoError(t, err)
	assert.Equal(t, 5.0, resp.AsMap()["unread_count"])

	resp, err = h.control.GetLimits(context.Background(), req(t, nil))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"daily": 10.0}, resp.AsMap()["limits"])

	h.remote.err = &restapi.APIError{Status: 403, Detail: "nope"}
	_, err = h.control.GetLimits(context.Background(), req(t, nil))
	assert.Equal(t, codes.PermissionDenied, code(err))
}

func TestMarkConversationRead(t *testing.T) {
	h := newHarness(t, "u1")
	h.seed(t, incoming(1, "u2", "a"), incoming(2, "u2", "b"))

	resp, err := h.control.MarkConversationRead(context.Background(), req(t, map[string]any{"conversation_id": "c1"}))
	require.NoError(t, err)
	assert.Equal(t, 2.0, resp.AsMap()["changed"])
	assert.Equal(t, []wire.ID{"c1"}, h.remote.marked)

	c, err := h.db.Counts()
	require.NoError(t, err)
	assert.Zero(t, c.UnreadMessages)
}

func TestNotifications(t *testing.T) {
	h := newHarness(t, "u1")
	h.remote.notifs = []wire.Notification{
		{ID: "1", Type: wire.NotificationMessage, Title: "new dm", CreatedAt: wire.Timestamp{Time: time.Now()}},
	}

	resp, err := h.control.ListNotifications(context.Background(), req(t, map[string]any{"refresh": true}))
	require.NoError(t, err)
	m := resp.AsMap()
	assert.Len(t, m["notifications"], 1)
	assert.Equal(t, 1.0, m["unread"])
	assert.Equal(t, false, m["stale"])

	resp, err = h.control.MarkNotificationRead(context.Background(), req(t, map[string]any{"id": "1"}))
	require.NoError(t, err)
	assert.Equal(t, 0.0, resp.AsMap()["unread"])

	resp, err = h.control.ListNotifications(context.Background(), req(t, map[string]any{"unread_only": true}))
	require.NoError(t, err)
	assert.Empty(t, resp.AsMap()["notifications"])

	_, err = h.control.MarkNotificationRead(context.Background(), req(t, nil))
	assert.Equal(t, codes.InvalidArgument, code(err))

	h.remote.notifErr = &restapi.APIError{Status: 404}
	_, err = h.control.MarkNotificationRead(context.Background(), req(t, map[string]any{"all": true}))
	assert.Equal(t, codes.NotFound, code(err))
}

func TestRemoteErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		want codes.Code
	}{
		{restapi.ErrNoIdentity, codes.FailedPrecondition},
		{&restapi.APIError{Status: 400}, codes.InvalidArgument},
		{&restapi.APIError{Status: 401}, codes.PermissionDenied},
		{&restapi.APIError{Status: 404}, codes.NotFound},
		{&restapi.APIError{Status: 429}, codes.ResourceExhausted},
		{&restapi.APIError{Status: 502}, codes.Unavailable},
		{errors.New("dial tcp: refused"), codes.Unavailable},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, code(remoteError("op", tt.err)), "%v", tt.err)
	}
}

func TestRequestFieldHelpers(t *testing.T) {
	r := req(t, map[string]any{"s": "x", "n": 12, "ns": "34", "f": 1.5, "b": true})
	assert.Equal(t, "x", str(r, "s"))
	assert.Equal(t, "12", str(r, "n"))
	assert.Equal(t, "", str(r, "f"))
	assert.Equal(t, int64(34), integer(r, "ns"))
	assert.True(t, boolean(r, "b"))
	assert.Equal(t, "", str(r, "missing"))
}
