package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/inbox/internal/bus"
	"github.com/matheus3301/inbox/internal/store"
	"github.com/matheus3301/inbox/internal/wire"
	"go.uber.org/zap"
)

// DefaultInterval is how often the outbox is polled when nothing nudges it.
const DefaultInterval = 500 * time.Millisecond

// ErrEmptyMessage is returned by Enqueue for blank content.
var ErrEmptyMessage = errors.New("message content is empty")

// MessageSender is the REST surface used to deliver queued messages.
type MessageSender interface {
	Send(ctx context.Context, to wire.ID, content string) (*wire.Message, error)
	SendGreeting(ctx context.Context, to wire.ID, content string) (*wire.Message, error)
}

// Identity reports the signed-in user.
type Identity interface {
	UserID() string
}

// Sender drains the outbox and sends messages through the REST API.
type Sender struct {
	db       *store.DB
	api      MessageSender
	identity Identity
	bus      *bus.Bus
	interval time.Duration
	logger   *zap.Logger
	wake     chan struct{}
	cancel   context.CancelFunc
}

// NewSender creates a new outbox sender. A non-positive interval uses
// DefaultInterval.
func NewSender(db *store.DB, api MessageSender, identity Identity, b *bus.Bus, interval time.Duration, logger *zap.Logger) *Sender {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sender{
		db:       db,
		api:      api,
		identity: identity,
		bus:      b,
		interval: interval,
		logger:   logger,
		wake:     make(chan struct{}, 1),
	}
}

// Enqueue queues a message for delivery and returns its client id.
func (s *Sender) Enqueue(to, content string, greeting bool) (string, error) {
	if to == "" {
		return "", fmt.Errorf("recipient is required")
	}
	if content == "" {
		return "", ErrEmptyMessage
	}
	msgType := wire.MessageNormal
	if greeting {
		msgType = wire.MessageGreeting
	}
	clientMsgID := uuid.NewString()
	if err := s.db.QueueOutbox(clientMsgID, to, content, string(msgType)); err != nil {
		return "", fmt.Errorf("queue outbox: %w", err)
	}
	select {
	case s.wake <- struct{}{}:
	default:
	}
	return clientMsgID, nil
}

// Start begins polling the outbox for pending messages. Entries a previous
// run left in flight are requeued first.
func (s *Sender) Start(ctx context.Context) {
	if n, err := s.db.RequeueStaleSending(); err != nil {
		s.logger.Error("failed to requeue stale outbox entries", zap.Error(err))
	} else if n > 0 {
		s.logger.Info("requeued stale outbox entries", zap.Int64("count", n))
	}
	ctx, s.cancel = context.WithCancel(ctx)
	go s.loop(ctx)
}

// Stop stops the sender loop.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Sender) loop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.processPending(ctx)
		case <-s.wake:
			s.processPending(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sender) processPending(ctx context.Context) {
	self := ""
	if s.identity != nil {
		self = s.identity.UserID()
	}
	if self == "" {
		// Stay queued until a user id is configured.
		return
	}

	pending, err := s.db.PendingOutbox()
	if err != nil {
		s.logger.Error("failed to read outbox", zap.Error(err))
		return
	}

	for _, entry := range pending {
		if ctx.Err() != nil {
			return
		}
		s.process(ctx, self, entry)
	}
}

func (s *Sender) process(ctx context.Context, self string, entry store.OutboxEntry) {
	if err := s.db.MarkOutboxSending(entry.ClientMsgID); err != nil {
		s.logger.Error("failed to mark sending", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
		return
	}

	// Optimistic insert: the message is visible locally before the backend
	// confirms it.
	localKey := store.LocalKey(entry.ClientMsgID)
	if err := s.db.UpsertMessage(&store.Message{
		Key:         localKey,
		PeerUserID:  entry.ToUserID,
		FromUserID:  self,
		ToUserID:    entry.ToUserID,
		Content:     entry.Content,
		MessageType: entry.MessageType,
		IsRead:      true,
		Outgoing:    true,
		Status:      store.StatusSending,
		CreatedAt:   time.Now().UnixMilli(),
	}); err != nil {
		s.logger.Warn("failed to insert optimistic message", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
	}
	s.bus.Emit(bus.KindMessageUpserted, map[string]string{
		"msg_key":      localKey,
		"peer_user_id": entry.ToUserID,
		"status":       store.StatusSending,
	})

	msg, err := s.send(ctx, entry)
	if err != nil {
		s.logger.Error("failed to send message", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
		_ = s.db.MarkOutboxFailed(entry.ClientMsgID, err.Error())
		_ = s.db.SetMessageStatus(localKey, store.StatusFailed)
		s.bus.Emit(bus.KindSendFailed, map[string]string{
			"client_msg_id": entry.ClientMsgID,
			"to_user_id":    entry.ToUserID,
			"error":         err.Error(),
		})
		return
	}

	if msg.FromUserID == "" {
		msg.FromUserID = wire.ID(self)
	}
	if msg.ToUserID == "" {
		msg.ToUserID = wire.ID(entry.ToUserID)
	}
	if msg.Content == "" {
		msg.Content = entry.Content
	}
	confirmed := store.MessageFromWire(*msg, wire.ID(self), store.StatusSent)
	confirmed.IsRead = true
	if err := s.db.ReplaceMessage(localKey, confirmed); err != nil {
		s.logger.Error("failed to confirm optimistic message", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
	}
	if err := s.db.MarkOutboxSent(entry.ClientMsgID, msg.ID); err != nil {
		s.logger.Error("failed to mark sent", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
	}

	s.logger.Info("message sent", zap.String("client_msg_id", entry.ClientMsgID), zap.Int64("server_msg_id", msg.ID))
	s.bus.Emit(bus.KindMessageUpserted, map[string]string{
		"msg_key":         confirmed.Key,
		"peer_user_id":    confirmed.PeerUserID,
		"conversation_id": confirmed.ConversationID,
		"status":          store.StatusSent,
	})
	s.bus.Emit(bus.KindSendAck, map[string]any{
		"client_msg_id": entry.ClientMsgID,
		"server_msg_id": msg.ID,
	})
}

func (s *Sender) send(ctx context.Context, entry store.OutboxEntry) (*wire.Message, error) {
	to := wire.ID(entry.ToUserID)
	if wire.MessageType(entry.MessageType) == wire.MessageGreeting {
		return s.api.SendGreeting(ctx, to, entry.Content)
	}
	return s.api.Send(ctx, to, entry.Content)
}
