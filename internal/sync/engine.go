package sync

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/matheus3301/inbox/internal/bus"
	"github.com/matheus3301/inbox/internal/store"
	"github.com/matheus3301/inbox/internal/wire"
	"github.com/matheus3301/inbox/internal/wsclient"
	"go.uber.org/zap"
)

// backfillTimeout bounds one REST backfill run.
const backfillTimeout = time.Minute

// Identity reports the signed-in user.
type Identity interface {
	UserID() string
}

// History is the REST view of past conversations used to backfill
// messages missed while the socket was down.
type History interface {
	Conversations(ctx context.Context) ([]wire.ConversationSummary, error)
	Conversation(ctx context.Context, conversationID wire.ID) (*wire.Conversation, error)
}

// Engine handles idempotent ingestion of messages into the store.
// It subscribes to "socket.*" events on the bus and processes them.
type Engine struct {
	db         *store.DB
	bus        *bus.Bus
	identity   Identity
	history    History
	reconciler *Reconciler
	logger     *zap.Logger
	cancel     context.CancelFunc
	filling    atomic.Bool
}

// NewEngine creates a new sync engine. history may be nil, which disables
// backfill on connect.
func NewEngine(db *store.DB, b *bus.Bus, identity Identity, history History, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		db:         db,
		bus:        b,
		identity:   identity,
		history:    history,
		reconciler: NewReconciler(db, logger),
		logger:     logger,
	}
}

// Reconciler returns the checkpoint store used by the engine.
func (e *Engine) Reconciler() *Reconciler {
	return e.reconciler
}

// Start subscribes to socket events on the bus.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	ch, unsub := e.bus.Subscribe("socket.", 256)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				e.handleEvent(ctx, evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
}

func (e *Engine) handleEvent(ctx context.Context, evt bus.Event) {
	switch evt.Kind {
	case bus.KindMessage:
		p, ok := evt.Payload.(wsclient.MessageEvent)
		if !ok {
			return
		}
		if err := e.IngestMessage(p.Message, p.Echo); err != nil {
			e.logger.Error("failed to ingest message", zap.Error(err), zap.Int64("msg_id", p.Message.ID))
		}
	case bus.KindReadReceipt:
		p, ok := evt.Payload.(wsclient.ReadReceiptEvent)
		if !ok {
			return
		}
		if err := e.ApplyReadReceipt(p.ConversationID, p.ReadBy); err != nil {
			e.logger.Error("failed to apply read receipt", zap.Error(err),
				zap.String("conversation_id", p.ConversationID.String()))
		}
	case bus.KindConnected:
		if err := e.reconciler.MarkConnected(evt.Timestamp); err != nil {
			e.logger.Warn("failed to record connect checkpoint", zap.Error(err))
		}
		e.startBackfill(ctx)
	}
}

func (e *Engine) self() wire.ID {
	if e.identity == nil {
		return ""
	}
	return wire.ID(e.identity.UserID())
}

// IngestMessage stores a socket message (idempotent). Echoes of our own
// sends are stored as sent, everything else as received.
func (e *Engine) IngestMessage(msg wire.Message, echo bool) error {
	self, status := e.self(), store.StatusReceived
	if echo {
		self, status = msg.FromUserID, store.StatusSent
	}
	sm := store.MessageFromWire(msg, self, status)
	if err := e.db.UpsertMessage(sm); err != nil {
		return fmt.Errorf("upsert message: %w", err)
	}

	e.bus.Emit(bus.KindMessageUpserted, map[string]string{
		"msg_key":         sm.Key,
		"peer_user_id":    sm.PeerUserID,
		"conversation_id": sm.ConversationID,
		"status":          sm.Status,
	})
	return nil
}

// ApplyReadReceipt records that readBy read a conversation.
func (e *Engine) ApplyReadReceipt(conversationID, readBy wire.ID) error {
	n, err := e.db.ApplyReadReceipt(conversationID.String(), readBy.String(), e.self().String(), time.Now())
	if err != nil {
		return fmt.Errorf("apply read receipt: %w", err)
	}

	e.bus.Emit(bus.KindMessageRead, map[string]any{
		"conversation_id": conversationID.String(),
		"read_by":         readBy.String(),
		"changed":         n,
	})
	return nil
}

// IngestHistoryBatch stores messages fetched over REST in one transaction.
func (e *Engine) IngestHistoryBatch(msgs []wire.Message) error {
	self := e.self()
	batch := make([]*store.Message, 0, len(msgs))
	for _, m := range msgs {
		status := store.StatusReceived
		if self != "" && m.FromUserID == self {
			status = store.StatusSent
		}
		batch = append(batch, store.MessageFromWire(m, self, status))
	}
	if err := e.db.UpsertMessages(batch); err != nil {
		return fmt.Errorf("ingest history batch: %w", err)
	}

	e.bus.Emit(bus.KindHistoryBatch, map[string]int{
		"messages_count": len(batch),
	})
	return nil
}

func (e *Engine) startBackfill(ctx context.Context) {
	if e.history == nil || !e.filling.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer e.filling.Store(false)
		ctx, cancel := context.WithTimeout(ctx, backfillTimeout)
		defer cancel()
		n, err := e.Backfill(ctx)
		if err != nil {
			e.logger.Warn("backfill failed", zap.Error(err))
			return
		}
		e.logger.Info("backfill complete", zap.Int("messages", n))
	}()
}

// Backfill fetches conversations that changed since the last backfill and
// ingests their messages. The checkpoint only advances when every
// conversation was fetched.
func (e *Engine) Backfill(ctx context.Context) (int, error) {
	if e.history == nil {
		return 0, nil
	}
	self := e.self()
	if self == "" {
		return 0, fmt.Errorf("backfill: no user id")
	}
	since, err := e.reconciler.Time(CheckpointLastBackfill)
	if err != nil {
		return 0, err
	}
	started := time.Now()

	convs, err := e.history.Conversations(ctx)
	if err != nil {
		return 0, fmt.Errorf("list conversations: %w", err)
	}

	total := 0
	for _, c := range convs {
		if !since.IsZero() && !c.LastMessageAt.IsZero() && !c.LastMessageAt.After(since) {
			continue
		}
		conv, err := e.history.Conversation(ctx, c.ConversationID)
		if err != nil {
			return total, fmt.Errorf("fetch conversation %s: %w", c.ConversationID, err)
		}
		for i := range conv.Messages {
			if conv.Messages[i].ConversationID == "" {
				conv.Messages[i].ConversationID = c.ConversationID
			}
		}
		if len(conv.Messages) == 0 {
			continue
		}
		if err := e.IngestHistoryBatch(conv.Messages); err != nil {
			return total, err
		}
		total += len(conv.Messages)
	}

	if e.self() != self {
		// The user changed mid-run; the new user's mirror starts without a checkpoint.
		return total, fmt.Errorf("backfill: user changed from %s", self)
	}
	if err := e.reconciler.SetTime(CheckpointLastBackfill, started); err != nil {
		return total, fmt.Errorf("update checkpoint: %w", err)
	}
	return total, nil
}
