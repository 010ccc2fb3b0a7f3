package api

import (
	"context"
	"errors"
	"time"

	"github.com/matheus3301/inbox/internal/outbox"
	"github.com/matheus3301/inbox/internal/session"
	"github.com/matheus3301/inbox/internal/store"
	"github.com/matheus3301/inbox/internal/wire"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const defaultLimit = 50

// Remote is the REST surface the message service reads through.
type Remote interface {
	Conversations(ctx context.Context) ([]wire.ConversationSummary, error)
	Search(ctx context.Context, q string) ([]wire.Message, error)
	UnreadCount(ctx context.Context) (int, error)
	Limits(ctx context.Context) (wire.Limits, error)
	MarkRead(ctx context.Context, conversationID wire.ID) error
}

// Enqueuer queues outgoing messages.
type Enqueuer interface {
	Enqueue(to, content string, greeting bool) (clientMsgID string, err error)
}

// MessageService serves the local mirror and proxies REST reads.
type MessageService struct {
	db       *store.DB
	sender   Enqueuer
	remote   Remote
	identity *session.Identity
	logger   *zap.Logger
}

// NewMessageService creates a new message service backed by the store.
func NewMessageService(db *store.DB, sender Enqueuer, remote Remote, identity *session.Identity, logger *zap.Logger) *MessageService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MessageService{db: db, sender: sender, remote: remote, identity: identity, logger: logger}
}

func limitOf(req *structpb.Struct) int {
	if n := integer(req, "limit"); n > 0 {
		return int(n)
	}
	return defaultLimit
}

func (s *MessageService) SendMessage(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	to := str(req, "to_user_id")
	if to == "" {
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "to_user_id is required")
	}
	clientMsgID, err := s.sender.Enqueue(to, str(req, "content"), boolean(req, "greeting"))
	if errors.Is(err, outbox.ErrEmptyMessage) {
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "%v", err)
	}
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "queue message: %v", err)
	}
	return reply(map[string]any{
		"client_msg_id": clientMsgID,
		"status":        "queued",
	})
}

func (s *MessageService) ListMessages(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	limit := limitOf(req)
	before := integer(req, "before_ms")

	var (
		msgs []store.Message
		err  error
	)
	switch conv, peer := str(req, "conversation_id"), str(req, "peer_user_id"); {
	case conv != "":
		msgs, err = s.db.ListConversationMessages(conv, before, limit)
	case peer != "":
		msgs, err = s.db.ListMessages(peer, before, limit)
	default:
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "conversation_id or peer_user_id is required")
	}
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "list messages: %v", err)
	}

	return reply(map[string]any{
		"messages": messageViews(msgs),
		"has_more": len(msgs) == limit,
	})
}

// ListConversations asks the backend and falls back to threads built from
// the local mirror when it is unreachable.
func (s *MessageService) ListConversations(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if !boolean(req, "local") {
		convs, err := s.remote.Conversations(ctx)
		if err == nil {
			list, err := plain(convs)
			if err != nil {
				return nil, grpcstatus.Errorf(codes.Internal, "encode conversations: %v", err)
			}
			if list == nil {
				list = []any{}
			}
			return reply(map[string]any{"conversations": list, "source": "remote"})
		}
		s.logger.Warn("remote conversations failed, using local mirror", zap.Error(err))
	}

	threads, err := s.db.ListThreads(limitOf(req), int(integer(req, "offset")))
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "list threads: %v", err)
	}
	list := make([]any, 0, len(threads))
	for _, t := range threads {
		list = append(list, threadView(t))
	}
	return reply(map[string]any{"conversations": list, "source": "local"})
}

func (s *MessageService) SearchMessages(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	query := str(req, "query")
	if query == "" {
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "query is required")
	}

	if boolean(req, "remote") {
		found, err := s.remote.Search(ctx, query)
		if err != nil {
			return nil, remoteError("search", err)
		}
		list, err := plain(found)
		if err != nil {
			return nil, grpcstatus.Errorf(codes.Internal, "encode results: %v", err)
		}
		if list == nil {
			list = []any{}
		}
		return reply(map[string]any{"messages": list, "source": "remote"})
	}

	results, err := s.db.SearchMessages(query, str(req, "peer_user_id"), limitOf(req))
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "search messages: %v", err)
	}
	return reply(map[string]any{"messages": messageViews(results), "source": "local"})
}

func (s *MessageService) GetUnreadCount(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	n, err := s.remote.UnreadCount(ctx)
	if err == nil {
		return reply(map[string]any{"unread_count": n, "source": "remote"})
	}
	s.logger.Warn("remote unread count failed, using local mirror", zap.Error(err))

	c, err := s.db.Counts()
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "count unread: %v", err)
	}
	return reply(map[string]any{"unread_count": c.UnreadMessages, "source": "local"})
}

func (s *MessageService) GetLimits(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	limits, err := s.remote.Limits(ctx)
	if err != nil {
		return nil, remoteError("limits", err)
	}
	v, err := plain(limits)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "encode limits: %v", err)
	}
	if v == nil {
		v = map[string]any{}
	}
	return reply(map[string]any{"limits": v})
}

// MarkConversationRead marks a conversation read on the backend and applies
// the same receipt to the local mirror.
func (s *MessageService) MarkConversationRead(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	conv := str(req, "conversation_id")
	if conv == "" {
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "conversation_id is required")
	}
	if err := s.remote.MarkRead(ctx, wire.ID(conv)); err != nil {
		return nil, remoteError("mark read", err)
	}

	changed, err := s.db.ApplyReadReceipt(conv, s.identity.UserID(), s.identity.UserID(), time.Now())
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "apply read locally: %v", err)
	}
	return reply(map[string]any{"conversation_id": conv, "changed": changed})
}
