package api

import (
	"context"

	"github.com/matheus3301/inbox/internal/wire"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// Notifier is the notification cache the service reads and acknowledges.
type Notifier interface {
	Refresh(ctx context.Context) error
	Notifications() ([]wire.Notification, error)
	Unread() ([]wire.Notification, error)
	UnreadCount() (int, error)
	MarkAsRead(ctx context.Context, id wire.ID) error
	MarkAllAsRead(ctx context.Context) error
}

// NotificationService exposes the notification cache.
type NotificationService struct {
	notifier Notifier
	logger   *zap.Logger
}

// NewNotificationService creates a new notification service.
func NewNotificationService(notifier Notifier, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{notifier: notifier, logger: logger}
}

func (s *NotificationService) ListNotifications(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	stale := false
	if boolean(req, "refresh") {
		if err := s.notifier.Refresh(ctx); err != nil {
			s.logger.Warn("notification refresh failed, serving cache", zap.Error(err))
			stale = true
		}
	}

	list := s.notifier.Notifications
	if boolean(req, "unread_only") {
		list = s.notifier.Unread
	}
	found, err := list()
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "list notifications: %v", err)
	}
	v, err := plain(found)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "encode notifications: %v", err)
	}
	if v == nil {
		v = []any{}
	}
	return s.withUnread(map[string]any{"notifications": v, "stale": stale})
}

// MarkNotificationRead acknowledges one notification by id, or all of them
// when all is set.
func (s *NotificationService) MarkNotificationRead(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if boolean(req, "all") {
		if err := s.notifier.MarkAllAsRead(ctx); err != nil {
			return nil, remoteError("mark all notifications read", err)
		}
		return s.withUnread(map[string]any{"ok": true})
	}

	id := str(req, "id")
	if id == "" {
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "id or all is required")
	}
	if err := s.notifier.MarkAsRead(ctx, wire.ID(id)); err != nil {
		return nil, remoteError("mark notification read", err)
	}
	return s.withUnread(map[string]any{"ok": true, "id": id})
}

func (s *NotificationService) withUnread(resp map[string]any) (*structpb.Struct, error) {
	n, err := s.notifier.UnreadCount()
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "count unread notifications: %v", err)
	}
	resp["unread"] = n
	return reply(resp)
}
