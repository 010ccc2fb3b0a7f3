// Package notify keeps the local notification cache in step with the
// backend and publishes the list on every change.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/inbox/internal/bus"
	"github.com/matheus3301/inbox/internal/store"
	"github.com/matheus3301/inbox/internal/wire"
	"go.uber.org/zap"
)

// DefaultPollInterval is used when the configured interval is not positive.
const DefaultPollInterval = 30 * time.Second

// API is the REST surface the service polls and acknowledges through.
type API interface {
	Notifications(ctx context.Context) ([]wire.Notification, error)
	MarkNotificationRead(ctx context.Context, id wire.ID) error
	MarkAllNotificationsRead(ctx context.Context) error
}

// Update is the payload of bus.KindNotificationsUpdated.
type Update struct {
	Notifications []wire.Notification `json:"notifications"`
	Unread        int                 `json:"unread"`
}

// Service polls notifications, caches them in the store and publishes
// notifications.updated after every change.
type Service struct {
	db       *store.DB
	api      API
	bus      *bus.Bus
	interval time.Duration
	logger   *zap.Logger

	mu     sync.Mutex // serializes refresh and mark operations
	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a notification service.
func NewService(db *store.DB, api API, b *bus.Bus, interval time.Duration, logger *zap.Logger) *Service {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: db, api: api, bus: b, interval: interval, logger: logger}
}

// Start refreshes immediately and then on every poll interval.
func (s *Service) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.loop(ctx)
}

// Stop stops polling and waits for an in-flight refresh to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

func (s *Service) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := s.Refresh(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn("notification poll failed", zap.Error(err))
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

// Refresh fetches notifications from the backend and caches them.
func (s *Service) Refresh(ctx context.Context) error {
	list, err := s.api.Notifications(ctx)
	if err != nil {
		return fmt.Errorf("fetch notifications: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows := make([]store.Notification, 0, len(list))
	for _, n := range list {
		if n.ID == "" {
			s.logger.Warn("skipping notification without id", zap.String("type", string(n.Type)))
			continue
		}
		if !n.Type.Valid() {
			s.logger.Warn("unknown notification type", zap.String("id", n.ID.String()), zap.String("type", string(n.Type)))
		}
		rows = append(rows, store.NotificationFromWire(n))
	}
	if err := s.db.UpsertNotifications(rows); err != nil {
		return fmt.Errorf("cache notifications: %w", err)
	}
	return s.publish()
}

// Notifications returns the cached notifications, newest first.
func (s *Service) Notifications() ([]wire.Notification, error) {
	return s.list(false)
}

// Unread returns the cached unread notifications.
func (s *Service) Unread() ([]wire.Notification, error) {
	return s.list(true)
}

// UnreadCount returns the number of cached unread notifications.
func (s *Service) UnreadCount() (int, error) {
	return s.db.UnreadNotificationCount()
}

func (s *Service) list(unreadOnly bool) ([]wire.Notification, error) {
	rows, err := s.db.ListNotifications(unreadOnly, 0)
	if err != nil {
		return nil, err
	}
	out := make([]wire.Notification, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Wire())
	}
	return out, nil
}

// MarkAsRead acknowledges one notification on the backend and locally.
func (s *Service) MarkAsRead(ctx context.Context, id wire.ID) error {
	if err := s.api.MarkNotificationRead(ctx, id); err != nil {
		return fmt.Errorf("mark notification %s read: %w", id, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	found, err := s.db.MarkNotificationRead(id.String())
	if err != nil {
		return err
	}
	if !found {
		s.logger.Debug("acknowledged notification not in cache", zap.String("id", id.String()))
	}
	return s.publish()
}

// MarkAllAsRead acknowledges every notification.
func (s *Service) MarkAllAsRead(ctx context.Context) error {
	if err := s.api.MarkAllNotificationsRead(ctx); err != nil {
		return fmt.Errorf("mark all notifications read: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.MarkAllNotificationsRead(); err != nil {
		return err
	}
	return s.publish()
}

// publish must be called with s.mu held.
func (s *Service) publish() error {
	list, err := s.list(false)
	if err != nil {
		return err
	}
	unread := 0
	for _, n := range list {
		if !n.IsRead {
			unread++
		}
	}
	s.bus.Emit(bus.KindNotificationsUpdated, Update{Notifications: list, Unread: unread})
	return nil
}
