package api

import (
	"context"
	"errors"
	"time"

	"github.com/matheus3301/inbox/internal/session"
	"github.com/matheus3301/inbox/internal/status"
	"github.com/matheus3301/inbox/internal/store"
	intsync "github.com/matheus3301/inbox/internal/sync"
	"github.com/matheus3301/inbox/internal/wsclient"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// Socket is the part of wsclient.Client the control plane drives.
type Socket interface {
	Connect(ctx context.Context) error
	Disconnect()
	State() status.State
	Connected() bool
	ReconnectAttempts() int
}

// SaveUserID persists a new user id for the session.
type SaveUserID func(userID string) error

// SessionService reports and controls the socket connection.
type SessionService struct {
	sessionName string
	startedAt   time.Time
	socket      Socket
	identity    *session.Identity
	db          *store.DB
	checkpoints *intsync.Reconciler
	save        SaveUserID
	logger      *zap.Logger
}

// NewSessionService creates a new session service. db, checkpoints and save
// may be nil.
func NewSessionService(sessionName string, socket Socket, identity *session.Identity, db *store.DB, checkpoints *intsync.Reconciler, save SaveUserID, logger *zap.Logger) *SessionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionService{
		sessionName: sessionName,
		startedAt:   time.Now(),
		socket:      socket,
		identity:    identity,
		db:          db,
		checkpoints: checkpoints,
		save:        save,
		logger:      logger,
	}
}

func (s *SessionService) GetStatus(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	resp := map[string]any{
		"session":            s.sessionName,
		"state":              string(s.socket.State()),
		"connected":          s.socket.Connected(),
		"user_id":            s.identity.UserID(),
		"reconnect_attempts": s.socket.ReconnectAttempts(),
		"uptime_ms":          time.Since(s.startedAt).Milliseconds(),
	}

	// Populate counts from store.
	if s.db != nil {
		if c, err := s.db.Counts(); err == nil {
			resp["messages"] = c.Messages
			resp["unread_messages"] = c.UnreadMessages
			resp["pending_outbox"] = c.PendingOutbox
			resp["notifications"] = c.Notifications
			resp["unread_notifications"] = c.UnreadNotifications
		} else {
			s.logger.Warn("status counts failed", zap.Error(err))
		}
	}
	if s.checkpoints != nil {
		if at, err := s.checkpoints.Time(intsync.CheckpointLastConnected); err == nil && !at.IsZero() {
			resp["last_connected_at"] = at.UTC().Format(time.RFC3339)
		}
	}

	return reply(resp)
}

func (s *SessionService) Connect(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if err := s.socket.Connect(ctx); err != nil {
		if errors.Is(err, wsclient.ErrNoIdentity) {
			return nil, grpcstatus.Errorf(codes.FailedPrecondition, "no user id configured; run login first")
		}
		// A failed dial has already scheduled a retry.
		return nil, grpcstatus.Errorf(codes.Unavailable, "connect: %v", err)
	}
	return s.stateReply()
}

func (s *SessionService) Disconnect(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	s.socket.Disconnect()
	return s.stateReply()
}

// Login switches the session to another user id. The local mirror of a
// previous user is dropped, and an active connection is re-established
// under the new identity.
func (s *SessionService) Login(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID := str(req, "user_id")
	if userID == "" {
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "user_id is required")
	}

	previous := s.identity.UserID()
	switching := previous != userID
	reconnect := switching && s.socket.State() != status.Disconnected
	if reconnect {
		// Nothing may be mirrored under the old id once the mirror is reset.
		s.socket.Disconnect()
	}
	if switching && s.checkpoints != nil {
		reset, err := s.checkpoints.ClaimMirror(userID)
		if err != nil {
			return nil, grpcstatus.Errorf(codes.Internal, "switch local mirror: %v", err)
		}
		if reset {
			s.logger.Info("dropped local mirror of previous user", zap.String("previous", previous))
		}
	}

	s.identity.Set(userID)
	if s.save != nil {
		if err := s.save(userID); err != nil {
			return nil, grpcstatus.Errorf(codes.Internal, "save session config: %v", err)
		}
	}
	s.logger.Info("user id changed", zap.String("user_id", userID), zap.String("previous", previous))

	if reconnect || boolean(req, "connect") {
		if err := s.socket.Connect(ctx); err != nil {
			return nil, grpcstatus.Errorf(codes.Unavailable, "connect: %v", err)
		}
	}
	return s.stateReply()
}

func (s *SessionService) stateReply() (*structpb.Struct, error) {
	return reply(map[string]any{
		"state":   string(s.socket.State()),
		"user_id": s.identity.UserID(),
	})
}
