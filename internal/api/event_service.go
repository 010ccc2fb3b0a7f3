package api

import (
	"github.com/google/uuid"
	"github.com/matheus3301/inbox/internal/bus"
	"go.uber.org/zap"
	"google.golang.org/protobuf/types/known/structpb"
)

// EventService streams bus events to control-plane clients.
type EventService struct {
	sessionName string
	bus         *bus.Bus
	logger      *zap.Logger
}

// NewEventService creates a new event service.
func NewEventService(sessionName string, b *bus.Bus, logger *zap.Logger) *EventService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventService{sessionName: sessionName, bus: b, logger: logger}
}

// WatchEvents streams every event whose kind starts with the requested
// namespace. An empty namespace streams everything.
func (s *EventService) WatchEvents(req *structpb.Struct, stream ControlService_WatchEventsServer) error {
	ch, unsub := s.bus.Subscribe(str(req, "namespace"), 256)
	defer unsub()

	for {
		select {
		case evt := <-ch:
			env, err := s.envelope(evt)
			if err != nil {
				s.logger.Warn("dropping unencodable event", zap.String("kind", evt.Kind), zap.Error(err))
				continue
			}
			if err := stream.Send(env); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

func (s *EventService) envelope(evt bus.Event) (*structpb.Struct, error) {
	payload, err := plain(evt.Payload)
	if err != nil {
		return nil, err
	}
	return structpb.NewStruct(map[string]any{
		"event_id":            uuid.New().String(),
		"session":             s.sessionName,
		"kind":                evt.Kind,
		"occurred_at_unix_ms": evt.Timestamp.UnixMilli(),
		"payload_version":     1,
		"payload":             payload,
	})
}
