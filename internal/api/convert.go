package api

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/matheus3301/inbox/internal/restapi"
	"github.com/matheus3301/inbox/internal/store"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// str reads a string field. Integral numbers are accepted for ids.
func str(req *structpb.Struct, key string) string {
	v := req.GetFields()[key]
	switch k := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		return k.StringValue
	case *structpb.Value_NumberValue:
		if k.NumberValue == math.Trunc(k.NumberValue) {
			return strconv.FormatInt(int64(k.NumberValue), 10)
		}
	}
	return ""
}

// integer reads a numeric field, also accepting numeric strings.
func integer(req *structpb.Struct, key string) int64 {
	v := req.GetFields()[key]
	switch k := v.GetKind().(type) {
	case *structpb.Value_NumberValue:
		return int64(k.NumberValue)
	case *structpb.Value_StringValue:
		n, _ := strconv.ParseInt(k.StringValue, 10, 64)
		return n
	}
	return 0
}

func boolean(req *structpb.Struct, key string) bool {
	return req.GetFields()[key].GetBoolValue()
}

// plain converts v into the map, slice and scalar shapes structpb accepts
// by way of its JSON encoding.
func plain(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func reply(fields map[string]any) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "encode response: %v", err)
	}
	return s, nil
}

func formatMs(ms int64) string {
	if ms <= 0 {
		return ""
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}

func messageView(m store.Message) map[string]any {
	return map[string]any{
		"key":             m.Key,
		"server_id":       m.ServerID,
		"conversation_id": m.ConversationID,
		"peer_user_id":    m.PeerUserID,
		"from_user_id":    m.FromUserID,
		"to_user_id":      m.ToUserID,
		"content":         m.Content,
		"message_type":    m.MessageType,
		"is_read":         m.IsRead,
		"outgoing":        m.Outgoing,
		"status":          m.Status,
		"created_at":      formatMs(m.CreatedAt),
		"created_at_ms":   m.CreatedAt,
	}
}

func messageViews(msgs []store.Message) []any {
	out := make([]any, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageView(m))
	}
	return out
}

func threadView(t store.Thread) map[string]any {
	return map[string]any{
		"conversation_id": t.ConversationID,
		"other_user_id":   t.PeerUserID,
		"last_message":    t.LastMessagePreview,
		"last_message_at": formatMs(t.LastMessageAt),
		"unread_count":    t.UnreadCount,
	}
}

// remoteError maps a REST failure onto a gRPC status.
func remoteError(op string, err error) error {
	if errors.Is(err, restapi.ErrNoIdentity) {
		return grpcstatus.Errorf(codes.FailedPrecondition, "%s: no user id configured; run login first", op)
	}
	var apiErr *restapi.APIError
	if errors.As(err, &apiErr) {
		code := codes.Unavailable
		switch apiErr.Status {
		case http.StatusBadRequest, http.StatusUnprocessableEntity:
			code = codes.InvalidArgument
		case http.StatusUnauthorized, http.StatusForbidden:
			code = codes.PermissionDenied
		case http.StatusNotFound:
			code = codes.NotFound
		case http.StatusTooManyRequests:
			code = codes.ResourceExhausted
		}
		return grpcstatus.Errorf(code, "%s: %v", op, apiErr)
	}
	return grpcstatus.Errorf(codes.Unavailable, "%s: %v", op, err)
}
