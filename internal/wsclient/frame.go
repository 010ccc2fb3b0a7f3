package wsclient

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/matheus3301/inbox/internal/wire"
)

// Frame is a client-to-server frame. The server only understands auth and ping.
type Frame interface {
	action() string
}

// AuthFrame identifies the user right after the transport opens.
type AuthFrame struct {
	UserID wire.ID
}

// PingFrame keeps the connection alive.
type PingFrame struct{}

func (AuthFrame) action() string { return "auth" }
func (PingFrame) action() string { return "ping" }

type outboundFrame struct {
	Action string  `json:"action"`
	UserID wire.ID `json:"user_id,omitempty"`
}

// EncodeFrame renders f as the JSON text sent on the socket.
func EncodeFrame(f Frame) ([]byte, error) {
	out := outboundFrame{Action: f.action()}
	if a, ok := f.(AuthFrame); ok {
		if a.UserID == "" {
			return nil, errors.New("auth frame without user id")
		}
		out.UserID = a.UserID
	}
	return json.Marshal(out)
}

// Inbound frame types as sent by the server in the "type" field.
const (
	TypeAuthenticated = "authenticated"
	TypeNewMessage    = "new_message"
	TypeMessageSent   = "message_sent"
	TypeReadReceipt   = "read_receipt"
	TypePong          = "pong"
	TypeError         = "error"

	// TypeUnknown labels every frame type outside the set above.
	TypeUnknown = "unknown"
)

// KnownType returns t if it is one of the handled frame types and
// TypeUnknown otherwise. Server-chosen strings never become metric labels.
func KnownType(t string) string {
	switch t {
	case TypeAuthenticated, TypeNewMessage, TypeMessageSent, TypeReadReceipt, TypePong, TypeError:
		return t
	}
	return TypeUnknown
}

// Inbound is a decoded server-to-client frame. The concrete type is one of
// Authenticated, NewMessage, MessageSent, ReadReceipt, Pong, ServerError or
// Unknown.
type Inbound interface {
	Type() string
}

// Authenticated acknowledges the auth frame.
type Authenticated struct{}

// NewMessage carries a message sent to the user.
type NewMessage struct {
	Message wire.Message
}

// MessageSent echoes a message the user sent, as stored by the server.
type MessageSent struct {
	Message wire.Message
}

// ReadReceipt reports that ReadBy has read the conversation.
type ReadReceipt struct {
	ConversationID wire.ID
	ReadBy         wire.ID
}

type Pong struct{}

// ServerError is an error reported by the server on the socket.
type ServerError struct {
	Message string
}

// Unknown is any frame whose type this client does not handle.
type Unknown struct {
	RawType string
	Raw     json.RawMessage
}

func (Authenticated) Type() string { return TypeAuthenticated }
func (NewMessage) Type() string    { return TypeNewMessage }
func (MessageSent) Type() string   { return TypeMessageSent }
func (ReadReceipt) Type() string   { return TypeReadReceipt }
func (Pong) Type() string          { return TypePong }
func (ServerError) Type() string   { return TypeError }
func (u Unknown) Type() string     { return u.RawType }

// inboundFrame leaves "message" raw: it is an object for message frames and
// a string for error frames.
type inboundFrame struct {
	Type           string          `json:"type"`
	Message        json.RawMessage `json:"message"`
	ConversationID wire.ID         `json:"conversation_id"`
	ReadBy         wire.ID         `json:"read_by"`
}

// DecodeFrame parses one text frame. It returns an error for frames that are
// not JSON objects or that lack the payload their type requires.
func DecodeFrame(data []byte) (Inbound, error) {
	var f inboundFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	switch f.Type {
	case TypeAuthenticated:
		return Authenticated{}, nil
	case TypeNewMessage, TypeMessageSent:
		msg, err := decodeMessage(f)
		if err != nil {
			return nil, err
		}
		if f.Type == TypeNewMessage {
			return NewMessage{Message: msg}, nil
		}
		return MessageSent{Message: msg}, nil
	case TypeReadReceipt:
		if f.ConversationID == "" {
			return nil, errors.New("read_receipt frame without conversation_id")
		}
		return ReadReceipt{ConversationID: f.ConversationID, ReadBy: f.ReadBy}, nil
	case TypePong:
		return Pong{}, nil
	case TypeError:
		var text string
		if len(f.Message) > 0 && string(f.Message) != "null" {
			if err := json.Unmarshal(f.Message, &text); err != nil {
				text = string(f.Message)
			}
		}
		return ServerError{Message: text}, nil
	default:
		return Unknown{RawType: f.Type, Raw: append(json.RawMessage(nil), data...)}, nil
	}
}

func decodeMessage(f inboundFrame) (wire.Message, error) {
	var msg wire.Message
	if len(f.Message) == 0 || string(f.Message) == "null" {
		return msg, fmt.Errorf("%s frame without message", f.Type)
	}
	if err := json.Unmarshal(f.Message, &msg); err != nil {
		return msg, fmt.Errorf("%s frame: %w", f.Type, err)
	}
	return msg, nil
}
