package wsclient

import (
	"time"

	"github.com/matheus3301/inbox/internal/wire"
)

// Payloads published on the bus under the socket. namespace.

// MessageEvent is the payload of bus.KindMessage. Echo is true for
// message_sent frames.
type MessageEvent struct {
	Message wire.Message `json:"message"`
	Echo    bool         `json:"echo"`
}

// ReadReceiptEvent is the payload of bus.KindReadReceipt.
type ReadReceiptEvent struct {
	ConversationID wire.ID `json:"conversation_id"`
	ReadBy         wire.ID `json:"read_by"`
}

// ConnectedEvent is the payload of bus.KindConnected.
type ConnectedEvent struct {
	UserID string `json:"user_id"`
}

// DisconnectedEvent is the payload of bus.KindDisconnected. Err is empty
// for an explicit Disconnect.
type DisconnectedEvent struct {
	Err string `json:"error,omitempty"`
}

// FrameEvent is the payload of bus.KindFrameReceived and bus.KindFrameDropped.
type FrameEvent struct {
	Type   string `json:"type,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Drop reasons.
const (
	DropMalformed   = "malformed"
	DropUnknownType = "unknown_type"
	DropPreAuthFull = "pre_auth_overflow"
)

// RetryEvent is the payload of bus.KindReconnectScheduled and bus.KindGaveUp.
type RetryEvent struct {
	Attempt int           `json:"attempt"`
	Max     int           `json:"max"`
	Delay   time.Duration `json:"delay_ns"`
}
