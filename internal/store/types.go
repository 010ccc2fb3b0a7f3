package store

import (
	"strconv"
	"time"

	"github.com/matheus3301/inbox/internal/wire"
)

// Message delivery statuses.
const (
	StatusReceived = "received"
	StatusSending  = "sending"
	StatusSent     = "sent"
	StatusFailed   = "failed"
)

// Message is a mirrored direct message. Key is the server id for messages
// the backend confirmed and "local:<client id>" for optimistic rows.
type Message struct {
	ID             int64
	Key            string
	ServerID       int64
	ConversationID string
	PeerUserID     string
	FromUserID     string
	ToUserID       string
	Content        string
	MessageType    string
	IsRead         bool
	Outgoing       bool
	Status         string
	CreatedAt      int64 // unix ms
}

// ServerKey returns the msg_key of a server-confirmed message.
func ServerKey(id int64) string {
	return strconv.FormatInt(id, 10)
}

// LocalKey returns the msg_key of an optimistic row.
func LocalKey(clientMsgID string) string {
	return "local:" + clientMsgID
}

// MessageFromWire converts a backend message seen by self.
func MessageFromWire(m wire.Message, self wire.ID, status string) *Message {
	created := m.CreatedAt.Time
	if created.IsZero() {
		created = time.Now()
	}
	return &Message{
		Key:            ServerKey(m.ID),
		ServerID:       m.ID,
		ConversationID: m.ConversationID.String(),
		PeerUserID:     m.Peer(self).String(),
		FromUserID:     m.FromUserID.String(),
		ToUserID:       m.ToUserID.String(),
		Content:        m.Content,
		MessageType:    string(m.Kind()),
		IsRead:         m.IsRead,
		Outgoing:       m.FromUserID == self,
		Status:         status,
		CreatedAt:      created.UnixMilli(),
	}
}

// Thread summarizes the local messages exchanged with one peer.
type Thread struct {
	PeerUserID         string
	ConversationID     string
	UnreadCount        int
	LastMessageAt      int64
	LastMessagePreview string
}

// Notification is a cached notification.
type Notification struct {
	ID        string
	Type      string
	Title     string
	Body      string
	IsRead    bool
	Data      string
	CreatedAt int64 // unix ms
}

// NotificationFromWire converts a backend notification.
func NotificationFromWire(n wire.Notification) Notification {
	var created int64
	if !n.CreatedAt.IsZero() {
		created = n.CreatedAt.UnixMilli()
	}
	return Notification{
		ID:        n.ID.String(),
		Type:      string(n.Type),
		Title:     n.Title,
		Body:      n.Body,
		IsRead:    n.IsRead,
		Data:      string(n.Data),
		CreatedAt: created,
	}
}

// Wire converts back to the backend shape.
func (n Notification) Wire() wire.Notification {
	out := wire.Notification{
		ID:     wire.ID(n.ID),
		Type:   wire.NotificationType(n.Type),
		Title:  n.Title,
		Body:   n.Body,
		IsRead: n.IsRead,
	}
	if n.CreatedAt > 0 {
		out.CreatedAt = wire.Timestamp{Time: time.UnixMilli(n.CreatedAt).UTC()}
	}
	if n.Data != "" {
		out.Data = []byte(n.Data)
	}
	return out
}

// OutboxEntry represents a pending outgoing message.
type OutboxEntry struct {
	ID           int64
	ClientMsgID  string
	ToUserID     string
	Content      string
	MessageType  string
	Status       string // queued, sending, sent, failed
	ErrorMessage string
	ServerMsgID  int64
	CreatedAt    int64
}

// Counts summarizes the mirror for status reporting.
type Counts struct {
	Messages            int
	UnreadMessages      int
	PendingOutbox       int
	Notifications       int
	UnreadNotifications int
}
