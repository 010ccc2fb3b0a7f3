// Package wire holds the JSON shapes exchanged with the forum backend, over
// both the message socket and the REST API.
package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ID identifies users, conversations and notifications. The backend sends
// some of them as JSON numbers and some as strings.
type ID string

// UnmarshalJSON accepts a JSON string, an integer or null.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	if _, err := n.Int64(); err != nil {
		return fmt.Errorf("id %s is not an integer", n)
	}
	*id = ID(n.String())
	return nil
}

// MarshalJSON writes canonical digit strings as numbers so numeric ids
// round-trip in the form the backend sent them.
func (id ID) MarshalJSON() ([]byte, error) {
	if id.numeric() {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

func (id ID) numeric() bool {
	s := string(id)
	if s == "" || len(s) > 18 {
		return false
	}
	if len(s) > 1 && s[0] == '0' {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// String returns the id as text.
func (id ID) String() string { return string(id) }

// Timestamp is a point in time that tolerates the zone-less ISO 8601 form
// some backend serializers emit. Zone-less values are read as UTC.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseTimestamp parses any of the accepted timestamp layouts.
func ParseTimestamp(s string) (Timestamp, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Timestamp{t.UTC()}, nil
		}
	}
	return Timestamp{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("timestamp must be a string: %w", err)
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	parsed, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

// MessageType distinguishes ordinary messages from greetings.
type MessageType string

const (
	MessageNormal   MessageType = "normal"
	MessageGreeting MessageType = "greeting"
)

// Message is a direct message as mirrored from the backend.
type Message struct {
	ID             int64       `json:"id"`
	ConversationID ID          `json:"conversation_id,omitempty"`
	FromUserID     ID          `json:"from_user_id"`
	ToUserID       ID          `json:"to_user_id"`
	Content        string      `json:"content"`
	MessageType    MessageType `json:"message_type,omitempty"`
	CreatedAt      Timestamp   `json:"created_at"`
	IsRead         bool        `json:"is_read"`
}

// Kind returns the message type, defaulting to normal.
func (m Message) Kind() MessageType {
	if m.MessageType == "" {
		return MessageNormal
	}
	return m.MessageType
}

// Peer returns the other participant from self's point of view.
func (m Message) Peer(self ID) ID {
	if m.FromUserID == self {
		return m.ToUserID
	}
	return m.FromUserID
}

// ConversationSummary is one row of the conversation list.
type ConversationSummary struct {
	ConversationID ID        `json:"conversation_id"`
	OtherUserID    ID        `json:"other_user_id"`
	OtherUsername  string    `json:"other_username,omitempty"`
	LastMessage    string    `json:"last_message,omitempty"`
	LastMessageAt  Timestamp `json:"last_message_at"`
	UnreadCount    int       `json:"unread_count"`
}

// Conversation is a conversation with its messages.
type Conversation struct {
	ConversationID ID        `json:"conversation_id"`
	OtherUserID    ID        `json:"other_user_id,omitempty"`
	Messages       []Message `json:"messages"`
}

// SendRequest is the body of POST /api/messages/send and /greeting.
type SendRequest struct {
	ToUserID ID     `json:"to_user_id"`
	Content  string `json:"content"`
}

// ReadRequest is the body of POST /api/messages/read.
type ReadRequest struct {
	ConversationID ID `json:"conversation_id"`
}

// UnreadCount is the body of GET /api/messages/unread-count.
type UnreadCount struct {
	UnreadCount int `json:"unread_count"`
}

// Limits is the free-form quota document from GET /api/messages/limits.
type Limits map[string]any
