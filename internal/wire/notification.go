package wire

import "encoding/json"

// NotificationType categorizes a notification.
type NotificationType string

const (
	NotificationFriendRequest   NotificationType = "friend_request"
	NotificationMessage         NotificationType = "message"
	NotificationPostInteraction NotificationType = "post_interaction"
	NotificationSystemUpdate    NotificationType = "system_update"
	NotificationAnnouncement    NotificationType = "announcement"
)

// Valid reports whether t is one of the known notification types.
func (t NotificationType) Valid() bool {
	switch t {
	case NotificationFriendRequest, NotificationMessage, NotificationPostInteraction,
		NotificationSystemUpdate, NotificationAnnouncement:
		return true
	}
	return false
}

// Notification is a user-facing notification produced server-side.
type Notification struct {
	ID        ID               `json:"id"`
	Type      NotificationType `json:"type"`
	Title     string           `json:"title"`
	Body      string           `json:"body"`
	IsRead    bool             `json:"is_read"`
	CreatedAt Timestamp        `json:"created_at"`
	Data      json.RawMessage  `json:"data,omitempty"`
}
