package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds. The part up to and including the first dot is the namespace
// subscribers filter on.
const (
	KindStatusChanged      = "socket.status_changed"
	KindConnected          = "socket.connected"
	KindDisconnected       = "socket.disconnected"
	KindMessage            = "socket.message"
	KindReadReceipt        = "socket.read_receipt"
	KindServerError        = "socket.server_error"
	KindFrameReceived      = "socket.frame_received"
	KindFrameDropped       = "socket.frame_dropped"
	KindReconnectScheduled = "socket.reconnect_scheduled"
	KindGaveUp             = "socket.gave_up"

	KindMessageUpserted = "message.upserted"
	KindMessageRead     = "message.read"
	KindHistoryBatch    = "message.history_batch"
	KindSendAck         = "message.send_ack"
	KindSendFailed      = "message.send_failed"

	KindNotificationsUpdated = "notifications.updated"
)

// NewEvent stamps an event with the current time.
func NewEvent(kind string, payload any) Event {
	return Event{Kind: kind, Timestamp: time.Now(), Payload: payload}
}
