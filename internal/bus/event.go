package bus

import (
	"time"

	"github.com/amoria-app/chatsync/internal/model"
)

// Event kinds published by the engine. Subscribers filter by topic prefix,
// e.g. "message." receives every message-related event.
const (
	KindStoreChanged  = "store.changed"       // payload: ConversationRef
	KindInbound       = "message.inbound"     // payload: InboundMessage
	KindSendAck       = "message.send_ack"    // payload: SendAck
	KindSendFailed    = "message.send_failed" // payload: SendFailure
	KindStale         = "message.stale"       // payload: SendFailure
	KindStatusChanged = "sub.status_changed"  // payload: subs.StatusChange
	KindResynced      = "sub.resynced"        // payload: ResyncInfo
	KindSnapshotSaved = "persist.saved"       // payload: SnapshotInfo
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// ConversationRef identifies the conversation touched by a store mutation.
type ConversationRef struct {
	ConversationID string
}

// InboundMessage is the domain event emitted for every non-own message
// appended to the store. Notification policy is decided downstream.
type InboundMessage struct {
	ConversationID string
	Message        model.Message
}

// SendAck is published when the transport accepts an outgoing message.
type SendAck struct {
	ConversationID string
	ClientMsgID    string
	ServerMsgID    string
}

// SendFailure is published when a send fails or goes stale.
type SendFailure struct {
	ConversationID string
	ClientMsgID    string
	Reason         string
}

// ResyncInfo is published after a full reload from the authoritative source.
type ResyncInfo struct {
	Conversations int
}

// SnapshotInfo is published after a snapshot write.
type SnapshotInfo struct {
	Key   string
	Bytes int
}
