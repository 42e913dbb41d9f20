package model

// Kind is the message content type.
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
	KindVoice Kind = "voice"
	KindGift  Kind = "gift"
)

// Status is the delivery status of a message. It only moves forward
// (sending → sent → delivered → read), except for the terminal transition
// to failed. It never regresses.
type Status string

const (
	StatusSending   Status = "sending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
	StatusFailed    Status = "failed"
)

var statusRank = map[Status]int{
	StatusSending:   0,
	StatusSent:      1,
	StatusDelivered: 2,
	StatusRead:      3,
}

// CanTransition reports whether a status change from→to is legal.
// Failed is terminal and reachable from any live status.
func CanTransition(from, to Status) bool {
	if from == to || from == StatusFailed {
		return false
	}
	if to == StatusFailed {
		return true
	}
	return statusRank[to] > statusRank[from]
}

// Origin tags whether a message identity is locally generated or
// server-issued. It replaces id-prefix sniffing for optimistic detection.
type Origin string

const (
	// OriginOptimistic marks a message created locally before server
	// confirmation. Its ID is a client-generated UUID.
	OriginOptimistic Origin = "optimistic"
	// OriginConfirmed marks a message carrying a server-issued ID.
	OriginConfirmed Origin = "confirmed"
)

// Gift carries gift-message metadata. The local copy may be richer than
// what the transport echoes back.
type Gift struct {
	Name     string `json:"name"`
	Cost     int    `json:"cost,omitempty"`
	Quantity int    `json:"quantity,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// ReplyRef references the message being replied to.
type ReplyRef struct {
	MessageID string `json:"message_id"`
	Text      string `json:"text,omitempty"`
	SenderID  string `json:"sender_id,omitempty"`
}

// Reaction is a single emoji reaction on a message.
type Reaction struct {
	UserID string `json:"user_id"`
	Emoji  string `json:"emoji"`
}

// Message is a single entry in a conversation's message sequence.
// All timestamps are unix milliseconds.
type Message struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	SenderIsOwn    bool       `json:"sender_is_own"`
	Kind           Kind       `json:"kind"`
	Content        string     `json:"content"`
	Status         Status     `json:"status"`
	Origin         Origin     `json:"origin"`
	Timestamp      int64      `json:"timestamp"`
	ImageURL       string     `json:"image_url,omitempty"`
	VoiceURL       string     `json:"voice_url,omitempty"`
	VoiceDuration  int        `json:"voice_duration,omitempty"`
	Gift           *Gift      `json:"gift,omitempty"`
	ReplyTo        *ReplyRef  `json:"reply_to,omitempty"`
	Reactions      []Reaction `json:"reactions,omitempty"`
	Edited         bool       `json:"edited,omitempty"`
	EditedAt       int64      `json:"edited_at,omitempty"`
	Forwarded      bool       `json:"forwarded,omitempty"`
}

// Clone returns a deep copy of the message.
func (m *Message) Clone() Message {
	out := *m
	if m.Gift != nil {
		g := *m.Gift
		out.Gift = &g
	}
	if m.ReplyTo != nil {
		r := *m.ReplyTo
		out.ReplyTo = &r
	}
	if len(m.Reactions) > 0 {
		out.Reactions = append([]Reaction(nil), m.Reactions...)
	}
	return out
}

// MessagePatch is a partial in-place update applied by the store. Nil
// fields are left untouched, which is what preserves locally-held payload
// during promotion.
type MessagePatch struct {
	ID        *string
	Status    *Status
	Origin    *Origin
	Timestamp *int64
	Content   *string
}
