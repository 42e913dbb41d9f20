package model

// PeerSnapshot holds the minimal profile fields needed to render a
// conversation. It is supplied by the profile provider at creation time
// and not owned by this engine.
type PeerSnapshot struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url,omitempty"`
	Age       int    `json:"age,omitempty"`
}

// Conversation is a peer conversation and its chronologically ordered
// message sequence. The sequence is append-only except for in-place
// promotion of a matched optimistic entry.
type Conversation struct {
	ID                 string       `json:"id"`
	Peer               PeerSnapshot `json:"peer"`
	Messages           []*Message   `json:"messages"`
	LastMessagePreview string       `json:"last_message_preview,omitempty"`
	LastMessageAt      int64        `json:"last_message_at,omitempty"`
	UnreadCount        int          `json:"unread_count,omitempty"`
	IsOnline           bool         `json:"is_online,omitempty"`
}

// Clone returns a deep copy of the conversation.
func (c *Conversation) Clone() Conversation {
	out := *c
	if len(c.Messages) > 0 {
		out.Messages = make([]*Message, len(c.Messages))
		for i, m := range c.Messages {
			cp := m.Clone()
			out.Messages[i] = &cp
		}
	}
	return out
}
