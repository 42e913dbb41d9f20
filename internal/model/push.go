package model

// PushEvent is a transport-delivered notification of an authoritative
// message. It is consumed during reconciliation and never stored directly:
// it either promotes a pending optimistic message or becomes a new Message.
type PushEvent struct {
	ID         string `json:"id"`
	SenderID   string `json:"sender_id"`
	ReceiverID string `json:"receiver_id"`
	Kind       Kind   `json:"kind"`
	Content    string `json:"content"`
	CreatedAt  int64  `json:"created_at"`

	// ClientRef, when the transport round-trips it, is the client-generated
	// id of the optimistic message this event confirms. It makes matching
	// exact; absent, matching falls back to the content heuristic.
	ClientRef string `json:"client_ref,omitempty"`

	ImageURL      string `json:"image_url,omitempty"`
	VoiceURL      string `json:"voice_url,omitempty"`
	VoiceDuration int    `json:"voice_duration,omitempty"`
	GiftName      string `json:"gift_name,omitempty"`
	GiftCost      int    `json:"gift_cost,omitempty"`
	GiftQuantity  int    `json:"gift_quantity,omitempty"`
	GiftImageURL  string `json:"gift_image_url,omitempty"`
}

// ConversationID returns the peer conversation this event belongs to,
// given whether the current user authored it.
func (e *PushEvent) ConversationID(isOwn bool) string {
	if isOwn {
		return e.ReceiverID
	}
	return e.SenderID
}

// Message converts the event into a confirmed store message.
func (e *PushEvent) Message(isOwn bool) Message {
	m := Message{
		ID:             e.ID,
		ConversationID: e.ConversationID(isOwn),
		SenderIsOwn:    isOwn,
		Kind:           e.Kind,
		Content:        e.Content,
		Status:         StatusDelivered,
		Origin:         OriginConfirmed,
		Timestamp:      e.CreatedAt,
		ImageURL:       e.ImageURL,
		VoiceURL:       e.VoiceURL,
		VoiceDuration:  e.VoiceDuration,
	}
	if e.Kind == KindGift {
		m.Gift = &Gift{
			Name:     e.GiftName,
			Cost:     e.GiftCost,
			Quantity: e.GiftQuantity,
			ImageURL: e.GiftImageURL,
		}
	}
	return m
}
