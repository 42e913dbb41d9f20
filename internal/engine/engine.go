package engine

import (
	"github.com/amoria-app/chatsync/internal/bus"
	"github.com/amoria-app/chatsync/internal/model"
	"github.com/amoria-app/chatsync/internal/outbox"
	"github.com/amoria-app/chatsync/internal/session"
	"github.com/amoria-app/chatsync/internal/store"
	"github.com/amoria-app/chatsync/internal/unread"
)

// Engine is the UI-facing facade over the synchronization core. Reads
// return defensive snapshot copies; intents are forwarded to the owning
// component. UI observers watch the bus for store.changed and message.*
// events rather than polling.
type Engine struct {
	store   *store.Store
	sender  *outbox.Sender
	tracker *unread.Tracker
	session *session.Context
	bus     *bus.Bus
}

// New creates the facade.
func New(s *store.Store, snd *outbox.Sender, t *unread.Tracker, sess *session.Context, b *bus.Bus) *Engine {
	return &Engine{store: s, sender: snd, tracker: t, session: sess, bus: b}
}

// Conversations returns all conversations, newest activity first.
func (e *Engine) Conversations() []model.Conversation {
	return e.store.Conversations()
}

// Messages returns the message sequence of one conversation.
func (e *Engine) Messages(convID string) []model.Message {
	return e.store.Messages(convID)
}

// UpsertConversation registers a conversation descriptor, typically after
// the profile provider resolved the peer snapshot.
func (e *Engine) UpsertConversation(c model.Conversation) {
	e.store.UpsertConversation(c)
}

// SendMessage creates an optimistic message and dispatches it. Returns the
// client-generated message id.
func (e *Engine) SendMessage(convID, content string, kind model.Kind, payload *model.Message) (string, error) {
	return e.sender.Send(convID, content, kind, payload)
}

// SwitchActive makes convID the active conversation and zeroes its unread
// counter. The empty id clears the selection.
func (e *Engine) SwitchActive(convID string) {
	e.tracker.SetActive(convID)
}

// ActiveConversation returns the active conversation id, or "".
func (e *Engine) ActiveConversation() string {
	return e.session.ActiveConversation()
}

// RetryFailed re-dispatches a failed optimistic message.
func (e *Engine) RetryFailed(convID, clientMsgID string) error {
	return e.sender.Retry(convID, clientMsgID)
}

// RemoveMessage purges a message, typically a failed optimistic entry the
// user discarded.
func (e *Engine) RemoveMessage(convID, id string) bool {
	return e.store.RemoveMessage(convID, id)
}

// SetPeerOnline updates a peer's presence flag.
func (e *Engine) SetPeerOnline(convID string, online bool) {
	e.store.SetOnline(convID, online)
}

// SetFocused records window focus, which the notification policy consults.
func (e *Engine) SetFocused(focused bool) {
	e.session.SetFocused(focused)
}

// Watch exposes the event bus to UI observers.
func (e *Engine) Watch(prefix string, bufSize int) (<-chan bus.Event, func()) {
	return e.bus.Subscribe(prefix, bufSize)
}
