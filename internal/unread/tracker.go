package unread

import (
	"github.com/amoria-app/chatsync/internal/model"
	"github.com/amoria-app/chatsync/internal/session"
	"github.com/amoria-app/chatsync/internal/store"
)

// Tracker derives unread counters from store mutations and session focus.
// The rules are narrow: count only inbound messages appended while their
// conversation is not active; never count own messages; reset to zero
// exactly when a conversation becomes active. Edits, reactions and status
// transitions of existing messages never touch the counter.
type Tracker struct {
	store   *store.Store
	session *session.Context
}

// NewTracker creates a tracker bound to the session context.
func NewTracker(s *store.Store, sess *session.Context) *Tracker {
	return &Tracker{store: s, session: sess}
}

// NoteInbound records a newly appended message and returns whether the
// unread counter was incremented.
func (t *Tracker) NoteInbound(convID string, m model.Message) bool {
	if m.SenderIsOwn {
		return false
	}
	if t.session.IsActive(convID) {
		return false
	}
	t.store.IncrementUnread(convID)
	return true
}

// SetActive switches the active conversation and zeroes its counter.
// Every other conversation's counter is left unchanged. The empty id
// clears the selection without touching any counter.
func (t *Tracker) SetActive(convID string) {
	t.session.SetActive(convID)
	if convID != "" {
		t.store.ResetUnread(convID)
	}
}
