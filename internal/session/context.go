package session

import "sync"

// Context carries per-session state that must not live inside UI closures:
// the current user id, the single active conversation, and window focus.
// It is shared by the unread tracker, the subscription manager, and the
// notification dispatcher.
type Context struct {
	userID string

	mu      sync.RWMutex
	active  string
	focused bool
}

// NewContext creates a session context for the given user. The session
// starts with no active conversation and an unfocused window.
func NewContext(userID string) *Context {
	return &Context{userID: userID}
}

// UserID returns the authenticated user's id. Immutable for the session.
func (c *Context) UserID() string {
	return c.userID
}

// SetActive marks convID as the active conversation. At most one
// conversation is active; the empty id clears the selection.
func (c *Context) SetActive(convID string) {
	c.mu.Lock()
	c.active = convID
	c.mu.Unlock()
}

// ActiveConversation returns the active conversation id, or "".
func (c *Context) ActiveConversation() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.active
}

// IsActive reports whether convID is the active conversation.
func (c *Context) IsActive(convID string) bool {
	return convID != "" && c.ActiveConversation() == convID
}

// SetFocused records whether the application window has focus.
func (c *Context) SetFocused(focused bool) {
	c.mu.Lock()
	c.focused = focused
	c.mu.Unlock()
}

// Focused reports whether the application window has focus.
func (c *Context) Focused() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.focused
}
