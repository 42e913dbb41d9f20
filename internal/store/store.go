package store

import (
	"sort"
	"sync"
	"time"

	"github.com/amoria-app/chatsync/internal/bus"
	"github.com/amoria-app/chatsync/internal/model"
)

const previewMaxLen = 100

// AppendResult reports the outcome of AppendMessage.
type AppendResult int

const (
	// Appended means the message was added at the tail.
	Appended AppendResult = iota
	// Duplicate means a message with the same id already exists; the call
	// was a no-op.
	Duplicate
)

// Store is the in-memory authoritative map of conversations. It exclusively
// owns all Conversation and Message values; other components mutate only
// through its API. Mutations within one conversation are serialized by a
// per-conversation mutex; cross-conversation operations (Replace) take the
// map lock exclusively, which also serializes them against every in-flight
// per-conversation mutation.
type Store struct {
	mu    sync.RWMutex
	convs map[string]*entry
	bus   *bus.Bus
}

type entry struct {
	mu   sync.Mutex
	conv *model.Conversation
	byID map[string]struct{}
}

// New creates an empty store publishing change events on b.
func New(b *bus.Bus) *Store {
	return &Store{
		convs: make(map[string]*entry),
		bus:   b,
	}
}

// UpsertConversation inserts or replaces a conversation descriptor. For an
// existing id the message sequence and unread counter are preserved.
func (s *Store) UpsertConversation(c model.Conversation) {
	s.mu.Lock()
	if e, ok := s.convs[c.ID]; ok {
		e.mu.Lock()
		e.conv.Peer = c.Peer
		e.conv.IsOnline = c.IsOnline
		if c.LastMessageAt > e.conv.LastMessageAt {
			e.conv.LastMessageAt = c.LastMessageAt
			e.conv.LastMessagePreview = c.LastMessagePreview
		}
		e.mu.Unlock()
	} else {
		s.convs[c.ID] = newEntry(c.Clone())
	}
	s.mu.Unlock()
	s.changed(c.ID)
}

// AppendMessage appends m at the tail of the conversation, creating a
// minimal conversation if none exists. Idempotent by message id.
func (s *Store) AppendMessage(convID string, m model.Message) AppendResult {
	e := s.ensure(convID)
	e.mu.Lock()
	if _, dup := e.byID[m.ID]; dup {
		e.mu.Unlock()
		return Duplicate
	}
	cp := m.Clone()
	cp.ConversationID = convID
	e.conv.Messages = append(e.conv.Messages, &cp)
	e.byID[cp.ID] = struct{}{}
	if cp.Timestamp >= e.conv.LastMessageAt {
		e.conv.LastMessageAt = cp.Timestamp
		e.conv.LastMessagePreview = preview(&cp)
	}
	e.mu.Unlock()
	s.changed(convID)
	return Appended
}

// PatchMessage applies patch to the first message satisfying match,
// preserving its position in the sequence. Status changes that would
// regress are dropped while the rest of the patch still applies.
// Returns false if no message matched.
func (s *Store) PatchMessage(convID string, match func(*model.Message) bool, patch model.MessagePatch) bool {
	e := s.get(convID)
	if e == nil {
		return false
	}
	e.mu.Lock()
	var target *model.Message
	for _, m := range e.conv.Messages {
		if match(m) {
			target = m
			break
		}
	}
	if target == nil {
		e.mu.Unlock()
		return false
	}
	if patch.ID != nil && *patch.ID != target.ID {
		delete(e.byID, target.ID)
		target.ID = *patch.ID
		e.byID[target.ID] = struct{}{}
	}
	if patch.Status != nil && model.CanTransition(target.Status, *patch.Status) {
		target.Status = *patch.Status
	}
	if patch.Origin != nil {
		target.Origin = *patch.Origin
	}
	if patch.Timestamp != nil {
		target.Timestamp = *patch.Timestamp
	}
	if patch.Content != nil {
		target.Content = *patch.Content
	}
	e.mu.Unlock()
	s.changed(convID)
	return true
}

// RemoveMessage deletes the message with the given id. Used to purge a
// failed optimistic entry.
func (s *Store) RemoveMessage(convID, id string) bool {
	e := s.get(convID)
	if e == nil {
		return false
	}
	e.mu.Lock()
	removed := false
	for i, m := range e.conv.Messages {
		if m.ID == id {
			e.conv.Messages = append(e.conv.Messages[:i], e.conv.Messages[i+1:]...)
			delete(e.byID, id)
			removed = true
			break
		}
	}
	e.mu.Unlock()
	if removed {
		s.changed(convID)
	}
	return removed
}

// IncrementUnread bumps the unread counter by one.
func (s *Store) IncrementUnread(convID string) {
	e := s.get(convID)
	if e == nil {
		return
	}
	e.mu.Lock()
	e.conv.UnreadCount++
	e.mu.Unlock()
	s.changed(convID)
}

// ResetUnread zeroes the unread counter, independent of message count.
func (s *Store) ResetUnread(convID string) {
	e := s.get(convID)
	if e == nil {
		return
	}
	e.mu.Lock()
	e.conv.UnreadCount = 0
	e.mu.Unlock()
	s.changed(convID)
}

// SetOnline updates the peer presence flag.
func (s *Store) SetOnline(convID string, online bool) {
	e := s.get(convID)
	if e == nil {
		return
	}
	e.mu.Lock()
	e.conv.IsOnline = online
	e.mu.Unlock()
	s.changed(convID)
}

// Replace swaps in a full conversation set from the authoritative source
// (resync or snapshot load). Live unread counters survive for conversations
// already present; everything else is taken from the incoming set.
func (s *Store) Replace(convs []model.Conversation) {
	s.mu.Lock()
	fresh := make(map[string]*entry, len(convs))
	for i := range convs {
		c := convs[i].Clone()
		if old, ok := s.convs[c.ID]; ok {
			old.mu.Lock()
			c.UnreadCount = old.conv.UnreadCount
			old.mu.Unlock()
		}
		fresh[c.ID] = newEntry(c)
	}
	s.convs = fresh
	s.mu.Unlock()
	s.changed("")
}

// Conversations returns snapshot copies sorted by last message time,
// newest first.
func (s *Store) Conversations() []model.Conversation {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.convs))
	for _, e := range s.convs {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]model.Conversation, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.conv.Clone())
		e.mu.Unlock()
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastMessageAt > out[j].LastMessageAt
	})
	return out
}

// Get returns a snapshot copy of one conversation.
func (s *Store) Get(convID string) (model.Conversation, bool) {
	e := s.get(convID)
	if e == nil {
		return model.Conversation{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conv.Clone(), true
}

// Messages returns snapshot copies of a conversation's message sequence
// in chronological order.
func (s *Store) Messages(convID string) []model.Message {
	e := s.get(convID)
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]model.Message, 0, len(e.conv.Messages))
	for _, m := range e.conv.Messages {
		out = append(out, m.Clone())
	}
	return out
}

// FindMessage returns a snapshot copy of one message by id.
func (s *Store) FindMessage(convID, id string) (model.Message, bool) {
	e := s.get(convID)
	if e == nil {
		return model.Message{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, m := range e.conv.Messages {
		if m.ID == id {
			return m.Clone(), true
		}
	}
	return model.Message{}, false
}

func (s *Store) get(convID string) *entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.convs[convID]
}

func (s *Store) ensure(convID string) *entry {
	s.mu.RLock()
	e := s.convs[convID]
	s.mu.RUnlock()
	if e != nil {
		return e
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if e = s.convs[convID]; e != nil {
		return e
	}
	e = newEntry(model.Conversation{
		ID:   convID,
		Peer: model.PeerSnapshot{ID: convID},
	})
	s.convs[convID] = e
	return e
}

func (s *Store) changed(convID string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(bus.Event{
		Kind:      bus.KindStoreChanged,
		Timestamp: time.Now(),
		Payload:   bus.ConversationRef{ConversationID: convID},
	})
}

func newEntry(c model.Conversation) *entry {
	e := &entry{
		conv: &c,
		byID: make(map[string]struct{}, len(c.Messages)),
	}
	for _, m := range c.Messages {
		e.byID[m.ID] = struct{}{}
	}
	return e
}

func preview(m *model.Message) string {
	switch m.Kind {
	case model.KindImage:
		return "[photo]"
	case model.KindVoice:
		return "[voice message]"
	case model.KindGift:
		if m.Gift != nil && m.Gift.Name != "" {
			return "[gift] " + m.Gift.Name
		}
		return "[gift]"
	}
	return truncate(m.Content, previewMaxLen)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
