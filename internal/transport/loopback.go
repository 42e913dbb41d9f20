package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/amoria-app/chatsync/internal/model"
)

// Loopback is an in-memory transport. Inserts are assigned sequential
// server ids and, when echo is enabled, redelivered as push events the way
// a real backend echoes an author's own message. It also implements the
// subscription manager's Loader so tests and the demo daemon can exercise
// the resync path.
type Loopback struct {
	SelfID string

	// EchoDelay > 0 enables echoing inserts back as push events.
	EchoDelay time.Duration
	// EchoClientRef controls whether echoes carry the client reference.
	EchoClientRef bool

	mu         sync.Mutex
	subs       map[*loopbackHandle]func(model.PushEvent)
	seq        int
	insertErr  error
	snapshot   []model.Conversation
	loadCalls  int
	subscribed int
}

type loopbackHandle struct {
	errCh chan error
	once  sync.Once
}

func (h *loopbackHandle) Err() <-chan error { return h.errCh }

func (h *loopbackHandle) fail(err error) {
	h.once.Do(func() {
		if err != nil {
			h.errCh <- err
		}
		close(h.errCh)
	})
}

// NewLoopback creates a loopback transport for the given user.
func NewLoopback(selfID string) *Loopback {
	return &Loopback{
		SelfID: selfID,
		subs:   make(map[*loopbackHandle]func(model.PushEvent)),
	}
}

// Insert assigns a server id and optionally schedules an echo push event.
func (l *Loopback) Insert(_ context.Context, m model.Message) (string, error) {
	l.mu.Lock()
	if l.insertErr != nil {
		err := l.insertErr
		l.mu.Unlock()
		return "", err
	}
	l.seq++
	serverID := fmt.Sprintf("srv-%d", l.seq)
	delay := l.EchoDelay
	l.mu.Unlock()

	if delay > 0 {
		evt := model.PushEvent{
			ID:         serverID,
			SenderID:   l.SelfID,
			ReceiverID: m.ConversationID,
			Kind:       m.Kind,
			Content:    m.Content,
			CreatedAt:  time.Now().UnixMilli(),
		}
		if m.Kind == model.KindGift && m.Gift != nil {
			evt.GiftName = m.Gift.Name
		}
		if l.EchoClientRef {
			evt.ClientRef = m.ID
		}
		go func() {
			time.Sleep(delay)
			l.Push(evt)
		}()
	}
	return serverID, nil
}

// Subscribe registers a push consumer.
func (l *Loopback) Subscribe(_ Predicate, onEvent func(model.PushEvent)) (Handle, error) {
	h := &loopbackHandle{errCh: make(chan error, 1)}
	l.mu.Lock()
	l.subs[h] = onEvent
	l.subscribed++
	l.mu.Unlock()
	return h, nil
}

// Unsubscribe removes the consumer and closes its handle.
func (l *Loopback) Unsubscribe(h Handle) error {
	lh, ok := h.(*loopbackHandle)
	if !ok {
		return fmt.Errorf("foreign handle %T", h)
	}
	l.mu.Lock()
	delete(l.subs, lh)
	l.mu.Unlock()
	lh.fail(nil)
	return nil
}

// Push delivers an event to every subscriber.
func (l *Loopback) Push(evt model.PushEvent) {
	l.mu.Lock()
	sinks := make([]func(model.PushEvent), 0, len(l.subs))
	for _, fn := range l.subs {
		sinks = append(sinks, fn)
	}
	l.mu.Unlock()
	for _, fn := range sinks {
		fn(evt)
	}
}

// Break fails every live subscription, simulating a dropped connection.
func (l *Loopback) Break(err error) {
	l.mu.Lock()
	handles := make([]*loopbackHandle, 0, len(l.subs))
	for h := range l.subs {
		handles = append(handles, h)
	}
	l.subs = make(map[*loopbackHandle]func(model.PushEvent))
	l.mu.Unlock()
	for _, h := range handles {
		h.fail(err)
	}
}

// FailInserts makes subsequent Insert calls return err; nil restores
// normal operation.
func (l *Loopback) FailInserts(err error) {
	l.mu.Lock()
	l.insertErr = err
	l.mu.Unlock()
}

// SetSnapshot configures the conversation set returned by
// LoadConversations.
func (l *Loopback) SetSnapshot(convs []model.Conversation) {
	l.mu.Lock()
	l.snapshot = convs
	l.mu.Unlock()
}

// LoadConversations serves the configured snapshot (subs.Loader).
func (l *Loopback) LoadConversations(_ context.Context) ([]model.Conversation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loadCalls++
	out := make([]model.Conversation, len(l.snapshot))
	for i := range l.snapshot {
		out[i] = l.snapshot[i].Clone()
	}
	return out, nil
}

// LoadCalls reports how many times LoadConversations ran.
func (l *Loopback) LoadCalls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loadCalls
}

// SubscribeCount reports how many subscriptions were ever opened.
func (l *Loopback) SubscribeCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.subscribed
}
