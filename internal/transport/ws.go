package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/amoria-app/chatsync/internal/model"
)

const (
	frameSubscribe = "subscribe"
	frameInsert    = "insert"
	frameAck       = "ack"
	frameMessage   = "message"
	frameResync    = "resync"
	frameSnapshot  = "snapshot"
)

// frame is the JSON envelope exchanged with the backend push channel.
// Request/response pairs (insert/ack, resync/snapshot) correlate by Ref.
type frame struct {
	Type          string               `json:"type"`
	Ref           string               `json:"ref,omitempty"`
	UserID        string               `json:"user_id,omitempty"`
	Token         string               `json:"token,omitempty"`
	Message       *model.Message       `json:"message,omitempty"`
	Event         *model.PushEvent     `json:"event,omitempty"`
	ServerID      string               `json:"server_id,omitempty"`
	Error         string               `json:"error,omitempty"`
	Conversations []model.Conversation `json:"conversations,omitempty"`
}

type reply struct {
	serverID      string
	conversations []model.Conversation
	err           error
}

// WS is a Transport over a single WebSocket connection to the hosted
// backend. One subscription at a time; Insert and LoadConversations
// require an open subscription.
type WS struct {
	url     string
	token   string
	timeout time.Duration

	mu      sync.Mutex
	conn    *websocket.Conn
	handle  *wsHandle
	pending map[string]chan reply
	onEvent func(model.PushEvent)
	closing bool
}

type wsHandle struct {
	errCh chan error
	once  sync.Once
}

func (h *wsHandle) Err() <-chan error { return h.errCh }

func (h *wsHandle) finish(err error) {
	h.once.Do(func() {
		if err != nil {
			h.errCh <- err
		}
		close(h.errCh)
	})
}

// NewWS creates a WebSocket transport for the given endpoint.
func NewWS(url, token string) *WS {
	return &WS{
		url:     url,
		token:   token,
		timeout: 15 * time.Second,
		pending: make(map[string]chan reply),
	}
}

// Subscribe dials the endpoint, announces the predicate and starts the
// read loop feeding onEvent.
func (w *WS) Subscribe(p Predicate, onEvent func(model.PushEvent)) (Handle, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		return nil, fmt.Errorf("already subscribed")
	}

	conn, _, err := websocket.DefaultDialer.Dial(w.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", w.url, err)
	}
	if err := conn.WriteJSON(frame{Type: frameSubscribe, UserID: p.UserID, Token: w.token}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("announce subscription: %w", err)
	}

	h := &wsHandle{errCh: make(chan error, 1)}
	w.conn = conn
	w.handle = h
	w.onEvent = onEvent
	w.closing = false
	go w.readLoop(conn, h)
	return h, nil
}

// Unsubscribe closes the connection and releases the handle.
func (w *WS) Unsubscribe(h Handle) error {
	wh, ok := h.(*wsHandle)
	if !ok {
		return fmt.Errorf("foreign handle %T", h)
	}
	w.mu.Lock()
	if w.handle == wh && w.conn != nil {
		w.closing = true
		_ = w.conn.Close()
		w.conn = nil
		w.handle = nil
	}
	w.mu.Unlock()
	wh.finish(nil)
	return nil
}

// Insert submits the message and waits for the backend ack carrying the
// server-issued id.
func (w *WS) Insert(ctx context.Context, m model.Message) (string, error) {
	rep, err := w.request(ctx, frame{Type: frameInsert, Message: &m})
	if err != nil {
		return "", err
	}
	return rep.serverID, nil
}

// LoadConversations requests a full authoritative snapshot (subs.Loader).
func (w *WS) LoadConversations(ctx context.Context) ([]model.Conversation, error) {
	rep, err := w.request(ctx, frame{Type: frameResync})
	if err != nil {
		return nil, err
	}
	return rep.conversations, nil
}

func (w *WS) request(ctx context.Context, f frame) (reply, error) {
	ref := uuid.NewString()
	f.Ref = ref
	ch := make(chan reply, 1)

	w.mu.Lock()
	conn := w.conn
	if conn == nil {
		w.mu.Unlock()
		return reply{}, fmt.Errorf("not connected")
	}
	w.pending[ref] = ch
	err := conn.WriteJSON(f)
	w.mu.Unlock()
	if err != nil {
		w.drop(ref)
		return reply{}, fmt.Errorf("write %s frame: %w", f.Type, err)
	}

	timer := time.NewTimer(w.timeout)
	defer timer.Stop()
	select {
	case rep := <-ch:
		return rep, rep.err
	case <-ctx.Done():
		w.drop(ref)
		return reply{}, ctx.Err()
	case <-timer.C:
		w.drop(ref)
		return reply{}, fmt.Errorf("%s timed out after %s", f.Type, w.timeout)
	}
}

func (w *WS) readLoop(conn *websocket.Conn, h *wsHandle) {
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			w.mu.Lock()
			intentional := w.closing
			if w.conn == conn {
				w.conn = nil
				w.handle = nil
			}
			// Fail any requests still waiting on this connection.
			for ref, ch := range w.pending {
				ch <- reply{err: fmt.Errorf("connection lost: %w", err)}
				delete(w.pending, ref)
			}
			w.mu.Unlock()
			if intentional {
				h.finish(nil)
			} else {
				h.finish(err)
			}
			return
		}

		switch f.Type {
		case frameAck, frameSnapshot:
			rep := reply{serverID: f.ServerID, conversations: f.Conversations}
			if f.Error != "" {
				rep.err = fmt.Errorf("backend: %s", f.Error)
			}
			w.mu.Lock()
			if ch, ok := w.pending[f.Ref]; ok {
				ch <- rep
				delete(w.pending, f.Ref)
			}
			w.mu.Unlock()
		case frameMessage:
			if f.Event != nil {
				w.mu.Lock()
				sink := w.onEvent
				w.mu.Unlock()
				if sink != nil {
					sink(*f.Event)
				}
			}
		}
	}
}

func (w *WS) drop(ref string) {
	w.mu.Lock()
	delete(w.pending, ref)
	w.mu.Unlock()
}
