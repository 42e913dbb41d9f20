package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/amoria-app/chatsync/internal/bus"
	"github.com/amoria-app/chatsync/internal/model"
	"github.com/amoria-app/chatsync/internal/store"
	"github.com/amoria-app/chatsync/internal/transport"
)

// DefaultStaleAfter bounds how long an optimistic message may sit in
// "sending" before the watchdog declares it failed.
const DefaultStaleAfter = 30 * time.Second

// Sender implements the optimistic send path: the message appears in the
// store immediately with a client-generated id, the transport insert runs
// asynchronously, and only the failure path touches the entry again.
// Promotion to the server identity happens later, via the reconciler.
type Sender struct {
	store      *store.Store
	transport  transport.Transport
	bus        *bus.Bus
	logger     *zap.Logger
	staleAfter time.Duration

	ctx    context.Context
	cancel context.CancelFunc
}

// NewSender creates a sender. A zero staleAfter selects DefaultStaleAfter.
func NewSender(s *store.Store, t transport.Transport, b *bus.Bus, logger *zap.Logger, staleAfter time.Duration) *Sender {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Sender{
		store:      s,
		transport:  t,
		bus:        b,
		logger:     logger,
		staleAfter: staleAfter,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start launches the staleness watchdog.
func (s *Sender) Start(ctx context.Context) {
	go s.watchdog(ctx)
}

// Stop cancels in-flight delivery tracking and the watchdog. Messages
// already handed to the transport are not recalled.
func (s *Sender) Stop() {
	s.cancel()
}

// Send appends an optimistic message and dispatches it. The returned id is
// the client-generated message id; it is replaced in place once the server
// echo is reconciled. The call never blocks on the transport.
func (s *Sender) Send(convID string, content string, kind model.Kind, payload *model.Message) (string, error) {
	if convID == "" {
		return "", fmt.Errorf("empty conversation id")
	}
	if kind == "" {
		kind = model.KindText
	}

	msg := model.Message{
		ID:             uuid.NewString(),
		ConversationID: convID,
		SenderIsOwn:    true,
		Kind:           kind,
		Content:        content,
		Status:         model.StatusSending,
		Origin:         model.OriginOptimistic,
		Timestamp:      time.Now().UnixMilli(),
	}
	if payload != nil {
		msg.ImageURL = payload.ImageURL
		msg.VoiceURL = payload.VoiceURL
		msg.VoiceDuration = payload.VoiceDuration
		msg.Gift = payload.Gift
		msg.ReplyTo = payload.ReplyTo
	}
	if kind == model.KindGift && msg.Gift == nil {
		return "", fmt.Errorf("gift message without gift payload")
	}

	if s.store.AppendMessage(convID, msg) == store.Duplicate {
		return "", fmt.Errorf("client id collision for %s", msg.ID)
	}
	go s.deliver(msg)
	return msg.ID, nil
}

// Retry re-dispatches a failed optimistic message. The entry moves to the
// tail with a fresh timestamp and status back to sending. Sends are never
// retried automatically; this is the UI affordance.
func (s *Sender) Retry(convID, clientMsgID string) error {
	m, ok := s.store.FindMessage(convID, clientMsgID)
	if !ok {
		return fmt.Errorf("message %s not found in %s", clientMsgID, convID)
	}
	if m.Origin != model.OriginOptimistic || m.Status != model.StatusFailed {
		return fmt.Errorf("message %s is not a failed optimistic message", clientMsgID)
	}

	s.store.RemoveMessage(convID, clientMsgID)
	m.Status = model.StatusSending
	m.Timestamp = time.Now().UnixMilli()
	if s.store.AppendMessage(convID, m) == store.Duplicate {
		return fmt.Errorf("client id collision for %s", clientMsgID)
	}
	go s.deliver(m)
	return nil
}

func (s *Sender) deliver(msg model.Message) {
	serverID, err := s.transport.Insert(s.ctx, msg)
	if err != nil {
		s.logger.Error("send failed",
			zap.Error(err),
			zap.String("conversation", msg.ConversationID),
			zap.String("client_msg_id", msg.ID))
		s.markFailed(msg.ConversationID, msg.ID, err.Error(), bus.KindSendFailed)
		return
	}

	// Advance to sent; the push-event echo promotes to delivered.
	sent := model.StatusSent
	s.store.PatchMessage(msg.ConversationID, byID(msg.ID), model.MessagePatch{Status: &sent})
	s.bus.Publish(bus.Event{
		Kind:      bus.KindSendAck,
		Timestamp: time.Now(),
		Payload: bus.SendAck{
			ConversationID: msg.ConversationID,
			ClientMsgID:    msg.ID,
			ServerMsgID:    serverID,
		},
	})
}

// watchdog flips optimistic messages stuck in "sending" beyond the
// staleness window to failed, so a dead transport call cannot leave a
// spinner dangling forever.
func (s *Sender) watchdog(ctx context.Context) {
	interval := s.staleAfter / 4
	if interval < 50*time.Millisecond {
		interval = 50 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-ctx.Done():
			return
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Sender) sweep() {
	cutoff := time.Now().UnixMilli() - s.staleAfter.Milliseconds()
	for _, conv := range s.store.Conversations() {
		for _, m := range conv.Messages {
			if m.Origin != model.OriginOptimistic || m.Status != model.StatusSending {
				continue
			}
			if m.Timestamp > cutoff {
				continue
			}
			s.logger.Warn("optimistic message went stale",
				zap.String("conversation", conv.ID),
				zap.String("client_msg_id", m.ID))
			s.markFailed(conv.ID, m.ID, "send timed out", bus.KindStale)
		}
	}
}

func (s *Sender) markFailed(convID, clientMsgID, reason, kind string) {
	failed := model.StatusFailed
	s.store.PatchMessage(convID, byID(clientMsgID), model.MessagePatch{Status: &failed})
	s.bus.Publish(bus.Event{
		Kind:      kind,
		Timestamp: time.Now(),
		Payload: bus.SendFailure{
			ConversationID: convID,
			ClientMsgID:    clientMsgID,
			Reason:         reason,
		},
	})
}

func byID(id string) func(*model.Message) bool {
	return func(m *model.Message) bool { return m.ID == id }
}
