package subs

import (
	"context"
	"time"

	"github.com/amoria-app/chatsync/internal/bus"
	"github.com/amoria-app/chatsync/internal/model"
	"github.com/amoria-app/chatsync/internal/reconcile"
	"github.com/amoria-app/chatsync/internal/session"
	"github.com/amoria-app/chatsync/internal/store"
	"github.com/amoria-app/chatsync/internal/transport"
	"go.uber.org/zap"
)

const (
	defaultBaseBackoff = time.Second
	defaultMaxBackoff  = 30 * time.Second
	eventBufferSize    = 256
)

// Loader fetches the full conversation set from the authoritative source.
// It is used for the forced resync after a connectivity gap; snapshot
// persistence is never consulted for this.
type Loader interface {
	LoadConversations(ctx context.Context) ([]model.Conversation, error)
}

// Manager owns the transport subscription lifecycle: connect, reconnect
// with exponential backoff, forced resync after a gap, and guaranteed
// handle release on teardown. Validated events are fed to the reconciler.
type Manager struct {
	transport  transport.Transport
	reconciler *reconcile.Reconciler
	loader     Loader
	store      *store.Store
	session    *session.Context
	machine    *Machine
	bus        *bus.Bus
	logger     *zap.Logger

	baseBackoff time.Duration
	maxBackoff  time.Duration

	events  chan model.PushEvent
	cancel  context.CancelFunc
	stopped chan struct{}
	done    chan struct{}
}

// NewManager creates a subscription manager.
func NewManager(t transport.Transport, r *reconcile.Reconciler, l Loader, s *store.Store, sess *session.Context, m *Machine, b *bus.Bus, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		transport:   t,
		reconciler:  r,
		loader:      l,
		store:       s,
		session:     sess,
		machine:     m,
		bus:         b,
		logger:      logger,
		baseBackoff: defaultBaseBackoff,
		maxBackoff:  defaultMaxBackoff,
		events:      make(chan model.PushEvent, eventBufferSize),
		stopped:     make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// SetBackoff overrides the reconnect backoff bounds.
func (m *Manager) SetBackoff(base, max time.Duration) {
	m.baseBackoff = base
	m.maxBackoff = max
}

// Start launches the subscription loop.
func (m *Manager) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	go m.run(ctx)
}

// Close tears the subscription down and waits for the loop to exit. The
// underlying transport handle is released before this returns.
func (m *Manager) Close() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	close(m.stopped)
	<-m.done
	_ = m.machine.Transition(Closed)
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.done)

	backoff := m.baseBackoff
	hadSubscription := false

	for ctx.Err() == nil {
		if err := m.machine.Transition(Subscribing); err != nil {
			return
		}

		handle, err := m.transport.Subscribe(
			transport.Predicate{UserID: m.session.UserID()},
			m.enqueue,
		)
		if err != nil {
			_ = m.machine.Transition(Failed)
			m.logger.Warn("subscribe failed",
				zap.Error(err), zap.Duration("retry_in", backoff))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			backoff = min(backoff*2, m.maxBackoff)
			continue
		}

		_ = m.machine.Transition(Subscribed)
		backoff = m.baseBackoff

		// Events emitted while disconnected are not replayed, so a
		// reconnect must reload everything from the source of truth
		// before any buffered event is processed.
		if hadSubscription {
			m.resync(ctx)
		}
		hadSubscription = true

		err = m.drain(ctx, handle)
		// Release the handle on every exit path, including teardown.
		_ = m.transport.Unsubscribe(handle)
		if ctx.Err() != nil {
			return
		}
		_ = m.machine.Transition(Failed)
		m.logger.Warn("subscription lost", zap.Error(err))
	}
}

func (m *Manager) drain(ctx context.Context, handle transport.Handle) error {
	for {
		select {
		case evt := <-m.events:
			m.dispatch(evt)
		case err, ok := <-handle.Err():
			if !ok {
				return nil
			}
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// enqueue is invoked from the transport's delivery goroutine. Events are
// buffered so a reconnect gap does not lose what the transport already
// handed over.
func (m *Manager) enqueue(evt model.PushEvent) {
	select {
	case m.events <- evt:
	case <-m.stopped:
	}
}

// dispatch applies the local trust filter before reconciliation: only
// events addressed to or authored by this user pass, regardless of what
// the server-side predicate claims to have filtered.
func (m *Manager) dispatch(evt model.PushEvent) {
	uid := m.session.UserID()
	if evt.SenderID != uid && evt.ReceiverID != uid {
		m.logger.Debug("dropping foreign event", zap.String("event_id", evt.ID))
		return
	}
	m.reconciler.Ingest(evt)
}

func (m *Manager) resync(ctx context.Context) {
	convs, err := m.loader.LoadConversations(ctx)
	if err != nil {
		m.logger.Error("resync failed", zap.Error(err))
		return
	}
	m.store.Replace(convs)
	m.logger.Info("resynced from source", zap.Int("conversations", len(convs)))
	m.bus.Publish(bus.Event{
		Kind:      bus.KindResynced,
		Timestamp: time.Now(),
		Payload:   bus.ResyncInfo{Conversations: len(convs)},
	})
}
