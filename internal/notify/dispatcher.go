package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/amoria-app/chatsync/internal/bus"
	"github.com/amoria-app/chatsync/internal/session"
)

// Settings are the user's notification preferences.
type Settings struct {
	Sound  bool
	Visual bool
}

// Decision is what the policy allows for one inbound message. Device-level
// notification mechanics are owned by the embedding UI.
type Decision struct {
	Sound  bool
	Visual bool
}

// Decide applies the notification policy: sound follows the preference
// alone; visual notifications are suppressed while the window has focus.
func Decide(s Settings, windowFocused bool) Decision {
	return Decision{
		Sound:  s.Sound,
		Visual: s.Visual && !windowFocused,
	}
}

// Sink receives the inbound message alongside the policy decision.
type Sink func(msg bus.InboundMessage, d Decision)

// Dispatcher consumes inbound-message domain events and forwards them to
// the sink with a policy decision attached. Only non-own messages ever
// reach it; the reconciler guarantees that.
type Dispatcher struct {
	bus      *bus.Bus
	session  *session.Context
	settings Settings
	sink     Sink
	logger   *zap.Logger
	cancel   context.CancelFunc
}

// NewDispatcher creates a dispatcher. A nil sink disables dispatch but
// still drains events.
func NewDispatcher(b *bus.Bus, sess *session.Context, settings Settings, sink Sink, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		bus:      b,
		session:  sess,
		settings: settings,
		sink:     sink,
		logger:   logger,
	}
}

// Start subscribes to inbound message events.
func (d *Dispatcher) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	ch, unsub := d.bus.Subscribe(bus.KindInbound, 64)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				inbound, ok := evt.Payload.(bus.InboundMessage)
				if !ok {
					continue
				}
				if d.sink == nil {
					continue
				}
				d.sink(inbound, Decide(d.settings, d.session.Focused()))
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the dispatcher.
func (d *Dispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
}
