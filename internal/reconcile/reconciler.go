package reconcile

import (
	"strings"
	"time"

	"github.com/amoria-app/chatsync/internal/bus"
	"github.com/amoria-app/chatsync/internal/model"
	"github.com/amoria-app/chatsync/internal/session"
	"github.com/amoria-app/chatsync/internal/store"
	"github.com/amoria-app/chatsync/internal/unread"
	"go.uber.org/zap"
)

// DefaultMatchWindow bounds how far an event timestamp may drift from a
// pending optimistic message and still confirm it.
const DefaultMatchWindow = 10 * time.Second

// Reconciler matches inbound push events against pending optimistic
// messages and decides promote-vs-append. A promoted message keeps its
// position and any locally-held payload the server echo does not carry.
type Reconciler struct {
	store       *store.Store
	tracker     *unread.Tracker
	session     *session.Context
	bus         *bus.Bus
	logger      *zap.Logger
	matchWindow time.Duration
}

// NewReconciler creates a reconciler. A zero matchWindow selects
// DefaultMatchWindow.
func NewReconciler(s *store.Store, t *unread.Tracker, sess *session.Context, b *bus.Bus, logger *zap.Logger, matchWindow time.Duration) *Reconciler {
	if matchWindow <= 0 {
		matchWindow = DefaultMatchWindow
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		store:       s,
		tracker:     t,
		session:     sess,
		bus:         b,
		logger:      logger,
		matchWindow: matchWindow,
	}
}

// Ingest processes one push event. Own events try promotion first; if zero
// candidates qualify the event is appended as new rather than dropped — a
// visible duplicate is preferred over silent loss.
func (r *Reconciler) Ingest(evt model.PushEvent) {
	isOwn := evt.SenderID == r.session.UserID()
	convID := evt.ConversationID(isOwn)
	if convID == "" {
		r.logger.Warn("push event without conversation", zap.String("event_id", evt.ID))
		return
	}

	if isOwn && r.promote(convID, evt) {
		return
	}

	msg := evt.Message(isOwn)
	if r.store.AppendMessage(convID, msg) == store.Duplicate {
		return
	}
	if isOwn {
		r.logger.Info("own event appended without optimistic match",
			zap.String("conversation", convID),
			zap.String("event_id", evt.ID))
		return
	}

	r.tracker.NoteInbound(convID, msg)
	r.bus.Publish(bus.Event{
		Kind:      bus.KindInbound,
		Timestamp: time.Now(),
		Payload:   bus.InboundMessage{ConversationID: convID, Message: msg},
	})
}

// promote attempts to confirm a pending optimistic message with evt.
// Candidates are scanned in creation order so the oldest unmatched entry
// wins: two identical consecutive sends reconcile in the order they were
// issued. Only ID, status and origin are patched; richer local payload
// (full gift metadata, reply reference) survives the poorer server echo.
func (r *Reconciler) promote(convID string, evt model.PushEvent) bool {
	status := model.StatusDelivered
	origin := model.OriginConfirmed
	patch := model.MessagePatch{
		ID:     &evt.ID,
		Status: &status,
		Origin: &origin,
	}

	// Exact match when the transport round-trips our client reference.
	if evt.ClientRef != "" {
		if r.store.PatchMessage(convID, func(m *model.Message) bool {
			return m.Origin == model.OriginOptimistic && m.ID == evt.ClientRef
		}, patch) {
			return true
		}
	}

	window := r.matchWindow.Milliseconds()
	return r.store.PatchMessage(convID, func(m *model.Message) bool {
		if m.Origin != model.OriginOptimistic {
			return false
		}
		// Sent means the insert was acked but the echo had not arrived yet;
		// both it and sending count as "not yet promoted".
		if m.Status != model.StatusSending && m.Status != model.StatusSent {
			return false
		}
		if m.Kind != evt.Kind {
			return false
		}
		if delta := evt.CreatedAt - m.Timestamp; delta > window || delta < -window {
			return false
		}
		if m.Kind == model.KindGift {
			return giftNameMatches(m.Gift, evt.GiftName)
		}
		return m.Content == evt.Content
	}, patch)
}

// giftNameMatches tolerates textual prefixes the transport wraps around
// gift names (e.g. "Gift: Rose" echoing a local "Rose").
func giftNameMatches(g *model.Gift, echoed string) bool {
	if g == nil || g.Name == "" || echoed == "" {
		return false
	}
	if g.Name == echoed {
		return true
	}
	return strings.HasSuffix(echoed, g.Name) || strings.HasSuffix(g.Name, echoed)
}
