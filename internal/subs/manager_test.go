package subs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/amoria-app/chatsync/internal/bus"
	"github.com/amoria-app/chatsync/internal/model"
	"github.com/amoria-app/chatsync/internal/reconcile"
	"github.com/amoria-app/chatsync/internal/session"
	"github.com/amoria-app/chatsync/internal/store"
	"github.com/amoria-app/chatsync/internal/transport"
	"github.com/amoria-app/chatsync/internal/unread"
)

type managerFixture struct {
	loopback *transport.Loopback
	store    *store.Store
	bus      *bus.Bus
	machine  *Machine
	manager  *Manager
}

func newManagerFixture(t *testing.T) *managerFixture {
	t.Helper()
	b := bus.New()
	s := store.New(b)
	sess := session.NewContext("alice")
	tracker := unread.NewTracker(s, sess)
	rec := reconcile.NewReconciler(s, tracker, sess, b, nil, 0)
	lb := transport.NewLoopback("alice")
	machine := NewMachine(b)
	mgr := NewManager(lb, rec, lb, s, sess, machine, b, nil)
	mgr.SetBackoff(10*time.Millisecond, 50*time.Millisecond)
	return &managerFixture{loopback: lb, store: s, bus: b, machine: machine, manager: mgr}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func TestManagerDeliversEventsToStore(t *testing.T) {
	f := newManagerFixture(t)
	f.manager.Start(context.Background())
	defer f.manager.Close()

	waitFor(t, "subscription", func() bool { return f.machine.Current() == Subscribed })

	f.loopback.Push(model.PushEvent{
		ID: "srv-1", SenderID: "bob", ReceiverID: "alice",
		Kind: model.KindText, Content: "hi", CreatedAt: 1000,
	})

	waitFor(t, "message in store", func() bool {
		_, ok := f.store.FindMessage("bob", "srv-1")
		return ok
	})
}

func TestManagerDropsForeignEvents(t *testing.T) {
	f := newManagerFixture(t)
	f.manager.Start(context.Background())
	defer f.manager.Close()

	waitFor(t, "subscription", func() bool { return f.machine.Current() == Subscribed })

	// Neither sender nor receiver is this user.
	f.loopback.Push(model.PushEvent{
		ID: "srv-1", SenderID: "carol", ReceiverID: "dave",
		Kind: model.KindText, Content: "not ours", CreatedAt: 1000,
	})
	f.loopback.Push(model.PushEvent{
		ID: "srv-2", SenderID: "bob", ReceiverID: "alice",
		Kind: model.KindText, Content: "ours", CreatedAt: 2000,
	})

	waitFor(t, "legit message", func() bool {
		_, ok := f.store.FindMessage("bob", "srv-2")
		return ok
	})
	if _, ok := f.store.Get("carol"); ok {
		t.Error("foreign event created a conversation")
	}
}

func TestManagerResyncsOnReconnectOnly(t *testing.T) {
	f := newManagerFixture(t)
	f.loopback.SetSnapshot([]model.Conversation{
		{ID: "bob", Peer: model.PeerSnapshot{ID: "bob", Name: "Bob"}},
	})

	f.manager.Start(context.Background())
	defer f.manager.Close()

	waitFor(t, "first subscription", func() bool { return f.machine.Current() == Subscribed })
	if got := f.loopback.LoadCalls(); got != 0 {
		t.Fatalf("initial subscribe triggered %d resyncs, want 0", got)
	}

	f.loopback.Break(errors.New("connection reset"))

	waitFor(t, "reconnect", func() bool { return f.loopback.SubscribeCount() >= 2 })
	waitFor(t, "resync", func() bool { return f.loopback.LoadCalls() == 1 })

	waitFor(t, "snapshot in store", func() bool {
		c, ok := f.store.Get("bob")
		return ok && c.Peer.Name == "Bob"
	})
}

func TestManagerPublishesResyncEvent(t *testing.T) {
	f := newManagerFixture(t)
	ch, unsub := f.bus.Subscribe(bus.KindResynced, 10)
	defer unsub()

	f.manager.Start(context.Background())
	defer f.manager.Close()

	waitFor(t, "subscription", func() bool { return f.machine.Current() == Subscribed })
	f.loopback.Break(errors.New("gone"))

	select {
	case evt := <-ch:
		if _, ok := evt.Payload.(bus.ResyncInfo); !ok {
			t.Errorf("payload = %+v, want ResyncInfo", evt.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for resync event")
	}
}

func TestManagerCloseReleasesHandle(t *testing.T) {
	f := newManagerFixture(t)
	f.manager.Start(context.Background())
	waitFor(t, "subscription", func() bool { return f.machine.Current() == Subscribed })

	f.manager.Close()

	if f.machine.Current() != Closed {
		t.Errorf("state = %s, want CLOSED", f.machine.Current())
	}
	// The loopback must not hold a live consumer anymore.
	f.loopback.Push(model.PushEvent{
		ID: "srv-9", SenderID: "bob", ReceiverID: "alice",
		Kind: model.KindText, Content: "late", CreatedAt: 1000,
	})
	time.Sleep(50 * time.Millisecond)
	if _, ok := f.store.FindMessage("bob", "srv-9"); ok {
		t.Error("event delivered after close")
	}
}

func TestManagerCloseWithoutStart(t *testing.T) {
	f := newManagerFixture(t)
	f.manager.Close() // must not block or panic
}
