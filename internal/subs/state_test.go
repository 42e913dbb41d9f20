package subs

import (
	"testing"
	"time"

	"github.com/amoria-app/chatsync/internal/bus"
)

func TestMachineHappyPath(t *testing.T) {
	m := NewMachine(nil)

	for _, to := range []State{Subscribing, Subscribed, Failed, Subscribing, Subscribed, Closed} {
		if err := m.Transition(to); err != nil {
			t.Fatalf("transition to %s: %v", to, err)
		}
	}
	if m.Current() != Closed {
		t.Errorf("state = %s, want CLOSED", m.Current())
	}
}

func TestMachineRejectsInvalidTransitions(t *testing.T) {
	tests := []struct {
		path []State
		to   State
	}{
		{nil, Subscribed},                      // must subscribe first
		{[]State{Subscribing, Subscribed}, Subscribed}, // no self loop
		{[]State{Subscribing, Failed}, Subscribed},     // error must re-subscribe
		{[]State{Closed}, Subscribing},                 // closed is terminal
	}
	for _, tt := range tests {
		m := NewMachine(nil)
		for _, s := range tt.path {
			if err := m.Transition(s); err != nil {
				t.Fatalf("setup transition to %s: %v", s, err)
			}
		}
		if err := m.Transition(tt.to); err == nil {
			t.Errorf("transition %v -> %s unexpectedly allowed", tt.path, tt.to)
		}
	}
}

func TestMachinePublishesStatusChanges(t *testing.T) {
	b := bus.New()
	m := NewMachine(b)
	ch, unsub := b.Subscribe(bus.KindStatusChanged, 10)
	defer unsub()

	if err := m.Transition(Subscribing); err != nil {
		t.Fatal(err)
	}

	select {
	case evt := <-ch:
		sc, ok := evt.Payload.(StatusChange)
		if !ok || sc.From != Disconnected || sc.To != Subscribing {
			t.Errorf("payload = %+v, want Disconnected->Subscribing", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for status change event")
	}
}
