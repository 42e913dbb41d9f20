package persist

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/amoria-app/chatsync/internal/bus"
	"github.com/amoria-app/chatsync/internal/store"
)

// DefaultDebounce is the quiet period before a store change is flushed.
const DefaultDebounce = 500 * time.Millisecond

// Saver snapshots the store to the adapter, debounced on store.changed
// events. A failed write keeps the dirty flag set and retries on the next
// timer; the in-memory store remains authoritative throughout.
type Saver struct {
	adapter  Adapter
	store    *store.Store
	bus      *bus.Bus
	logger   *zap.Logger
	key      string
	debounce time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSaver creates a saver writing under the given session key. A zero
// debounce selects DefaultDebounce.
func NewSaver(a Adapter, s *store.Store, b *bus.Bus, logger *zap.Logger, key string, debounce time.Duration) *Saver {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Saver{
		adapter:  a,
		store:    s,
		bus:      b,
		logger:   logger,
		key:      key,
		debounce: debounce,
		done:     make(chan struct{}),
	}
}

// Start subscribes to store change events.
func (s *Saver) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	ch, unsub := s.bus.Subscribe("store.", 256)

	go func() {
		defer close(s.done)
		defer unsub()

		timer := time.NewTimer(s.debounce)
		if !timer.Stop() {
			<-timer.C
		}
		dirty := false

		for {
			select {
			case <-ch:
				if dirty {
					// Timer already armed; collapse the burst.
					continue
				}
				dirty = true
				timer.Reset(s.debounce)
			case <-timer.C:
				if s.snapshot() {
					dirty = false
				} else {
					// Retry after another quiet period.
					timer.Reset(s.debounce)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the saver loop.
func (s *Saver) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

// Flush writes a snapshot immediately, used at shutdown.
func (s *Saver) Flush() {
	s.snapshot()
}

func (s *Saver) snapshot() bool {
	data, err := Encode(s.store.Conversations())
	if err != nil {
		s.logger.Error("snapshot encode failed", zap.Error(err))
		return false
	}
	if err := s.adapter.Save(s.key, data); err != nil {
		s.logger.Error("snapshot save failed", zap.Error(err))
		return false
	}
	s.bus.Publish(bus.Event{
		Kind:      bus.KindSnapshotSaved,
		Timestamp: time.Now(),
		Payload:   bus.SnapshotInfo{Key: s.key, Bytes: len(data)},
	})
	return true
}
