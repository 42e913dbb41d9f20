package persist

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/amoria-app/chatsync/internal/bus"
	"github.com/amoria-app/chatsync/internal/model"
	"github.com/amoria-app/chatsync/internal/store"
)

func openTestDB(t *testing.T) *SQLite {
	t.Helper()
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "snap.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSQLiteSaveLoadRoundTrip(t *testing.T) {
	db := openTestDB(t)

	if err := db.Save("k", []byte("one")); err != nil {
		t.Fatal(err)
	}
	// Upsert overwrites.
	if err := db.Save("k", []byte("two")); err != nil {
		t.Fatal(err)
	}

	data, err := db.Load("k")
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "two" {
		t.Errorf("data = %q, want two", data)
	}
}

func TestSQLiteLoadMissingKey(t *testing.T) {
	db := openTestDB(t)

	if _, err := db.Load("absent"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

// The codec must round-trip conversations exactly, timestamps included to
// the millisecond.
func TestCodecRoundTrip(t *testing.T) {
	in := []model.Conversation{
		{
			ID:   "bob",
			Peer: model.PeerSnapshot{ID: "bob", Name: "Bob", Age: 29},
			Messages: []*model.Message{
				{
					ID: "m1", Kind: model.KindGift,
					Gift:      &model.Gift{Name: "Rose", Cost: 50, Quantity: 2},
					Status:    model.StatusRead,
					Origin:    model.OriginConfirmed,
					Timestamp: 1724900000123,
				},
			},
			LastMessageAt:      1724900000123,
			LastMessagePreview: "[gift] Rose",
			UnreadCount:        3,
		},
	}

	data, err := Encode(in)
	if err != nil {
		t.Fatal(err)
	}
	out, err := Decode(data)
	if err != nil {
		t.Fatal(err)
	}

	if len(out) != 1 {
		t.Fatalf("got %d conversations, want 1", len(out))
	}
	got := out[0]
	if got.LastMessageAt != 1724900000123 {
		t.Errorf("last message at = %d, want 1724900000123 (exact)", got.LastMessageAt)
	}
	if got.UnreadCount != 3 {
		t.Errorf("unread = %d, want 3", got.UnreadCount)
	}
	m := got.Messages[0]
	if m.Timestamp != 1724900000123 {
		t.Errorf("message timestamp = %d, want exact round trip", m.Timestamp)
	}
	if m.Gift == nil || m.Gift.Quantity != 2 {
		t.Errorf("gift payload = %+v", m.Gift)
	}
}

func TestDecodeRejectsUnknownVersion(t *testing.T) {
	if _, err := Decode([]byte(`{"version":99,"conversations":[]}`)); err == nil {
		t.Error("unknown snapshot version accepted")
	}
}

// flakyAdapter fails the first n saves, then behaves.
type flakyAdapter struct {
	mu    sync.Mutex
	fails int
	saves int
	last  []byte
}

func (a *flakyAdapter) Save(key string, data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.saves++
	if a.fails > 0 {
		a.fails--
		return errors.New("disk full")
	}
	a.last = append([]byte(nil), data...)
	return nil
}

func (a *flakyAdapter) Load(string) ([]byte, error) { return nil, ErrNotFound }

func (a *flakyAdapter) saveCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.saves
}

func (a *flakyAdapter) lastData() []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}

func TestSaverDebouncesBursts(t *testing.T) {
	b := bus.New()
	s := store.New(b)
	adapter := &flakyAdapter{}
	saver := NewSaver(adapter, s, b, nil, "k", 50*time.Millisecond)

	saver.Start(context.Background())
	defer saver.Stop()

	for i := 0; i < 10; i++ {
		s.AppendMessage("bob", model.Message{
			ID: string(rune('a' + i)), Kind: model.KindText,
			Content: "x", Timestamp: int64(i),
		})
	}

	time.Sleep(200 * time.Millisecond)
	if got := adapter.saveCount(); got != 1 {
		t.Errorf("save count = %d, want 1 (burst collapsed)", got)
	}

	convs, err := Decode(adapter.lastData())
	if err != nil {
		t.Fatal(err)
	}
	if len(convs) != 1 || len(convs[0].Messages) != 10 {
		t.Errorf("snapshot missing data: %+v", convs)
	}
}

func TestSaverRetriesAfterFailure(t *testing.T) {
	b := bus.New()
	s := store.New(b)
	adapter := &flakyAdapter{fails: 1}
	saver := NewSaver(adapter, s, b, nil, "k", 20*time.Millisecond)

	ch, unsub := b.Subscribe(bus.KindSnapshotSaved, 10)
	defer unsub()

	saver.Start(context.Background())
	defer saver.Stop()

	s.AppendMessage("bob", model.Message{ID: "m1", Kind: model.KindText, Content: "x", Timestamp: 1})

	select {
	case evt := <-ch:
		info := evt.Payload.(bus.SnapshotInfo)
		if info.Key != "k" || info.Bytes == 0 {
			t.Errorf("snapshot info = %+v", info)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for retried snapshot")
	}
	if got := adapter.saveCount(); got < 2 {
		t.Errorf("save count = %d, want >= 2 (failure then retry)", got)
	}
}

func TestFlushWritesImmediately(t *testing.T) {
	b := bus.New()
	s := store.New(b)
	adapter := &flakyAdapter{}
	saver := NewSaver(adapter, s, b, nil, "k", time.Hour)

	s.AppendMessage("bob", model.Message{ID: "m1", Kind: model.KindText, Content: "bye", Timestamp: 1})
	saver.Flush()

	if adapter.saveCount() != 1 {
		t.Errorf("save count = %d, want 1", adapter.saveCount())
	}
}
