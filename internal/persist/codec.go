package persist

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/amoria-app/chatsync/internal/model"
)

const snapshotVersion = 1

// snapshot is the persisted representation of the conversation list. All
// timestamps inside are canonical unix milliseconds, so the round trip is
// exact to millisecond precision.
type snapshot struct {
	Version       int                  `json:"version"`
	SavedAt       int64                `json:"saved_at"`
	Conversations []model.Conversation `json:"conversations"`
}

// Encode serializes the conversation list for storage.
func Encode(convs []model.Conversation) ([]byte, error) {
	data, err := json.Marshal(snapshot{
		Version:       snapshotVersion,
		SavedAt:       time.Now().UnixMilli(),
		Conversations: convs,
	})
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return data, nil
}

// Decode is the exact inverse of Encode.
func Decode(data []byte) ([]model.Conversation, error) {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Version != snapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}
	return snap.Conversations, nil
}
