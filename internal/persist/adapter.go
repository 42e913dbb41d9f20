package persist

import "errors"

// ErrNotFound is returned by Load when no snapshot exists for the key.
var ErrNotFound = errors.New("snapshot not found")

// Adapter is the key/value boundary the engine persists through. The
// in-memory store stays authoritative; adapter failures are retried and
// never block live chat operation.
type Adapter interface {
	Save(key string, data []byte) error
	Load(key string) ([]byte, error)
}
