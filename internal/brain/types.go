package brain

import (
	"context"
	"errors"
	"time"
)

var ErrClosed = errors.New("brain closed")

// Config configures the persistence layer.
//
// Driver values:
//   - "file" (default): one JSON snapshot file per key, atomic rename writes
//   - "sqlite": single SQLite database file
//   - "memory": process-local, for tests
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is a small durable key/value brain. Values are opaque snapshots;
// callers own their encoding. Save must be durable before it returns:
// a mutation whose snapshot was not written must not report success.
type Store interface {
	// Load returns the stored value for key, or ok=false when the key has
	// never been saved.
	Load(ctx context.Context, key string) (value []byte, ok bool, err error)
	Save(ctx context.Context, key string, value []byte) error
	Close() error
}
