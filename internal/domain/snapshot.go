package domain

import (
	"context"
	"time"
)

// SnapshotVersion is the only snapshot format this build reads and writes.
const SnapshotVersion = 1

// Snapshot is a consistent point-in-time view of the whole ledger.
type Snapshot struct {
	Version   int                `json:"version"`
	UpdatedAt time.Time          `json:"updatedAt"`
	Markets   []Market           `json:"markets"`
	Trades    map[string][]Trade `json:"trades"`
}

// SnapshotStore durably saves and loads ledger snapshots. Load returns a nil
// snapshot and nil error when nothing has been stored yet.
type SnapshotStore interface {
	Load(ctx context.Context) (*Snapshot, error)
	Save(ctx context.Context, snap Snapshot) error
	// Enqueue queues a write without waiting; the channel yields its result.
	Enqueue(ctx context.Context, snap Snapshot) (<-chan error, error)
	QueueDepth() int
	Close() error
}
