package domain

import (
	"context"
	"io"
	"time"
)

// BlobWriter stores objects by path. Paths are relative to the configured
// bucket prefix.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	// PutMultipart uploads data in parts of partSize bytes.
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader fetches objects by path. Get wraps ErrNotFound for a missing
// object; Exists reports absence as false with a nil error.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// Archiver copies trade history and ledger snapshots to cold storage. It
// never deletes from the primary stores.
type Archiver interface {
	// ArchiveTrades exports trades created before the cutoff and returns
	// how many were written.
	ArchiveTrades(ctx context.Context, before time.Time) (int64, error)
	// BackupSnapshot uploads snap and returns the object path.
	BackupSnapshot(ctx context.Context, snap Snapshot) (string, error)
}
