// Package snapshot implements the durable snapshot store for the market
// ledger. All writes funnel through a single writer goroutine so at most one
// write is in flight and writes land in call order.
package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/metamarket/internal/domain"
)

// DefaultQueueSize bounds the number of pending writes.
const DefaultQueueSize = 64

// LocationMemory selects the in-memory backend.
const LocationMemory = "memory"

const blobScheme = "s3://"

// backend stores one encoded snapshot. read returns nil, nil when nothing
// has been written yet.
type backend interface {
	read(ctx context.Context) ([]byte, error)
	write(ctx context.Context, data []byte) error
	describe() string
}

// BlobBackend is the object storage used by s3:// locations.
type BlobBackend interface {
	domain.BlobWriter
	domain.BlobReader
}

// Options configures Open.
type Options struct {
	QueueSize int
	// Blob is required for s3:// locations.
	Blob BlobBackend
	// OnQueueDepth, when set, is called whenever the pending write count
	// changes.
	OnQueueDepth func(depth int)
	Now          func() time.Time
	Logger       *slog.Logger
}

type saveReq struct {
	ctx  context.Context
	data []byte
	done chan error
}

// Store is a serialized snapshot writer and loader.
type Store struct {
	backend backend
	queue   chan saveReq
	depth   atomic.Int64
	onDepth func(int)
	now     func() time.Time
	logger  *slog.Logger

	closeMu sync.RWMutex
	closed  bool
	stopped chan struct{}
}

// Compile-time interface check.
var _ domain.SnapshotStore = (*Store)(nil)

// Open selects a backend from location: "memory", "s3://<key>", or a file
// path resolved against the working directory.
func Open(ctx context.Context, location string, opts Options) (*Store, error) {
	loc := strings.TrimSpace(location)
	if loc == "" {
		return nil, fmt.Errorf("snapshot: open: empty location")
	}

	var b backend
	switch {
	case strings.EqualFold(loc, LocationMemory):
		b = &memoryBackend{}
	case strings.HasPrefix(loc, blobScheme):
		key := strings.TrimPrefix(loc, blobScheme)
		if key == "" {
			return nil, fmt.Errorf("snapshot: open: s3 location needs an object key")
		}
		if opts.Blob == nil {
			return nil, fmt.Errorf("snapshot: open %s: blob storage is not configured", loc)
		}
		b = &blobBackend{blob: opts.Blob, key: key}
	default:
		abs, err := filepath.Abs(loc)
		if err != nil {
			return nil, fmt.Errorf("snapshot: open: resolve %q: %w", loc, err)
		}
		b = &fileBackend{path: abs}
	}
	return newStore(b, opts), nil
}

func newStore(b backend, opts Options) *Store {
	size := opts.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	s := &Store{
		backend: b,
		queue:   make(chan saveReq, size),
		onDepth: opts.OnQueueDepth,
		now:     now,
		logger:  logger.With(slog.String("component", "snapshot_store"), slog.String("backend", b.describe())),
		stopped: make(chan struct{}),
	}
	go s.writer()
	return s
}

// Backend describes the selected backend for logs.
func (s *Store) Backend() string { return s.backend.describe() }

// Load reads the latest snapshot. It returns nil, nil when no snapshot
// exists and wraps domain.ErrCorruptSnapshot when the stored data is
// unreadable.
func (s *Store) Load(ctx context.Context) (*domain.Snapshot, error) {
	if fb, ok := s.backend.(*fileBackend); ok {
		fb.removeStaleTemps(s.logger)
	}
	data, err := s.backend.read(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot: load: %w: %w", domain.ErrPersistenceUnavailable, err)
	}
	snap, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("snapshot: load: %w", err)
	}
	if snap == nil && len(bytes.TrimSpace(data)) > 0 {
		s.logger.WarnContext(ctx, "stored snapshot has no numeric version, treating as absent")
	}
	return snap, nil
}

// Save stamps the snapshot with the current version and time, then blocks
// until the writer has durably stored it.
func (s *Store) Save(ctx context.Context, snap domain.Snapshot) error {
	done, err := s.Enqueue(ctx, snap)
	if err != nil {
		return err
	}
	return <-done
}

// Enqueue queues the snapshot for writing and returns a channel that yields
// the write result. Callers that capture and enqueue under one lock get
// queue order equal to capture order. A full queue blocks until space frees
// up or ctx is done.
func (s *Store) Enqueue(ctx context.Context, snap domain.Snapshot) (<-chan error, error) {
	snap.Version = domain.SnapshotVersion
	snap.UpdatedAt = s.now().UTC()
	data, err := Encode(snap)
	if err != nil {
		return nil, fmt.Errorf("snapshot: save: encode: %w", err)
	}

	req := saveReq{ctx: context.WithoutCancel(ctx), data: data, done: make(chan error, 1)}

	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("snapshot: save: store closed: %w", domain.ErrPersistenceUnavailable)
	}
	s.setDepth(s.depth.Add(1))
	select {
	case s.queue <- req:
		return req.done, nil
	case <-ctx.Done():
		s.setDepth(s.depth.Add(-1))
		return nil, fmt.Errorf("snapshot: save: enqueue: %w", ctx.Err())
	}
}

// QueueDepth returns the number of saves accepted but not yet written.
func (s *Store) QueueDepth() int {
	return int(s.depth.Load())
}

// Close stops accepting saves, drains queued writes and stops the writer.
func (s *Store) Close() error {
	s.closeMu.Lock()
	if s.closed {
		s.closeMu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.closeMu.Unlock()

	<-s.stopped
	return nil
}

func (s *Store) writer() {
	defer close(s.stopped)
	for req := range s.queue {
		start := time.Now()
		err := s.backend.write(req.ctx, req.data)
		s.setDepth(s.depth.Add(-1))
		if err != nil {
			s.logger.Error("snapshot write failed",
				slog.String("error", err.Error()),
			)
			req.done <- fmt.Errorf("snapshot: write: %w: %w", domain.ErrPersistenceUnavailable, err)
			continue
		}
		s.logger.Debug("snapshot written",
			slog.Int("bytes", len(req.data)),
			slog.Duration("elapsed", time.Since(start)),
		)
		req.done <- nil
	}
}

func (s *Store) setDepth(d int64) {
	if s.onDepth != nil {
		s.onDepth(int(d))
	}
}

// Encode serialises a snapshot as indented JSON.
func Encode(snap domain.Snapshot) ([]byte, error) {
	if snap.Markets == nil {
		snap.Markets = []domain.Market{}
	}
	if snap.Trades == nil {
		snap.Trades = map[string][]domain.Trade{}
	}
	return json.MarshalIndent(snap, "", "  ")
}

// Decode parses stored bytes. Empty input, a JSON value that is not an
// object, or an object without a numeric version decode to nil without
// error. Unparseable data or an unknown version wrap ErrCorruptSnapshot.
func Decode(data []byte) (*domain.Snapshot, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var probe any
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrCorruptSnapshot, err)
	}
	obj, ok := probe.(map[string]any)
	if !ok {
		return nil, nil
	}
	v, ok := obj["version"].(float64)
	if !ok {
		return nil, nil
	}
	if v != domain.SnapshotVersion {
		return nil, fmt.Errorf("%w: unsupported version %v", domain.ErrCorruptSnapshot, v)
	}

	var snap domain.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrCorruptSnapshot, err)
	}
	if err := validate(&snap); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrCorruptSnapshot, err)
	}
	if snap.Markets == nil {
		snap.Markets = []domain.Market{}
	}
	if snap.Trades == nil {
		snap.Trades = map[string][]domain.Trade{}
	}
	return &snap, nil
}

func validate(snap *domain.Snapshot) error {
	seen := make(map[string]struct{}, len(snap.Markets))
	for i, m := range snap.Markets {
		if m.ID == "" {
			return fmt.Errorf("market %d has no id", i)
		}
		if _, dup := seen[m.ID]; dup {
			return fmt.Errorf("duplicate market id %q", m.ID)
		}
		seen[m.ID] = struct{}{}
	}
	for id := range snap.Trades {
		if _, ok := seen[id]; !ok {
			return errors.New("trades reference unknown market " + id)
		}
	}
	return nil
}
