package snapshot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

type memoryBackend struct {
	mu   sync.Mutex
	data []byte
}

func (m *memoryBackend) read(context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		return nil, nil
	}
	return bytes.Clone(m.data), nil
}

func (m *memoryBackend) write(_ context.Context, data []byte) error {
	m.mu.Lock()
	m.data = bytes.Clone(data)
	m.mu.Unlock()
	return nil
}

func (m *memoryBackend) describe() string { return LocationMemory }

type fileBackend struct {
	path string
}

func (f *fileBackend) describe() string { return "file:" + f.path }

func (f *fileBackend) read(context.Context) ([]byte, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// write replaces the snapshot file atomically: temp file in the same
// directory, fsync, rename, fsync of the directory.
func (f *fileBackend) write(_ context.Context, data []byte) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		cleanup()
		return fmt.Errorf("rename: %w", err)
	}

	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}

// removeStaleTemps deletes temp files left behind by an interrupted write.
func (f *fileBackend) removeStaleTemps(logger *slog.Logger) {
	matches, err := filepath.Glob(filepath.Join(filepath.Dir(f.path), filepath.Base(f.path)+".*.tmp"))
	if err != nil {
		return
	}
	for _, m := range matches {
		if err := os.Remove(m); err == nil {
			logger.Info("removed stale snapshot temp file", slog.String("path", m))
		}
	}
}

type blobBackend struct {
	blob BlobBackend
	key  string
}

func (b *blobBackend) describe() string { return blobScheme + b.key }

func (b *blobBackend) read(ctx context.Context) ([]byte, error) {
	ok, err := b.blob.Exists(ctx, b.key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	rc, err := b.blob.Get(ctx, b.key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func (b *blobBackend) write(ctx context.Context, data []byte) error {
	return b.blob.Put(ctx, b.key, bytes.NewReader(data), "application/json")
}
