package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/metamarket/internal/config"
	"github.com/alanyoungcy/metamarket/internal/domain"
	"github.com/alanyoungcy/metamarket/internal/store/snapshot"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Persistence.Location = snapshot.LocationMemory
	cfg.Server.Port = 0
	return &cfg
}

type fakeArchiver struct {
	before   time.Time
	snapshot domain.Snapshot
	backups  int
	err      error
}

func (f *fakeArchiver) ArchiveTrades(_ context.Context, before time.Time) (int64, error) {
	f.before = before
	return 3, f.err
}

func (f *fakeArchiver) BackupSnapshot(_ context.Context, snap domain.Snapshot) (string, error) {
	f.backups++
	f.snapshot = snap
	return "snapshots/x.json", nil
}

func TestWireLocalOnly(t *testing.T) {
	cfg := testConfig()
	deps, cleanup, err := Wire(context.Background(), cfg, quietLogger())
	require.NoError(t, err)
	defer cleanup()

	assert.Nil(t, deps.TradeStore)
	assert.Nil(t, deps.AuditStore)
	assert.Nil(t, deps.Archiver)
	assert.Nil(t, deps.LockManager)
	assert.NotNil(t, deps.RateLimiter, "in-process limiter without redis")
	assert.NotNil(t, deps.SignalBus, "in-process bus without redis")
	assert.Equal(t, "mock", deps.Settlement.Mode())
	assert.Equal(t, snapshot.LocationMemory, deps.Snapshots.Backend())

	sd := marketServiceDeps(deps)
	assert.Nil(t, sd.Archive)
	assert.Nil(t, sd.Audit)
	assert.NotNil(t, sd.Stats)
}

func TestWireBadOperatorKey(t *testing.T) {
	cfg := testConfig()
	cfg.Settlement.OperatorKey = "not-hex"
	_, _, err := Wire(context.Background(), cfg, quietLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "settlement key")
}

func TestPrepareSeedsOutsideArchiveMode(t *testing.T) {
	a := New(testConfig(), quietLogger())

	deps, cleanup, err := Wire(context.Background(), a.cfg, quietLogger())
	require.NoError(t, err)
	defer cleanup()
	require.NoError(t, a.prepare(context.Background(), ModeServer, deps))
	assert.Positive(t, deps.Ledger.Len())

	archiveDeps, cleanup2, err := Wire(context.Background(), a.cfg, quietLogger())
	require.NoError(t, err)
	defer cleanup2()
	require.NoError(t, a.prepare(context.Background(), ModeArchive, archiveDeps))
	assert.Zero(t, archiveDeps.Ledger.Len())
}

func TestArchiveOnce(t *testing.T) {
	cfg := testConfig()
	cfg.Archive.RetentionDays = 30
	cfg.Archive.SnapshotBackup = true
	a := New(cfg, quietLogger())

	deps, cleanup, err := Wire(context.Background(), cfg, quietLogger())
	require.NoError(t, err)
	defer cleanup()
	require.NoError(t, a.prepare(context.Background(), ModeFull, deps))

	fake := &fakeArchiver{}
	deps.Archiver = fake
	now := time.Date(2026, 5, 31, 12, 0, 0, 0, time.UTC)

	require.NoError(t, a.archiveOnce(context.Background(), deps, now))
	assert.Equal(t, time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC), fake.before)
	assert.Equal(t, 1, fake.backups)
	assert.Len(t, fake.snapshot.Markets, deps.Ledger.Len())
	assert.Equal(t, now, fake.snapshot.UpdatedAt)

	cfg.Archive.SnapshotBackup = false
	fake.err = errors.New("bucket gone")
	err = a.archiveOnce(context.Background(), deps, now)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "export trades")
	assert.Equal(t, 1, fake.backups)
}

func TestStartArchiverRequiresArchiver(t *testing.T) {
	a := New(testConfig(), quietLogger())
	err := a.ArchiveMode(context.Background(), &Dependencies{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3.enabled")
}

func TestArchiveCutoff(t *testing.T) {
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC), archiveCutoff(now, 7))
	assert.Equal(t, now, archiveCutoff(now, 0))
	assert.Equal(t, now, archiveCutoff(now, -4))
}

func TestNeedsS3(t *testing.T) {
	cfg := testConfig()
	assert.False(t, needsS3(cfg))

	cfg.Persistence.Location = "s3://snapshots/markets.json"
	assert.True(t, needsS3(cfg))

	cfg = testConfig()
	cfg.S3.Enabled = true
	assert.True(t, needsS3(cfg))
}

func TestRunUnsupportedMode(t *testing.T) {
	cfg := testConfig()
	cfg.Mode = "trade"
	err := New(cfg, quietLogger()).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported mode")
}

func TestRunServerModeStopsOnCancel(t *testing.T) {
	a := New(testConfig(), quietLogger())
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			assert.ErrorIs(t, err, context.Canceled)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server mode did not stop")
	}
}
