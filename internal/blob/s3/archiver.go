package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/metamarket/internal/domain"
	"github.com/alanyoungcy/metamarket/internal/store/snapshot"
)

// multipartThreshold switches snapshot backups to multipart uploads.
const multipartThreshold = 8 * 1024 * 1024

// TradeSource is the read side of the trade archive used for export.
type TradeSource interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.Trade, error)
}

// Archiver implements domain.Archiver. Trades are exported as JSONL and
// snapshots uploaded as JSON; nothing is deleted from the primary stores.
type Archiver struct {
	writer domain.BlobWriter
	trades TradeSource
	audit  domain.AuditStore
	logger *slog.Logger
	now    func() time.Time
}

var _ domain.Archiver = (*Archiver)(nil)

// NewArchiver creates an Archiver. audit may be nil.
func NewArchiver(writer domain.BlobWriter, trades TradeSource, audit domain.AuditStore, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer: writer,
		trades: trades,
		audit:  audit,
		logger: logger.With(slog.String("component", "archiver")),
		now:    time.Now,
	}
}

// ArchiveTrades exports every trade created before the cutoff to
// archive/trades/YYYY-MM.jsonl and returns the number exported. Each run
// rewrites the month file with the full set, so reruns are idempotent.
func (a *Archiver) ArchiveTrades(ctx context.Context, before time.Time) (int64, error) {
	if a.trades == nil {
		return 0, nil
	}
	trades, err := a.trades.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades query: %w", err)
	}
	if len(trades) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(trades)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades marshal: %w", err)
	}
	path := archivePath("trades", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive trades upload: %w", err)
	}

	count := int64(len(trades))
	a.record(ctx, "archive.trades", map[string]any{
		"path":   path,
		"count":  count,
		"before": before.UTC().Format(time.RFC3339),
	})
	return count, nil
}

// BackupSnapshot uploads snap to snapshots/YYYY/MM/DD/<unix>.json and returns
// the path.
func (a *Archiver) BackupSnapshot(ctx context.Context, snap domain.Snapshot) (string, error) {
	data, err := snapshot.Encode(snap)
	if err != nil {
		return "", fmt.Errorf("s3blob: backup snapshot encode: %w", err)
	}
	path := snapshotPath(a.now())

	if len(data) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(data), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(data), "application/json")
	}
	if err != nil {
		return "", fmt.Errorf("s3blob: backup snapshot upload: %w", err)
	}

	a.record(ctx, "snapshot.backup", map[string]any{
		"path":    path,
		"markets": len(snap.Markets),
		"bytes":   len(data),
	})
	return path, nil
}

func (a *Archiver) record(ctx context.Context, event string, detail map[string]any) {
	a.logger.InfoContext(ctx, "archiver: "+event, slog.Any("detail", detail))
	if a.audit == nil {
		return
	}
	if err := a.audit.Log(ctx, event, detail); err != nil {
		a.logger.WarnContext(ctx, "archiver: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// archivePath partitions archive files by the cutoff's year-month.
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.UTC().Format("2006-01"))
}

func snapshotPath(at time.Time) string {
	at = at.UTC()
	return fmt.Sprintf("snapshots/%s/%d.json", at.Format("2006/01/02"), at.Unix())
}

// marshalJSONL encodes records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
