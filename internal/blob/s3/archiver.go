package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/perprisk/internal/domain"
	"github.com/alanyoungcy/perprisk/internal/view"
)

// multipartThreshold switches uploads to the transfer manager.
const multipartThreshold = 8 * 1024 * 1024

const jsonlContentType = "application/x-ndjson"

// Archiver writes derived position snapshots and audit log ranges to object
// storage as JSONL. Objects are never overwritten: every name carries a
// random suffix.
//
// Key schema, under the configured prefix:
//
//	snapshots/{account}/2025/01/31/150405-{uuid}.jsonl
//	audit/2025-01-31T150405Z-{uuid}.jsonl
type Archiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	audit  domain.AuditStore
	prefix string
}

// NewArchiver creates an Archiver. prefix is prepended to every key.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, audit domain.AuditStore, prefix string) *Archiver {
	return &Archiver{
		writer: writer,
		reader: reader,
		audit:  audit,
		prefix: strings.Trim(prefix, "/"),
	}
}

func (a *Archiver) key(parts ...string) string {
	joined := strings.Join(parts, "/")
	if a.prefix == "" {
		return joined
	}
	return a.prefix + "/" + joined
}

// SnapshotPrefix returns the key prefix holding account's snapshots.
func (a *Archiver) SnapshotPrefix(account string) string {
	return a.key("snapshots", account) + "/"
}

// ArchiveSnapshot uploads one position per line and returns the object key.
// An empty snapshot is still written so gaps in the archive mean the engine
// was down, not that the account was flat.
func (a *Archiver) ArchiveSnapshot(ctx context.Context, snap view.Positions, at time.Time) (string, error) {
	buf, err := marshalJSONL(snap.Positions)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive snapshot marshal: %w", err)
	}

	at = at.UTC()
	path := a.key("snapshots", snap.Account, at.Format("2006/01/02"),
		fmt.Sprintf("%s-%s.jsonl", at.Format("150405"), uuid.NewString()))

	if err := a.upload(ctx, path, buf); err != nil {
		return "", fmt.Errorf("s3blob: archive snapshot upload: %w", err)
	}
	return path, nil
}

// ArchiveAudit uploads the audit entries created in (since, until] and
// returns how many were written. Nothing is uploaded for an empty range.
func (a *Archiver) ArchiveAudit(ctx context.Context, since, until time.Time) (int64, error) {
	// ListOpts bounds are inclusive; nudge since past the previous cutoff.
	after := since.Add(time.Nanosecond)
	entries, err := a.audit.List(ctx, domain.ListOpts{Since: &after, Until: &until})
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit query: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(entries)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit marshal: %w", err)
	}

	path := a.key("audit", fmt.Sprintf("%s-%s.jsonl", until.UTC().Format("2006-01-02T150405Z"), uuid.NewString()))
	if err := a.upload(ctx, path, buf); err != nil {
		return 0, fmt.Errorf("s3blob: archive audit upload: %w", err)
	}

	count := int64(len(entries))
	if err := a.audit.Log(ctx, "archive.audit", map[string]any{
		"path":  path,
		"count": count,
		"until": until.UTC().Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive audit log: %w", err)
	}
	return count, nil
}

// ListSnapshots returns the archived snapshots of account.
func (a *Archiver) ListSnapshots(ctx context.Context, account string) ([]domain.BlobInfo, error) {
	return a.reader.List(ctx, a.SnapshotPrefix(account))
}

func (a *Archiver) upload(ctx context.Context, path string, buf []byte) error {
	if len(buf) >= multipartThreshold {
		return a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), multipartThreshold)
	}
	return a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
}

// marshalJSONL encodes one compact JSON value per line.
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
