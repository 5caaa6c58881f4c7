package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/perprisk/internal/domain"
	"github.com/alanyoungcy/perprisk/internal/view"
)

type memBlobs struct {
	objects   map[string][]byte
	multipart []string
}

func newMemBlobs() *memBlobs { return &memBlobs{objects: map[string][]byte{}} }

func (m *memBlobs) Put(_ context.Context, path string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.objects[path] = b
	return nil
}

func (m *memBlobs) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	m.multipart = append(m.multipart, path)
	return m.Put(ctx, path, data, "")
}

func (m *memBlobs) Get(_ context.Context, path string) (io.ReadCloser, error) {
	b, ok := m.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memBlobs) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	var out []domain.BlobInfo
	for p, b := range m.objects {
		if strings.HasPrefix(p, prefix) {
			out = append(out, domain.BlobInfo{Path: p, Size: int64(len(b))})
		}
	}
	return out, nil
}

type memAudit struct {
	entries []domain.AuditEntry
	logged  []string
}

func (m *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	m.logged = append(m.logged, event)
	return nil
}

func (m *memAudit) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	var out []domain.AuditEntry
	for _, e := range m.entries {
		if opts.Since != nil && e.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && e.CreatedAt.After(*opts.Until) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func TestArchiveSnapshotWritesOneLinePerPosition(t *testing.T) {
	blobs := newMemBlobs()
	a := NewArchiver(blobs, blobs, &memAudit{}, "/positions/")

	size := "1000"
	snap := view.Positions{
		Account: "0xAcc",
		Positions: []view.Position{
			{Key: "0x01", SizeInUsd: &size},
			{Key: "0x02"},
		},
	}
	at := time.Date(2025, 1, 31, 15, 4, 5, 0, time.UTC)

	path, err := a.ArchiveSnapshot(context.Background(), snap, at)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(path, "positions/snapshots/0xAcc/2025/01/31/150405-"), path)
	assert.True(t, strings.HasSuffix(path, ".jsonl"))

	rc, err := blobs.Get(context.Background(), path)
	require.NoError(t, err)
	defer rc.Close()

	var keys []string
	sc := bufio.NewScanner(rc)
	for sc.Scan() {
		var p view.Position
		require.NoError(t, json.Unmarshal(sc.Bytes(), &p))
		keys = append(keys, p.Key)
	}
	assert.Equal(t, []string{"0x01", "0x02"}, keys)

	listed, err := a.ListSnapshots(context.Background(), "0xAcc")
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, path, listed[0].Path)
	assert.Empty(t, blobs.multipart)
}

func TestArchiveSnapshotNamesAreUnique(t *testing.T) {
	blobs := newMemBlobs()
	a := NewArchiver(blobs, blobs, &memAudit{}, "")
	at := time.Now()

	p1, err := a.ArchiveSnapshot(context.Background(), view.Positions{Account: "0xA"}, at)
	require.NoError(t, err)
	p2, err := a.ArchiveSnapshot(context.Background(), view.Positions{Account: "0xA"}, at)
	require.NoError(t, err)

	assert.NotEqual(t, p1, p2)
	assert.Len(t, blobs.objects, 2)
}

func TestArchiveAuditRange(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	audit := &memAudit{entries: []domain.AuditEntry{
		{ID: 1, Event: "pending.submitted", CreatedAt: base},
		{ID: 2, Event: "event.ingested", CreatedAt: base.Add(time.Minute)},
		{ID: 3, Event: "event.ingested", CreatedAt: base.Add(2 * time.Minute)},
	}}
	blobs := newMemBlobs()
	a := NewArchiver(blobs, blobs, audit, "p")

	n, err := a.ArchiveAudit(context.Background(), base, base.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, []string{"archive.audit"}, audit.logged)
	require.Len(t, blobs.objects, 1)
	for path := range blobs.objects {
		assert.True(t, strings.HasPrefix(path, "p/audit/2025-01-01T000200Z-"), path)
	}
}

func TestArchiveAuditEmptyRangeUploadsNothing(t *testing.T) {
	blobs := newMemBlobs()
	audit := &memAudit{}
	a := NewArchiver(blobs, blobs, audit, "")

	n, err := a.ArchiveAudit(context.Background(), time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, blobs.objects)
	assert.Empty(t, audit.logged)
}
