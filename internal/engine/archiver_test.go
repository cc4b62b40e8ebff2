package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"

	"fleetmaint/internal/types"
)

type mockArchiveStore struct {
	mu      sync.Mutex
	batches [][]types.ExecutionHistoryEntry
	listErr error

	deletedIDs []int64
	deleteErr  error
}

func (m *mockArchiveStore) ListOlderThan(_ context.Context, _ time.Time, _ int) ([]types.ExecutionHistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	if len(m.batches) == 0 {
		return nil, nil
	}
	batch := m.batches[0]
	m.batches = m.batches[1:]
	return batch, nil
}

func (m *mockArchiveStore) DeleteByIDs(_ context.Context, ids []int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return 0, m.deleteErr
	}
	m.deletedIDs = append(m.deletedIDs, ids...)
	return len(ids), nil
}

type mockUploader struct {
	mu        sync.Mutex
	keys      []string
	data      [][]byte
	uploadErr error
}

func (m *mockUploader) UploadArchive(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.uploadErr != nil {
		return m.uploadErr
	}
	m.keys = append(m.keys, key)
	m.data = append(m.data, data)
	return nil
}

func historyBatch(startID int64, n int) []types.ExecutionHistoryEntry {
	entries := make([]types.ExecutionHistoryEntry, n)
	for i := range entries {
		entries[i] = types.ExecutionHistoryEntry{
			ID:            startID + int64(i),
			ScheduleID:    "sched_1",
			TickTimestamp: time.Date(2025, 1, 1, 6, 0, 0, 0, time.UTC),
			Outcome:       types.OutcomeSkippedNotDue,
		}
	}
	return entries
}

func TestHistoryArchiver_ArchivesBatches(t *testing.T) {
	store := &mockArchiveStore{
		batches: [][]types.ExecutionHistoryEntry{
			historyBatch(1, 3),
			historyBatch(4, 2), // short batch ends the loop
		},
	}
	uploader := &mockUploader{}
	archiver := NewHistoryArchiver(store, uploader, 3, driverTestLogger())

	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	archived, err := archiver.Archive(context.Background(), now, 90*24*time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if archived != 5 {
		t.Fatalf("expected 5 archived entries, got %d", archived)
	}
	if len(uploader.keys) != 2 {
		t.Fatalf("expected 2 uploads, got %d", len(uploader.keys))
	}
	for _, key := range uploader.keys {
		if !strings.HasPrefix(key, "history/") || !strings.HasSuffix(key, ".jsonl.gz") {
			t.Fatalf("unexpected archive key %q", key)
		}
	}
	if uploader.keys[0] == uploader.keys[1] {
		t.Fatalf("batches in one run must not share an archive key: %q", uploader.keys[0])
	}
	if len(store.deletedIDs) != 5 {
		t.Fatalf("expected 5 deleted IDs, got %v", store.deletedIDs)
	}
}

func TestHistoryArchiver_UploadIsGzippedJSONL(t *testing.T) {
	store := &mockArchiveStore{
		batches: [][]types.ExecutionHistoryEntry{historyBatch(1, 2)},
	}
	uploader := &mockUploader{}
	archiver := NewHistoryArchiver(store, uploader, 10, driverTestLogger())

	if _, err := archiver.Archive(context.Background(), time.Now(), time.Hour); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	gz, err := gzip.NewReader(bytes.NewReader(uploader.data[0]))
	if err != nil {
		t.Fatalf("upload is not valid gzip: %v", err)
	}
	raw, err := io.ReadAll(gz)
	if err != nil {
		t.Fatalf("decompressing upload: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 JSONL lines, got %d", len(lines))
	}
	var entry types.ExecutionHistoryEntry
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("line is not valid JSON: %v", err)
	}
	if entry.ID != 1 || entry.ScheduleID != "sched_1" {
		t.Fatalf("unexpected archived entry: %+v", entry)
	}
}

func TestHistoryArchiver_DeleteOnlyAfterUpload(t *testing.T) {
	store := &mockArchiveStore{
		batches: [][]types.ExecutionHistoryEntry{historyBatch(1, 2)},
	}
	uploader := &mockUploader{uploadErr: errors.New("bucket unavailable")}
	archiver := NewHistoryArchiver(store, uploader, 10, driverTestLogger())

	_, err := archiver.Archive(context.Background(), time.Now(), time.Hour)
	if err == nil {
		t.Fatal("expected error when upload fails")
	}
	if len(store.deletedIDs) != 0 {
		t.Fatalf("entries must not be deleted when the upload failed: %v", store.deletedIDs)
	}
}

func TestHistoryArchiver_NilUploaderSkips(t *testing.T) {
	store := &mockArchiveStore{
		batches: [][]types.ExecutionHistoryEntry{historyBatch(1, 2)},
	}
	archiver := NewHistoryArchiver(store, nil, 10, driverTestLogger())

	archived, err := archiver.Archive(context.Background(), time.Now(), time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if archived != 0 {
		t.Fatalf("unconfigured archiver must be a no-op, got %d", archived)
	}
	if len(store.deletedIDs) != 0 {
		t.Fatal("unconfigured archiver must not delete anything")
	}
}

func TestHistoryArchiver_NothingToArchive(t *testing.T) {
	store := &mockArchiveStore{}
	uploader := &mockUploader{}
	archiver := NewHistoryArchiver(store, uploader, 10, driverTestLogger())

	archived, err := archiver.Archive(context.Background(), time.Now(), time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if archived != 0 || len(uploader.keys) != 0 {
		t.Fatalf("expected no work, got %d archived and %d uploads", archived, len(uploader.keys))
	}
}
