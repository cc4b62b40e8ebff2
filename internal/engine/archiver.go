package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/klauspost/compress/gzip"

	"fleetmaint/internal/types"
)

// HistoryArchiveStore defines the ledger operations needed by the
// HistoryArchiver.
type HistoryArchiveStore interface {
	// ListOlderThan returns history entries with tick_timestamp before
	// cutoff, oldest first, up to limit.
	ListOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]types.ExecutionHistoryEntry, error)

	// DeleteByIDs removes history entries by ID and returns the count
	// actually deleted.
	DeleteByIDs(ctx context.Context, ids []int64) (int, error)
}

// ArchiveUploader abstracts the cold-storage upload for archived history
// batches. The key is generated by the archiver:
// "history/YYYY/MM/batch_{nanos}.jsonl.gz".
type ArchiveUploader interface {
	UploadArchive(ctx context.Context, key string, data []byte) error
}

// HistoryArchiver moves execution history entries past the retention
// window to cold storage. The ledger stays append-only for auditors;
// archival is how it stops growing without bound.
type HistoryArchiver struct {
	store     HistoryArchiveStore
	uploader  ArchiveUploader // nil if cold storage not configured
	batchSize int
	logger    *slog.Logger
}

// DefaultArchiveBatchSize bounds each fetch-upload-delete cycle so a
// single invocation cannot run past a Lambda timeout.
const DefaultArchiveBatchSize = 1000

// NewHistoryArchiver creates a HistoryArchiver. The uploader may be nil
// when cold storage is not configured; Archive then becomes a no-op.
func NewHistoryArchiver(store HistoryArchiveStore, uploader ArchiveUploader, batchSize int, logger *slog.Logger) *HistoryArchiver {
	if batchSize <= 0 {
		batchSize = DefaultArchiveBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HistoryArchiver{
		store:     store,
		uploader:  uploader,
		batchSize: batchSize,
		logger:    logger,
	}
}

// Archive moves history entries older than retention to cold storage in
// a fetch-upload-delete loop:
//  1. Fetch a batch of entries older than (now - retention), oldest first.
//  2. Serialize to JSONL and gzip.
//  3. Upload the compressed batch.
//  4. Delete the uploaded entries from the ledger.
//
// Delete runs only after a successful upload, so a crash mid-cycle
// duplicates entries in cold storage rather than losing them.
//
// Returns the count of entries successfully archived.
func (a *HistoryArchiver) Archive(ctx context.Context, now time.Time, retention time.Duration) (int, error) {
	if a.uploader == nil {
		a.logger.WarnContext(ctx, "history archive uploader not configured, skipping")
		return 0, nil
	}

	cutoff := now.Add(-retention)
	totalArchived := 0

	for {
		entries, err := a.store.ListOlderThan(ctx, cutoff, a.batchSize)
		if err != nil {
			return totalArchived, fmt.Errorf("listing history for archival: %w", err)
		}

		if len(entries) == 0 {
			break
		}

		data, err := compressHistoryJSONL(entries)
		if err != nil {
			return totalArchived, fmt.Errorf("serializing history batch: %w", err)
		}

		// Keyed by the first ledger ID so each batch in a multi-batch run
		// gets a distinct object, and re-runs after a crash overwrite the
		// same object instead of duplicating it.
		key := fmt.Sprintf("history/%d/%02d/batch_%d.jsonl.gz",
			cutoff.Year(), cutoff.Month(), entries[0].ID)

		if err := a.uploader.UploadArchive(ctx, key, data); err != nil {
			return totalArchived, fmt.Errorf("uploading history archive to %s: %w", key, err)
		}

		ids := make([]int64, len(entries))
		for i, e := range entries {
			ids[i] = e.ID
		}

		deleted, err := a.store.DeleteByIDs(ctx, ids)
		if err != nil {
			return totalArchived, fmt.Errorf("deleting archived history entries: %w", err)
		}

		totalArchived += deleted

		a.logger.InfoContext(ctx, "archived history batch",
			"batch_size", deleted,
			"archive_key", key,
			"total_archived", totalArchived,
		)

		if len(entries) < a.batchSize {
			break
		}
	}

	return totalArchived, nil
}

// compressHistoryJSONL serializes entries to newline-delimited JSON and
// gzips the result.
func compressHistoryJSONL(entries []types.ExecutionHistoryEntry) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)

	enc := json.NewEncoder(gz)
	for _, entry := range entries {
		if err := enc.Encode(entry); err != nil {
			return nil, fmt.Errorf("marshaling history entry %d: %w", entry.ID, err)
		}
	}

	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("closing gzip writer: %w", err)
	}

	return buf.Bytes(), nil
}
