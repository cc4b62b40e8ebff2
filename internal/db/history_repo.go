package db

import (
	"context"
	"strconv"
	"strings"
	"time"

	"fleetmaint/internal/types"
)

// HistoryRepository provides data access for the execution_history
// table, the append-only audit trail of every evaluation attempt.
// Entries are never updated; the only deletion path is the retention
// archiver, which removes rows strictly older than the archive cutoff
// after they have been uploaded to cold storage.
type HistoryRepository struct {
	db DBTX
}

// NewHistoryRepository creates a new HistoryRepository backed by the
// given database connection (pool or transaction).
func NewHistoryRepository(db DBTX) *HistoryRepository {
	return &HistoryRepository{db: db}
}

const historyColumns = `id, schedule_id, tick_timestamp, outcome,
	causing_metrics, work_order_id, error_detail, cycle_key`

// Append inserts a new history entry and fills in its generated ID.
//
// SQL:
//
//	INSERT INTO execution_history
//	(schedule_id, tick_timestamp, outcome, causing_metrics,
//	 work_order_id, error_detail, cycle_key)
//	VALUES ($1, $2, $3, $4, $5, $6, $7)
//	RETURNING id
func (r *HistoryRepository) Append(ctx context.Context, entry *types.ExecutionHistoryEntry) error {
	err := r.db.QueryRow(ctx,
		`INSERT INTO execution_history
		 (schedule_id, tick_timestamp, outcome, causing_metrics,
		  work_order_id, error_detail, cycle_key)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		entry.ScheduleID,
		entry.TickTimestamp,
		entry.Outcome,
		entry.CausingMetrics,
		entry.WorkOrderID,
		entry.ErrorDetail,
		entry.CycleKey,
	).Scan(&entry.ID)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to append history entry", err)
	}
	return nil
}

// HasGeneratedForCycle reports whether a generated entry already exists
// for the schedule and cycle key. This is the secondary idempotency
// guard, used when the work-order store cannot enforce cycle-key
// uniqueness itself.
//
// SQL:
//
//	SELECT EXISTS (
//	  SELECT 1 FROM execution_history
//	  WHERE schedule_id = $1 AND cycle_key = $2 AND outcome = 'generated')
func (r *HistoryRepository) HasGeneratedForCycle(ctx context.Context, scheduleID string, cycleKey string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM execution_history
		   WHERE schedule_id = $1 AND cycle_key = $2 AND outcome = 'generated')`,
		scheduleID,
		cycleKey,
	).Scan(&exists)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to check cycle history", err)
	}
	return exists, nil
}

// ListBySchedule returns history entries for a schedule ordered by
// tick_timestamp descending, applying the optional filter fields. This
// backs the schedule-history read path consumed by the UI layer.
func (r *HistoryRepository) ListBySchedule(ctx context.Context, scheduleID string, filter types.HistoryFilter) ([]types.ExecutionHistoryEntry, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + historyColumns + `
		FROM execution_history
		WHERE schedule_id = $1`)

	args := []any{scheduleID}
	if filter.Outcome != "" {
		args = append(args, filter.Outcome)
		sb.WriteString(` AND outcome = $` + strconv.Itoa(len(args)))
	}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since)
		sb.WriteString(` AND tick_timestamp >= $` + strconv.Itoa(len(args)))
	}
	if !filter.Until.IsZero() {
		args = append(args, filter.Until)
		sb.WriteString(` AND tick_timestamp < $` + strconv.Itoa(len(args)))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	sb.WriteString(` ORDER BY tick_timestamp DESC LIMIT $` + strconv.Itoa(len(args)))

	rows, err := r.db.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list schedule history", err)
	}
	defer rows.Close()

	var entries []types.ExecutionHistoryEntry
	for rows.Next() {
		var e types.ExecutionHistoryEntry
		if err := rows.Scan(
			&e.ID,
			&e.ScheduleID,
			&e.TickTimestamp,
			&e.Outcome,
			&e.CausingMetrics,
			&e.WorkOrderID,
			&e.ErrorDetail,
			&e.CycleKey,
		); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan history entry", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating history entries", err)
	}

	return entries, nil
}

// ListOlderThan returns history entries with tick_timestamp before the
// cutoff, oldest first, capped at limit. Used by the retention archiver.
func (r *HistoryRepository) ListOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]types.ExecutionHistoryEntry, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+historyColumns+`
		 FROM execution_history
		 WHERE tick_timestamp < $1
		 ORDER BY tick_timestamp ASC
		 LIMIT $2`,
		cutoff,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list history for archival", err)
	}
	defer rows.Close()

	var entries []types.ExecutionHistoryEntry
	for rows.Next() {
		var e types.ExecutionHistoryEntry
		if err := rows.Scan(
			&e.ID,
			&e.ScheduleID,
			&e.TickTimestamp,
			&e.Outcome,
			&e.CausingMetrics,
			&e.WorkOrderID,
			&e.ErrorDetail,
			&e.CycleKey,
		); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan history entry", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating history entries", err)
	}

	return entries, nil
}

// DeleteByIDs removes archived history rows by their IDs and returns the
// deleted count. Only the retention archiver calls this, strictly after
// a successful cold-storage upload.
//
// SQL: DELETE FROM execution_history WHERE id = ANY($1)
func (r *HistoryRepository) DeleteByIDs(ctx context.Context, ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := r.db.Exec(ctx,
		`DELETE FROM execution_history WHERE id = ANY($1)`,
		ids,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to delete archived history entries", err)
	}
	return int(tag.RowsAffected()), nil
}
