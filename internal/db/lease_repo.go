package db

import (
	"context"
	"time"

	"fleetmaint/internal/types"
)

// LeaseRepository provides per-schedule distributed leasing via the
// schedule_leases table. The lease is the only explicitly shared mutable
// state in the engine: whichever worker holds a schedule's lease owns
// every other field of that schedule for the lease duration. Acquisition
// uses INSERT ... ON CONFLICT DO UPDATE so that exactly one worker across
// all scheduler replicas claims a schedule, and stale leases left by
// crashed workers are reclaimed once their TTL expires.
type LeaseRepository struct {
	db DBTX
}

// NewLeaseRepository creates a new LeaseRepository backed by the given
// database connection (pool or transaction).
func NewLeaseRepository(db DBTX) *LeaseRepository {
	return &LeaseRepository{db: db}
}

// TryAcquire attempts to claim the schedule for workerID. Returns true
// if acquired, false if another worker holds an unexpired lease.
//
// SQL pattern:
//
//	INSERT INTO schedule_leases (schedule_id, worker_id, locked_at, expires_at)
//	VALUES ($1, $2, $3, $4)
//	ON CONFLICT (schedule_id) DO UPDATE
//	  SET worker_id = EXCLUDED.worker_id,
//	      locked_at = EXCLUDED.locked_at,
//	      expires_at = EXCLUDED.expires_at
//	  WHERE schedule_leases.expires_at < $3
//
// The locked_at ($3) and expires_at ($4) are computed as time.Time values
// in Go to avoid PostgreSQL interval parsing incompatibilities with Go's
// duration format.
//
// RowsAffected is 1 if the INSERT succeeded (new row) or if the ON
// CONFLICT UPDATE matched (expired lease reclaimed). It is 0 if the
// lease exists and has not expired (another worker holds it).
func (r *LeaseRepository) TryAcquire(ctx context.Context, scheduleID string, workerID string, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(ttl)

	tag, err := r.db.Exec(ctx,
		`INSERT INTO schedule_leases (schedule_id, worker_id, locked_at, expires_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (schedule_id) DO UPDATE
		   SET worker_id = EXCLUDED.worker_id,
		       locked_at = EXCLUDED.locked_at,
		       expires_at = EXCLUDED.expires_at
		   WHERE schedule_leases.expires_at < $3`,
		scheduleID,
		workerID,
		now,
		expiresAt,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to acquire schedule lease", err)
	}

	return tag.RowsAffected() > 0, nil
}

// Release drops the lease if this worker still holds it. A lease already
// expired and reclaimed by another worker is left untouched, which is why
// the worker_id guard matters.
//
// SQL: DELETE FROM schedule_leases WHERE schedule_id = $1 AND worker_id = $2
func (r *LeaseRepository) Release(ctx context.Context, scheduleID string, workerID string) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM schedule_leases WHERE schedule_id = $1 AND worker_id = $2`,
		scheduleID,
		workerID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to release schedule lease", err)
	}
	return nil
}

// ============================================================
// TickRunRepository
// ============================================================

// TickRunRepository provides data access for the tick_runs table. Tick
// run entries track each driver invocation for operational visibility
// and debugging; they are distinct from the per-schedule execution
// history ledger.
type TickRunRepository struct {
	db DBTX
}

// NewTickRunRepository creates a new TickRunRepository backed by the
// given database connection (pool or transaction).
func NewTickRunRepository(db DBTX) *TickRunRepository {
	return &TickRunRepository{db: db}
}

// Start inserts a new tick_runs row with status 'running' and returns
// the auto-generated BIGSERIAL ID. The caller uses this ID to later call
// Finish with the outcome.
func (r *TickRunRepository) Start(ctx context.Context, workerID string, tickAt time.Time) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx,
		`INSERT INTO tick_runs (worker_id, tick_at, started_at, status)
		 VALUES ($1, $2, NOW(), 'running')
		 RETURNING id`,
		workerID,
		tickAt,
	).Scan(&id)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to start tick run entry", err)
	}
	return id, nil
}

// Finish updates the tick_runs row with the final status and counters.
// The status should be 'success' or 'failed'. If tickErr is non-nil, its
// message is stored in the error column.
func (r *TickRunRepository) Finish(ctx context.Context, id int64, status string, evaluated, generated, failed int, tickErr error) error {
	var errMsg *string
	if tickErr != nil {
		s := tickErr.Error()
		errMsg = &s
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE tick_runs
		 SET finished_at = NOW(), status = $2,
		     schedules_evaluated = $3, work_orders_generated = $4,
		     schedules_failed = $5, error = $6
		 WHERE id = $1`,
		id,
		status,
		evaluated,
		generated,
		failed,
		errMsg,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to finish tick run entry", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "tick run entry not found", nil)
	}
	return nil
}
