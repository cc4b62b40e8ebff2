package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"fleetmaint/internal/types"
)

// CycleRepository commits the write side of one due cycle (work-order
// insert, threshold recompute, history entry) as a single transaction.
// Partial application is impossible: either every write lands or the
// transaction rolls back and the whole cycle is retried on the next tick.
//
// It needs the concrete pool (not DBTX) because it opens the transaction
// itself; the per-write repositories then run against the pgx.Tx.
type CycleRepository struct {
	pool *pgxpool.Pool
}

// NewCycleRepository creates a new CycleRepository on the given pool.
func NewCycleRepository(pool *pgxpool.Pool) *CycleRepository {
	return &CycleRepository{pool: pool}
}

// CommitGeneration atomically inserts the work order (idempotent on its
// cycle key), writes the recomputed tracks back to the schedule, and
// appends the generated history entry.
//
// Returns (order, false, nil) on a fresh generation. When the cycle key
// already has an order, meaning a concurrent replica won the race, it returns
// (existing, true, nil) WITHOUT applying the recompute or history entry;
// the caller records an already_generated outcome instead. The losing
// side must not recompute: the winner already reset the thresholds, and
// applying a second reset from stale readings would corrupt them.
func (r *CycleRepository) CommitGeneration(
	ctx context.Context,
	wo *types.WorkOrder,
	tracks types.TriggerMetrics,
	entry *types.ExecutionHistoryEntry,
	generatedAt time.Time,
) (*types.WorkOrder, bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, false, types.NewAppError(types.ErrCodeInternalDB, "failed to begin generation transaction", err)
	}
	defer tx.Rollback(ctx)

	workOrders := NewWorkOrderRepository(tx)
	schedules := NewScheduleRepository(tx)
	history := NewHistoryRepository(tx)

	inserted, created, err := workOrders.InsertIfAbsent(ctx, wo)
	if err != nil {
		return nil, false, err
	}

	if !created {
		// Lost the race. Commit nothing; the rollback is a no-op since only
		// the conflicting insert ran.
		return inserted, true, nil
	}

	if err := schedules.UpdateThresholds(ctx, *wo.ScheduleID, tracks, generatedAt); err != nil {
		return nil, false, err
	}

	entry.WorkOrderID = &inserted.ID
	if err := history.Append(ctx, entry); err != nil {
		return nil, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, types.NewAppError(types.ErrCodeInternalDB, "failed to commit generation transaction", err)
	}

	return inserted, false, nil
}
