package db

import (
	"context"

	"fleetmaint/internal/types"
)

// WorkOrderRepository provides data access for the work_orders table.
// The scheduling engine only inserts; the rest of the work-order
// lifecycle (assignment, completion) is owned by the shop-floor API.
type WorkOrderRepository struct {
	db DBTX
}

// NewWorkOrderRepository creates a new WorkOrderRepository backed by the
// given database connection (pool or transaction).
func NewWorkOrderRepository(db DBTX) *WorkOrderRepository {
	return &WorkOrderRepository{db: db}
}

const workOrderColumns = `id, schedule_id, tenant_id, asset_id, service_type,
	priority, estimated_cost, assigned_technician_id, description,
	required_parts, generation_cycle_key, causing_metrics, status, created_at`

// InsertIfAbsent inserts the work order unless one already exists for
// its generation cycle key. This is the at-most-once guarantee against
// duplicate generation from concurrent ticks or scheduler replicas.
//
// Returns (order, true, nil) when the insert created a new row, or
// (existing, false, nil) when a work order for the cycle key already
// existed. The uniqueness is enforced by a partial unique index on
// generation_cycle_key (manual orders carry an empty key and are exempt).
//
// SQL:
//
//	INSERT INTO work_orders (<columns>)
//	VALUES ($1 .. $13, NOW())
//	ON CONFLICT (generation_cycle_key) WHERE generation_cycle_key <> ''
//	DO NOTHING
//	RETURNING created_at
func (r *WorkOrderRepository) InsertIfAbsent(ctx context.Context, wo *types.WorkOrder) (*types.WorkOrder, bool, error) {
	err := r.db.QueryRow(ctx,
		`INSERT INTO work_orders
		 (id, schedule_id, tenant_id, asset_id, service_type, priority,
		  estimated_cost, assigned_technician_id, description, required_parts,
		  generation_cycle_key, causing_metrics, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW())
		 ON CONFLICT (generation_cycle_key) WHERE generation_cycle_key <> ''
		 DO NOTHING
		 RETURNING created_at`,
		wo.ID,
		wo.ScheduleID,
		wo.TenantID,
		wo.AssetID,
		wo.ServiceType,
		wo.Priority,
		wo.EstimatedCost,
		wo.AssignedTechnicianID,
		wo.Description,
		wo.RequiredParts,
		wo.GenerationCycleKey,
		wo.CausingMetrics,
		wo.Status,
	).Scan(&wo.CreatedAt)

	if err == nil {
		return wo, true, nil
	}
	if !isNoRows(err) {
		return nil, false, types.NewAppError(types.ErrCodeInternalDB, "failed to insert work order", err)
	}

	// Conflict path: the cycle was already generated. Return the existing
	// order so callers can expose it in history.
	existing, err := r.GetByCycleKey(ctx, wo.GenerationCycleKey)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		// The conflicting row vanished between insert and select. Treat as
		// a concurrent modification and let the next tick retry.
		return nil, false, types.NewAppError(types.ErrCodeConflictConcurrent,
			"work order conflict row disappeared", nil)
	}
	return existing, false, nil
}

// GetByCycleKey returns the work order generated for the given cycle
// key, or nil when none exists.
func (r *WorkOrderRepository) GetByCycleKey(ctx context.Context, cycleKey string) (*types.WorkOrder, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+workOrderColumns+`
		 FROM work_orders
		 WHERE generation_cycle_key = $1`,
		cycleKey,
	)

	wo, err := scanWorkOrder(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query work order by cycle key", err)
	}
	return wo, nil
}

// ListBySchedule returns the newest work orders generated from a
// schedule, most recent first.
func (r *WorkOrderRepository) ListBySchedule(ctx context.Context, scheduleID string, limit int) ([]types.WorkOrder, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+workOrderColumns+`
		 FROM work_orders
		 WHERE schedule_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		scheduleID,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list work orders", err)
	}
	defer rows.Close()

	var orders []types.WorkOrder
	for rows.Next() {
		wo, err := scanWorkOrder(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan work order", err)
		}
		orders = append(orders, *wo)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating work orders", err)
	}

	return orders, nil
}

func scanWorkOrder(row scanTarget) (*types.WorkOrder, error) {
	var wo types.WorkOrder
	if err := row.Scan(
		&wo.ID,
		&wo.ScheduleID,
		&wo.TenantID,
		&wo.AssetID,
		&wo.ServiceType,
		&wo.Priority,
		&wo.EstimatedCost,
		&wo.AssignedTechnicianID,
		&wo.Description,
		&wo.RequiredParts,
		&wo.GenerationCycleKey,
		&wo.CausingMetrics,
		&wo.Status,
		&wo.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &wo, nil
}
