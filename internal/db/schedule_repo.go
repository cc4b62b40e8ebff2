package db

import (
	"context"
	"time"

	"fleetmaint/internal/types"
)

// ScheduleRepository provides data access for the recurring_schedules
// table. The scheduling engine reads candidates through ListActive and
// mutates schedule state through the bookkeeping methods; schedule CRUD
// itself belongs to the fleet-management API and is not implemented here.
type ScheduleRepository struct {
	db DBTX
}

// NewScheduleRepository creates a new ScheduleRepository backed by the
// given database connection (pool or transaction).
func NewScheduleRepository(db DBTX) *ScheduleRepository {
	return &ScheduleRepository{db: db}
}

const scheduleColumns = `id, tenant_id, asset_id, service_type, status,
	trigger_metrics, combinator, work_order_template,
	consecutive_failure_count, last_evaluated_at,
	last_work_order_generated_at, created_at, updated_at`

// ListActive returns active schedules eligible for evaluation, oldest
// evaluation first so starved schedules are picked up before recently
// evaluated ones. An empty tenantID returns schedules across all tenants.
//
// SQL:
//
//	SELECT <columns> FROM recurring_schedules
//	WHERE status = 'active' AND ($1 = '' OR tenant_id = $1)
//	ORDER BY last_evaluated_at ASC NULLS FIRST
//	LIMIT $2
//
// Schedules in needs_attention remain eligible: the flag is a signal for
// a human operator, not a terminal state, so they are included here.
func (r *ScheduleRepository) ListActive(ctx context.Context, tenantID string, limit int) ([]types.RecurringSchedule, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+scheduleColumns+`
		 FROM recurring_schedules
		 WHERE status IN ('active', 'needs_attention')
		   AND ($1 = '' OR tenant_id = $1)
		 ORDER BY last_evaluated_at ASC NULLS FIRST
		 LIMIT $2`,
		tenantID,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list active schedules", err)
	}
	defer rows.Close()

	var schedules []types.RecurringSchedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan schedule", err)
		}
		schedules = append(schedules, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating schedules", err)
	}

	return schedules, nil
}

// MarkEvaluated stamps last_evaluated_at. Called unconditionally for
// every processed schedule, regardless of outcome.
//
// SQL: UPDATE recurring_schedules SET last_evaluated_at = $2, updated_at = NOW()
//
//	WHERE id = $1
func (r *ScheduleRepository) MarkEvaluated(ctx context.Context, scheduleID string, at time.Time) error {
	_, err := r.db.Exec(ctx,
		`UPDATE recurring_schedules
		 SET last_evaluated_at = $2, updated_at = NOW()
		 WHERE id = $1`,
		scheduleID,
		at,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark schedule evaluated", err)
	}
	return nil
}

// UpdateThresholds replaces the schedule's metric tracks with the
// recomputed set and stamps last_work_order_generated_at. Intended to run
// inside the generation transaction; callers pass a pgx.Tx as the DBTX.
//
// SQL:
//
//	UPDATE recurring_schedules
//	SET trigger_metrics = $2,
//	    last_work_order_generated_at = $3,
//	    consecutive_failure_count = 0,
//	    updated_at = NOW()
//	WHERE id = $1
func (r *ScheduleRepository) UpdateThresholds(ctx context.Context, scheduleID string, tracks types.TriggerMetrics, generatedAt time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE recurring_schedules
		 SET trigger_metrics = $2,
		     last_work_order_generated_at = $3,
		     consecutive_failure_count = 0,
		     updated_at = NOW()
		 WHERE id = $1`,
		scheduleID,
		tracks,
		generatedAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update schedule thresholds", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundSchedule, "schedule not found during threshold update", nil)
	}
	return nil
}

// RecordFailure increments consecutive_failure_count and returns the new
// count so the driver can apply the escalation threshold without a
// read-modify-write race between replicas.
//
// SQL:
//
//	UPDATE recurring_schedules
//	SET consecutive_failure_count = consecutive_failure_count + 1,
//	    updated_at = NOW()
//	WHERE id = $1
//	RETURNING consecutive_failure_count
func (r *ScheduleRepository) RecordFailure(ctx context.Context, scheduleID string) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`UPDATE recurring_schedules
		 SET consecutive_failure_count = consecutive_failure_count + 1,
		     updated_at = NOW()
		 WHERE id = $1
		 RETURNING consecutive_failure_count`,
		scheduleID,
	).Scan(&count)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to record schedule failure", err)
	}
	return count, nil
}

// ResetFailures zeroes consecutive_failure_count after a successful
// cycle that did not pass through UpdateThresholds (the skipped-not-due
// path also counts as success).
func (r *ScheduleRepository) ResetFailures(ctx context.Context, scheduleID string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE recurring_schedules
		 SET consecutive_failure_count = 0, updated_at = NOW()
		 WHERE id = $1 AND consecutive_failure_count <> 0`,
		scheduleID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to reset schedule failures", err)
	}
	return nil
}

// MarkNeedsAttention flips the schedule status to needs_attention. The
// schedule is never auto-retired; it keeps being evaluated until a human
// intervenes.
//
// SQL:
//
//	UPDATE recurring_schedules SET status = 'needs_attention', updated_at = NOW()
//	WHERE id = $1 AND status = 'active'
func (r *ScheduleRepository) MarkNeedsAttention(ctx context.Context, scheduleID string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE recurring_schedules
		 SET status = 'needs_attention', updated_at = NOW()
		 WHERE id = $1 AND status = 'active'`,
		scheduleID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to flag schedule needs_attention", err)
	}
	return nil
}

// scanTarget abstracts pgx.Row and pgx.Rows for shared scan helpers.
type scanTarget interface {
	Scan(dest ...any) error
}

func scanSchedule(row scanTarget) (*types.RecurringSchedule, error) {
	var s types.RecurringSchedule
	if err := row.Scan(
		&s.ID,
		&s.TenantID,
		&s.AssetID,
		&s.ServiceType,
		&s.Status,
		&s.Tracks,
		&s.Combinator,
		&s.Template,
		&s.ConsecutiveFailureCount,
		&s.LastEvaluatedAt,
		&s.LastWorkOrderGeneratedAt,
		&s.CreatedAt,
		&s.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &s, nil
}
