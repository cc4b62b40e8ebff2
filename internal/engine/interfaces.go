package engine

import (
	"context"
	"time"

	"fleetmaint/internal/types"
)

// ScheduleStore abstracts the schedule bookkeeping operations the driver
// needs. Using an interface allows clean testing without database
// dependencies; internal/db.ScheduleRepository is the production
// implementation.
type ScheduleStore interface {
	// ListActive returns evaluation candidates, tenant-scoped when
	// tenantID is non-empty, oldest evaluation first.
	ListActive(ctx context.Context, tenantID string, limit int) ([]types.RecurringSchedule, error)

	// MarkEvaluated stamps last_evaluated_at unconditionally for every
	// processed schedule.
	MarkEvaluated(ctx context.Context, scheduleID string, at time.Time) error

	// RecordFailure increments the consecutive failure counter and
	// returns the new count.
	RecordFailure(ctx context.Context, scheduleID string) (int, error)

	// ResetFailures zeroes the consecutive failure counter.
	ResetFailures(ctx context.Context, scheduleID string) error

	// MarkNeedsAttention flags the schedule for human review. Never
	// retires it.
	MarkNeedsAttention(ctx context.Context, scheduleID string) error
}

// ReadingSource abstracts the asset telemetry read. The returned
// AssetReadings may have an empty value map for assets that have never
// reported; that is not an error.
type ReadingSource interface {
	Current(ctx context.Context, assetID string) (*types.AssetReadings, error)
}

// LeaseStore abstracts the per-schedule distributed lease. TryAcquire
// returns false without error when another worker holds an unexpired
// lease; stale leases are reclaimed once their TTL passes.
type LeaseStore interface {
	TryAcquire(ctx context.Context, scheduleID string, workerID string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, scheduleID string, workerID string) error
}

// HistoryStore abstracts the append-only execution history ledger.
type HistoryStore interface {
	// Append writes one immutable history entry.
	Append(ctx context.Context, entry *types.ExecutionHistoryEntry) error

	// HasGeneratedForCycle is the secondary idempotency guard, consulted
	// before the work-order insert for storage engines that cannot enforce
	// cycle-key uniqueness on the insert itself.
	HasGeneratedForCycle(ctx context.Context, scheduleID string, cycleKey string) (bool, error)
}

// CycleCommitter commits the write side of a due cycle (work order,
// recomputed thresholds, history entry) as one atomic unit. The bool
// result is true when the cycle key already had a work order (a
// concurrent replica won); in that case nothing was written.
type CycleCommitter interface {
	CommitGeneration(
		ctx context.Context,
		wo *types.WorkOrder,
		tracks types.TriggerMetrics,
		entry *types.ExecutionHistoryEntry,
		generatedAt time.Time,
	) (*types.WorkOrder, bool, error)
}

// TechnicianDirectory reports whether a technician referenced by a
// template is currently active. Implementations live outside the engine;
// a nil directory disables the check entirely.
type TechnicianDirectory interface {
	IsActive(ctx context.Context, technicianID string) (bool, error)
}

// Notifier delivers engine events downstream. The contract is
// fire-and-forget: a Notify error is logged by the caller and never
// fails the generation cycle.
type Notifier interface {
	Notify(ctx context.Context, event types.NotificationEvent) error
}

// TickRunStore records driver invocations for operational visibility.
type TickRunStore interface {
	Start(ctx context.Context, workerID string, tickAt time.Time) (int64, error)
	Finish(ctx context.Context, id int64, status string, evaluated, generated, failed int, tickErr error) error
}

// TickMetrics publishes per-tick statistics. Publish failures are
// non-fatal; implementations log and move on.
type TickMetrics interface {
	PublishTickStats(ctx context.Context, stats TickStats)
}

// TickStats aggregates the outcome counters of one tick.
type TickStats struct {
	Candidates       int
	Evaluated        int
	Generated        int
	AlreadyGenerated int
	SkippedNotDue    int
	Failed           int
	LeaseContended   int
	Duration         time.Duration
}
