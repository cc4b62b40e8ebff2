package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"fleetmaint/internal/types"
)

// Driver is the periodic coordinator. Each Tick lists candidate
// schedules, fans them out to a bounded worker pool, and walks every
// schedule through lease -> evaluate -> generate -> recompute -> record,
// isolating failures per schedule.
//
// Multiple Driver replicas may run concurrently for availability;
// correctness depends entirely on the lease and the cycle-key
// idempotency, never on single-instance assumptions.
type Driver struct {
	schedules ScheduleStore
	readings  ReadingSource
	leases    LeaseStore
	history   HistoryStore
	committer CycleCommitter
	generator *Generator
	notifier  Notifier
	tickRuns  TickRunStore // nil disables tick run bookkeeping
	metrics   TickMetrics  // nil disables metric publishing

	workers             int
	leaseTTL            time.Duration
	scheduleTimeout     time.Duration
	escalationThreshold int
	tenantFilter        string
	listLimit           int

	// workerID identifies this driver replica in leases and tick runs.
	workerID string
	logger   *slog.Logger
}

// DriverConfig holds the dependencies and tunables for creating a Driver.
// The tunables are explicit configuration: the driver never reads
// ambient global state.
type DriverConfig struct {
	Schedules ScheduleStore
	Readings  ReadingSource
	Leases    LeaseStore
	History   HistoryStore
	Committer CycleCommitter
	Generator *Generator
	Notifier  Notifier
	TickRuns  TickRunStore
	Metrics   TickMetrics

	Workers             int
	LeaseTTL            time.Duration
	ScheduleTimeout     time.Duration
	EscalationThreshold int
	TenantFilter        string
	ListLimit           int

	Logger *slog.Logger
}

// Default tunables, applied when the corresponding config field is zero.
const (
	DefaultWorkers             = 8
	DefaultLeaseTTL            = 5 * time.Minute
	DefaultScheduleTimeout     = 30 * time.Second
	DefaultEscalationThreshold = 3
	DefaultListLimit           = 1000
)

// NewDriver creates a Driver with the given configuration, filling in
// defaults for zero-valued tunables.
func NewDriver(cfg DriverConfig) *Driver {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	d := &Driver{
		schedules: cfg.Schedules,
		readings:  cfg.Readings,
		leases:    cfg.Leases,
		history:   cfg.History,
		committer: cfg.Committer,
		generator: cfg.Generator,
		notifier:  cfg.Notifier,
		tickRuns:  cfg.TickRuns,
		metrics:   cfg.Metrics,

		workers:             cfg.Workers,
		leaseTTL:            cfg.LeaseTTL,
		scheduleTimeout:     cfg.ScheduleTimeout,
		escalationThreshold: cfg.EscalationThreshold,
		tenantFilter:        cfg.TenantFilter,
		listLimit:           cfg.ListLimit,

		workerID: uuid.New().String(),
		logger:   logger,
	}
	if d.workers <= 0 {
		d.workers = DefaultWorkers
	}
	if d.leaseTTL <= 0 {
		d.leaseTTL = DefaultLeaseTTL
	}
	if d.scheduleTimeout <= 0 {
		d.scheduleTimeout = DefaultScheduleTimeout
	}
	if d.escalationThreshold <= 0 {
		d.escalationThreshold = DefaultEscalationThreshold
	}
	if d.listLimit <= 0 {
		d.listLimit = DefaultListLimit
	}
	return d
}

// scheduleOutcome classifies how one schedule's processing ended within
// a tick. These are the terminal states of the per-schedule state
// machine; leaseContended means the schedule stayed a candidate for the
// next tick.
type scheduleOutcome int

const (
	outcomeLeaseContended scheduleOutcome = iota
	outcomeNotDue
	outcomeGenerated
	outcomeAlreadyGenerated
	outcomeFailed
)

// Tick runs one full scheduling pass at the given instant. The caller
// injects now (EventBridge, a timer, or a test harness) so evaluation
// is decoupled from the trigger cadence.
//
// Tick only returns an error for infrastructure-level outages (cannot
// list schedules, cannot start workers). Per-schedule failures are
// isolated: they are recorded in history and the failure counter, and
// never block or roll back the other schedules in the tick.
func (d *Driver) Tick(ctx context.Context, now time.Time) (TickStats, error) {
	started := time.Now()
	var stats TickStats

	var tickRunID int64
	if d.tickRuns != nil {
		id, err := d.tickRuns.Start(ctx, d.workerID, now)
		if err != nil {
			// Bookkeeping only; the tick itself proceeds.
			d.logger.WarnContext(ctx, "failed to start tick run entry", "error", err)
		} else {
			tickRunID = id
		}
	}

	candidates, err := d.schedules.ListActive(ctx, d.tenantFilter, d.listLimit)
	if err != nil {
		err = fmt.Errorf("listing active schedules: %w", err)
		d.finishTickRun(ctx, tickRunID, "failed", stats, err)
		return stats, err
	}
	stats.Candidates = len(candidates)

	d.logger.InfoContext(ctx, "tick started",
		"worker_id", d.workerID,
		"candidates", len(candidates),
		"tenant_filter", d.tenantFilter,
	)

	var mu sync.Mutex
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers)

	for i := range candidates {
		schedule := candidates[i]
		g.Go(func() error {
			outcome := d.processSchedule(gCtx, &schedule, now)

			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case outcomeLeaseContended:
				stats.LeaseContended++
			case outcomeNotDue:
				stats.Evaluated++
				stats.SkippedNotDue++
			case outcomeGenerated:
				stats.Evaluated++
				stats.Generated++
			case outcomeAlreadyGenerated:
				stats.Evaluated++
				stats.AlreadyGenerated++
			case outcomeFailed:
				stats.Evaluated++
				stats.Failed++
			}
			// Never propagate: one schedule's failure must not cancel the
			// group and starve the remaining schedules.
			return nil
		})
	}

	// Workers never return errors, so Wait only reflects ctx cancellation.
	if err := g.Wait(); err != nil {
		d.finishTickRun(ctx, tickRunID, "failed", stats, err)
		return stats, fmt.Errorf("tick worker pool: %w", err)
	}

	stats.Duration = time.Since(started)

	d.logger.InfoContext(ctx, "tick complete",
		"worker_id", d.workerID,
		"candidates", stats.Candidates,
		"generated", stats.Generated,
		"already_generated", stats.AlreadyGenerated,
		"skipped_not_due", stats.SkippedNotDue,
		"failed", stats.Failed,
		"lease_contended", stats.LeaseContended,
		"duration", stats.Duration.String(),
	)

	d.finishTickRun(ctx, tickRunID, "success", stats, nil)
	if d.metrics != nil {
		d.metrics.PublishTickStats(ctx, stats)
	}

	return stats, nil
}

// finishTickRun closes the tick run bookkeeping entry, best effort.
func (d *Driver) finishTickRun(ctx context.Context, id int64, status string, stats TickStats, tickErr error) {
	if d.tickRuns == nil || id == 0 {
		return
	}
	if err := d.tickRuns.Finish(ctx, id, status, stats.Evaluated, stats.Generated, stats.Failed, tickErr); err != nil {
		d.logger.WarnContext(ctx, "failed to finish tick run entry", "tick_run_id", id, "error", err)
	}
}

// processSchedule walks one schedule through the per-tick state machine:
// CANDIDATE -> LEASED -> {EVALUATED_NOT_DUE | GENERATING -> GENERATED | FAILED}.
// It never returns an error; every path resolves to a terminal outcome
// so the caller can aggregate without unwrapping.
func (d *Driver) processSchedule(parent context.Context, s *types.RecurringSchedule, now time.Time) scheduleOutcome {
	ctx, cancel := context.WithTimeout(parent, d.scheduleTimeout)
	defer cancel()

	acquired, err := d.leases.TryAcquire(ctx, s.ID, d.workerID, d.leaseTTL)
	if err != nil {
		return d.failSchedule(ctx, s, now, nil, fmt.Errorf("acquiring lease: %w", err))
	}
	if !acquired {
		// Another worker or replica holds the schedule; it stays a
		// candidate for the next tick. No history entry.
		d.logger.InfoContext(ctx, "schedule lease contended, skipping",
			"schedule_id", s.ID,
		)
		return outcomeLeaseContended
	}
	defer d.releaseLease(parent, s.ID)

	// Every tick stamps last_evaluated_at, regardless of outcome.
	if err := d.schedules.MarkEvaluated(ctx, s.ID, now); err != nil {
		return d.failSchedule(ctx, s, now, nil, fmt.Errorf("marking schedule evaluated: %w", err))
	}

	// Structural validation runs before any evaluation so a schedule row
	// corrupted after creation is flagged instead of half-processed.
	if err := types.ValidateSchedule(s); err != nil {
		return d.flagMisconfigured(ctx, s, now, err)
	}

	readings, err := d.readings.Current(ctx, s.AssetID)
	if err != nil {
		return d.failSchedule(ctx, s, now, nil, fmt.Errorf("reading asset metrics: %w", err))
	}

	eval, err := Evaluate(s, readings, now)
	if err != nil {
		if types.CodeOf(err).IsConfigError() {
			return d.flagMisconfigured(ctx, s, now, err)
		}
		return d.failSchedule(ctx, s, now, nil, fmt.Errorf("evaluating schedule: %w", err))
	}

	if !eval.Due {
		return d.recordNotDue(ctx, s, now, eval)
	}

	return d.generate(ctx, s, now, readings, eval)
}

// generate handles the GENERATING branch: build the order, guard the
// cycle, commit generation + recompute + history atomically, notify.
func (d *Driver) generate(ctx context.Context, s *types.RecurringSchedule, now time.Time, readings *types.AssetReadings, eval Evaluation) scheduleOutcome {
	cycleKey := CycleKey(s.ID, eval.TracksAtEvaluation, eval.CausingMetrics)

	// Secondary idempotency guard via the history ledger. The work-order
	// insert enforces the same invariant; consulting history first avoids
	// burning a transaction when a replica already finished this cycle.
	generated, err := d.history.HasGeneratedForCycle(ctx, s.ID, cycleKey)
	if err != nil {
		return d.failSchedule(ctx, s, now, eval.CausingMetrics, fmt.Errorf("checking cycle history: %w", err))
	}
	if generated {
		return d.recordAlreadyGenerated(ctx, s, now, eval, cycleKey, nil)
	}

	wo, err := d.generator.Build(ctx, s, eval, now)
	if err != nil {
		return d.failSchedule(ctx, s, now, eval.CausingMetrics, fmt.Errorf("building work order: %w", err))
	}

	updatedTracks := RecomputeTracks(s, readings, now)

	entry := &types.ExecutionHistoryEntry{
		ScheduleID:     s.ID,
		TickTimestamp:  now,
		Outcome:        types.OutcomeGenerated,
		CausingMetrics: eval.CausingMetrics,
		CycleKey:       cycleKey,
	}

	committed, already, err := d.committer.CommitGeneration(ctx, wo, updatedTracks, entry, now)
	if err != nil {
		return d.failSchedule(ctx, s, now, eval.CausingMetrics, fmt.Errorf("committing generation: %w", err))
	}
	if already {
		return d.recordAlreadyGenerated(ctx, s, now, eval, cycleKey, committed)
	}

	d.logger.InfoContext(ctx, "work order generated",
		"schedule_id", s.ID,
		"asset_id", s.AssetID,
		"work_order_id", committed.ID,
		"cycle_key", cycleKey,
		"causing_metrics", eval.CausingMetrics,
	)

	d.notify(ctx, types.NotificationEvent{
		Type:           types.EventWorkOrderGenerated,
		TenantID:       s.TenantID,
		ScheduleID:     s.ID,
		AssetID:        s.AssetID,
		WorkOrderID:    committed.ID,
		ServiceType:    committed.ServiceType,
		CausingMetrics: eval.CausingMetrics,
		EmittedAt:      now,
		TraceID:        uuid.New().String(),
	})

	return outcomeGenerated
}

// recordNotDue closes the EVALUATED_NOT_DUE branch: history entry plus a
// failure-counter reset, since a clean evaluation is a success.
func (d *Driver) recordNotDue(ctx context.Context, s *types.RecurringSchedule, now time.Time, eval Evaluation) scheduleOutcome {
	entry := &types.ExecutionHistoryEntry{
		ScheduleID:     s.ID,
		TickTimestamp:  now,
		Outcome:        types.OutcomeSkippedNotDue,
		CausingMetrics: eval.CausingMetrics,
	}
	if err := d.history.Append(ctx, entry); err != nil {
		return d.failSchedule(ctx, s, now, eval.CausingMetrics, fmt.Errorf("recording not-due history: %w", err))
	}
	if err := d.schedules.ResetFailures(ctx, s.ID); err != nil {
		d.logger.WarnContext(ctx, "failed to reset failure counter",
			"schedule_id", s.ID,
			"error", err,
		)
	}
	return outcomeNotDue
}

// recordAlreadyGenerated handles the idempotency-conflict branch: not an
// error, treated as success with no new side effects beyond the history
// entry documenting the duplicate attempt.
func (d *Driver) recordAlreadyGenerated(ctx context.Context, s *types.RecurringSchedule, now time.Time, eval Evaluation, cycleKey string, existing *types.WorkOrder) scheduleOutcome {
	entry := &types.ExecutionHistoryEntry{
		ScheduleID:     s.ID,
		TickTimestamp:  now,
		Outcome:        types.OutcomeAlreadyGenerated,
		CausingMetrics: eval.CausingMetrics,
		CycleKey:       cycleKey,
	}
	if existing != nil {
		entry.WorkOrderID = &existing.ID
	}
	if err := d.history.Append(ctx, entry); err != nil {
		d.logger.WarnContext(ctx, "failed to record already-generated history",
			"schedule_id", s.ID,
			"cycle_key", cycleKey,
			"error", err,
		)
	}
	if err := d.schedules.ResetFailures(ctx, s.ID); err != nil {
		d.logger.WarnContext(ctx, "failed to reset failure counter",
			"schedule_id", s.ID,
			"error", err,
		)
	}

	d.logger.InfoContext(ctx, "cycle already generated, no new work order",
		"schedule_id", s.ID,
		"cycle_key", cycleKey,
	)
	return outcomeAlreadyGenerated
}

// flagMisconfigured handles configuration errors discovered at
// evaluation time (invalid interval, bad combinator). The schedule is
// flagged needs_attention immediately, without transient-failure
// counting, and an escalation event is emitted so an operator sees it.
func (d *Driver) flagMisconfigured(ctx context.Context, s *types.RecurringSchedule, now time.Time, cfgErr error) scheduleOutcome {
	d.logger.ErrorContext(ctx, "schedule misconfigured",
		"schedule_id", s.ID,
		"error", cfgErr,
	)

	d.appendFailureHistory(ctx, s.ID, now, nil, cfgErr)

	// An already-flagged schedule stays a candidate until an operator
	// fixes it; escalating again on every tick would flood the channel.
	if s.Status == types.ScheduleNeedsAttention {
		return outcomeFailed
	}

	if err := d.schedules.MarkNeedsAttention(ctx, s.ID); err != nil {
		d.logger.ErrorContext(ctx, "failed to flag misconfigured schedule",
			"schedule_id", s.ID,
			"error", err,
		)
	}

	d.notify(ctx, types.NotificationEvent{
		Type:       types.EventScheduleEscalated,
		TenantID:   s.TenantID,
		ScheduleID: s.ID,
		AssetID:    s.AssetID,
		LastError:  cfgErr.Error(),
		EmittedAt:  now,
	})

	return outcomeFailed
}

// failSchedule closes the FAILED branch: failure history, counter
// increment, and escalation exactly when the counter reaches the
// threshold. Never retried within the same tick.
func (d *Driver) failSchedule(ctx context.Context, s *types.RecurringSchedule, now time.Time, causing types.MetricKinds, cause error) scheduleOutcome {
	// The failure may be a timeout of ctx itself; bookkeeping still has
	// to land, so it runs on a detached context.
	bctx := context.WithoutCancel(ctx)

	d.logger.ErrorContext(ctx, "schedule processing failed",
		"schedule_id", s.ID,
		"asset_id", s.AssetID,
		"error", cause,
	)

	d.appendFailureHistory(bctx, s.ID, now, causing, cause)

	count, err := d.schedules.RecordFailure(bctx, s.ID)
	if err != nil {
		d.logger.ErrorContext(ctx, "failed to record schedule failure",
			"schedule_id", s.ID,
			"error", err,
		)
		return outcomeFailed
	}

	// Escalate exactly at the threshold. Later failures keep the flag but
	// do not re-notify on every tick.
	if count == d.escalationThreshold {
		if err := d.schedules.MarkNeedsAttention(bctx, s.ID); err != nil {
			d.logger.ErrorContext(ctx, "failed to escalate schedule",
				"schedule_id", s.ID,
				"error", err,
			)
		}
		d.notify(bctx, types.NotificationEvent{
			Type:                types.EventScheduleEscalated,
			TenantID:            s.TenantID,
			ScheduleID:          s.ID,
			AssetID:             s.AssetID,
			ConsecutiveFailures: count,
			LastError:           cause.Error(),
			EmittedAt:           now,
		})
	}

	return outcomeFailed
}

// appendFailureHistory writes a failed ledger entry, best effort.
func (d *Driver) appendFailureHistory(ctx context.Context, scheduleID string, now time.Time, causing types.MetricKinds, cause error) {
	detail := cause.Error()
	entry := &types.ExecutionHistoryEntry{
		ScheduleID:     scheduleID,
		TickTimestamp:  now,
		Outcome:        types.OutcomeFailed,
		CausingMetrics: causing,
		ErrorDetail:    &detail,
	}
	if err := d.history.Append(ctx, entry); err != nil {
		d.logger.ErrorContext(ctx, "failed to append failure history",
			"schedule_id", scheduleID,
			"error", err,
		)
	}
}

// releaseLease drops this worker's claim, best effort on a detached
// context so a per-schedule timeout cannot strand the lease until TTL.
func (d *Driver) releaseLease(parent context.Context, scheduleID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), 5*time.Second)
	defer cancel()
	if err := d.leases.Release(ctx, scheduleID, d.workerID); err != nil {
		d.logger.WarnContext(ctx, "failed to release schedule lease",
			"schedule_id", scheduleID,
			"error", err,
		)
	}
}

// notify delivers an event, fire-and-forget: failures are logged and
// never fail the cycle.
func (d *Driver) notify(ctx context.Context, event types.NotificationEvent) {
	if d.notifier == nil {
		return
	}
	if err := d.notifier.Notify(ctx, event); err != nil {
		d.logger.WarnContext(ctx, "failed to emit notification",
			"event_type", string(event.Type),
			"schedule_id", event.ScheduleID,
			"error", err,
		)
	}
}
