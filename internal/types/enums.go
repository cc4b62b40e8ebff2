package types

// ScheduleStatus represents the lifecycle state of a RecurringSchedule.
type ScheduleStatus string

const (
	ScheduleActive         ScheduleStatus = "active"
	SchedulePaused         ScheduleStatus = "paused"
	ScheduleNeedsAttention ScheduleStatus = "needs_attention"
	ScheduleRetired        ScheduleStatus = "retired"
)

// MetricKind identifies a single dimension along which a maintenance
// interval can be measured.
type MetricKind string

const (
	MetricOdometer    MetricKind = "odometer"
	MetricEngineHours MetricKind = "engine_hours"
	MetricPTOHours    MetricKind = "pto_hours"
	MetricAuxHours    MetricKind = "aux_hours"
	MetricCycles      MetricKind = "cycles"
	MetricCalendar    MetricKind = "calendar"
)

// AllMetricKinds is the complete set of valid metric kinds. Used by
// validators when checking schedule track configuration.
var AllMetricKinds = []MetricKind{
	MetricOdometer,
	MetricEngineHours,
	MetricPTOHours,
	MetricAuxHours,
	MetricCycles,
	MetricCalendar,
}

// Combinator determines how multiple metric tracks combine into a single
// due/not-due decision. OR is "whichever comes first"; AND requires every
// track to have crossed its threshold.
type Combinator string

const (
	CombinatorOR  Combinator = "OR"
	CombinatorAND Combinator = "AND"
)

// WorkOrderPriority is the urgency level copied from the schedule template
// into each generated work order.
type WorkOrderPriority string

const (
	PriorityLow      WorkOrderPriority = "low"
	PriorityMedium   WorkOrderPriority = "medium"
	PriorityHigh     WorkOrderPriority = "high"
	PriorityCritical WorkOrderPriority = "critical"
)

// WorkOrderStatus represents the lifecycle state of a WorkOrder. The
// scheduling engine only ever creates orders in the open state; the rest
// of the lifecycle is driven by the shop floor.
type WorkOrderStatus string

const (
	WorkOrderOpen       WorkOrderStatus = "open"
	WorkOrderInProgress WorkOrderStatus = "in_progress"
	WorkOrderCompleted  WorkOrderStatus = "completed"
	WorkOrderCancelled  WorkOrderStatus = "cancelled"
)

// HistoryOutcome records how a single evaluation attempt for a schedule
// ended within one tick.
type HistoryOutcome string

const (
	OutcomeGenerated        HistoryOutcome = "generated"
	OutcomeSkippedNotDue    HistoryOutcome = "skipped_not_due"
	OutcomeAlreadyGenerated HistoryOutcome = "already_generated"
	OutcomeFailed           HistoryOutcome = "failed"
)

// EventType identifies the kind of notification event emitted by the
// scheduling engine.
type EventType string

const (
	EventWorkOrderGenerated EventType = "work_order_generated"
	EventScheduleEscalated  EventType = "schedule_escalated"
)
