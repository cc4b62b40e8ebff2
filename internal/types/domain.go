package types

import (
	"time"
)

// MetricTrack is a single recurrence dimension on a schedule: the interval
// at which service recurs, the value at the last service, and the derived
// next-due threshold.
//
// All values are float64 in the metric's natural unit (miles, hours,
// cycles). Calendar tracks use Unix seconds so every track shares the
// same threshold arithmetic.
//
// Invariant: NextDue is always derived as LastService + Interval by the
// recalculator. It is never edited independently.
type MetricTrack struct {
	Kind        MetricKind `json:"kind" validate:"required"`
	Interval    float64    `json:"interval" validate:"required,gt=0"`
	LastService float64    `json:"last_service"`
	NextDue     float64    `json:"next_due"`
}

// Part is a single line item on a work order template's required parts list.
// Order is significant: parts are copied into work orders in template order.
type Part struct {
	SKU      string `json:"sku" validate:"required,max=64"`
	Name     string `json:"name" validate:"required,max=200"`
	Quantity int    `json:"quantity" validate:"required,gt=0"`
}

// WorkOrderTemplate is the static blueprint copied verbatim into every
// work order generated from a schedule. A template missing ServiceType or
// Priority is a schedule-configuration error surfaced at create/update
// time, never at generation time.
type WorkOrderTemplate struct {
	ServiceType          string            `json:"service_type" validate:"required,max=100"`
	Priority             WorkOrderPriority `json:"priority" validate:"required,oneof=low medium high critical"`
	EstimatedCost        float64           `json:"estimated_cost" validate:"gte=0"`
	AssignedTechnicianID *string           `json:"assigned_technician_id,omitempty" validate:"omitempty,uuid"`
	Description          string            `json:"description" validate:"max=2000"`
	RequiredParts        []Part            `json:"required_parts,omitempty" validate:"dive"`
}

// RecurringSchedule is the core domain entity: a recurring maintenance
// rule for one asset, tracking one or more metric dimensions.
type RecurringSchedule struct {
	ID          string         `json:"id" db:"id"`
	TenantID    string         `json:"tenant_id" db:"tenant_id"`
	AssetID     string         `json:"asset_id" db:"asset_id"`
	ServiceType string         `json:"service_type" db:"service_type"`
	Status      ScheduleStatus `json:"status" db:"status"`

	// Recurrence logic
	Tracks     TriggerMetrics `json:"trigger_metrics" db:"trigger_metrics"`
	Combinator Combinator     `json:"combinator" db:"combinator"`

	// Generation blueprint
	Template WorkOrderTemplate `json:"work_order_template" db:"work_order_template"`

	// Failure bookkeeping
	ConsecutiveFailureCount int `json:"consecutive_failure_count" db:"consecutive_failure_count"`

	LastEvaluatedAt          *time.Time `json:"last_evaluated_at,omitempty" db:"last_evaluated_at"`
	LastWorkOrderGeneratedAt *time.Time `json:"last_work_order_generated_at,omitempty" db:"last_work_order_generated_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Track returns the metric track for the given kind, or nil if the
// schedule does not track that dimension.
func (s *RecurringSchedule) Track(kind MetricKind) *MetricTrack {
	for i := range s.Tracks {
		if s.Tracks[i].Kind == kind {
			return &s.Tracks[i]
		}
	}
	return nil
}

// AssetReadings holds the current metric readings for one asset at a
// point in time. A kind absent from Values means the sensor has never
// reported; the evaluator treats such tracks as not due.
//
// Calendar readings are not stored here: the evaluator derives them from
// the injected evaluation time.
type AssetReadings struct {
	AssetID   string                 `json:"asset_id"`
	Values    map[MetricKind]float64 `json:"values"`
	ReadingAt time.Time              `json:"reading_at"`
}

// Value returns the reading for the given kind and whether one exists.
func (r *AssetReadings) Value(kind MetricKind) (float64, bool) {
	if r == nil || r.Values == nil {
		return 0, false
	}
	v, ok := r.Values[kind]
	return v, ok
}

// WorkOrder is the generated artifact of a due schedule. Template fields
// are copied verbatim at generation time; later template edits never
// retroactively change an existing order.
//
// ScheduleID is nil for manually created work orders, which share the
// table but never pass through the scheduling engine.
type WorkOrder struct {
	ID         string  `json:"id" db:"id"`
	ScheduleID *string `json:"schedule_id,omitempty" db:"schedule_id"`
	TenantID   string  `json:"tenant_id" db:"tenant_id"`
	AssetID    string  `json:"asset_id" db:"asset_id"`

	// Copied from the template
	ServiceType          string            `json:"service_type" db:"service_type"`
	Priority             WorkOrderPriority `json:"priority" db:"priority"`
	EstimatedCost        float64           `json:"estimated_cost" db:"estimated_cost"`
	AssignedTechnicianID *string           `json:"assigned_technician_id,omitempty" db:"assigned_technician_id"`
	Description          string            `json:"description" db:"description"`
	RequiredParts        PartList          `json:"required_parts,omitempty" db:"required_parts"`

	// Idempotency and provenance
	GenerationCycleKey string      `json:"generation_cycle_key,omitempty" db:"generation_cycle_key"`
	CausingMetrics     MetricKinds `json:"causing_metrics,omitempty" db:"causing_metrics"`

	Status    WorkOrderStatus `json:"status" db:"status"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// ExecutionHistoryEntry is one immutable row of the append-only audit
// trail: the outcome of one evaluation attempt for one schedule in one
// tick. Entries are never updated or deleted (archival excepted).
type ExecutionHistoryEntry struct {
	ID             int64          `json:"id" db:"id"`
	ScheduleID     string         `json:"schedule_id" db:"schedule_id"`
	TickTimestamp  time.Time      `json:"tick_timestamp" db:"tick_timestamp"`
	Outcome        HistoryOutcome `json:"outcome" db:"outcome"`
	CausingMetrics MetricKinds    `json:"causing_metrics,omitempty" db:"causing_metrics"`
	WorkOrderID    *string        `json:"work_order_id,omitempty" db:"work_order_id"`
	ErrorDetail    *string        `json:"error_detail,omitempty" db:"error_detail"`
	CycleKey       string         `json:"cycle_key,omitempty" db:"cycle_key"`
}

// HistoryFilter narrows a schedule history query. Zero values mean
// "no filter" for that field.
type HistoryFilter struct {
	Outcome HistoryOutcome
	Since   time.Time
	Until   time.Time
	Limit   int
}
