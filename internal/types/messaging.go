package types

import "time"

// NotificationEvent is the payload the scheduling engine emits to the
// notification queue. Delivery (email, push, in-app) is owned by the
// downstream notification workers; the engine's contract is fire-and-forget.
type NotificationEvent struct {
	Type       EventType `json:"type"`
	TenantID   string    `json:"tenant_id"`
	ScheduleID string    `json:"schedule_id"`
	AssetID    string    `json:"asset_id"`

	// Set for work_order_generated events.
	WorkOrderID    string      `json:"work_order_id,omitempty"`
	ServiceType    string      `json:"service_type,omitempty"`
	CausingMetrics MetricKinds `json:"causing_metrics,omitempty"`

	// Set for schedule_escalated events.
	ConsecutiveFailures int    `json:"consecutive_failures,omitempty"`
	LastError           string `json:"last_error,omitempty"`

	EmittedAt time.Time `json:"emitted_at"`
	TraceID   string    `json:"trace_id,omitempty"`
}
