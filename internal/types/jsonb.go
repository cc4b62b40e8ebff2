package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// TriggerMetrics is the ordered set of metric tracks on a schedule. It
// implements sql.Scanner and driver.Valuer for JSONB column storage.
type TriggerMetrics []MetricTrack

// Scan implements the sql.Scanner interface for reading JSONB from the database.
func (t *TriggerMetrics) Scan(value interface{}) error {
	return scanJSONB(value, t, "trigger_metrics")
}

// Value implements the driver.Valuer interface for writing JSONB to the database.
func (t TriggerMetrics) Value() (driver.Value, error) {
	if t == nil {
		return nil, nil
	}
	return json.Marshal(t)
}

// PartList is an ordered list of required parts stored as JSONB.
type PartList []Part

// Scan implements the sql.Scanner interface.
func (p *PartList) Scan(value interface{}) error {
	return scanJSONB(value, p, "required_parts")
}

// Value implements the driver.Valuer interface.
func (p PartList) Value() (driver.Value, error) {
	if p == nil {
		return nil, nil
	}
	return json.Marshal(p)
}

// Scan implements the sql.Scanner interface so templates round-trip
// through their JSONB column.
func (t *WorkOrderTemplate) Scan(value interface{}) error {
	return scanJSONB(value, t, "work_order_template")
}

// Value implements the driver.Valuer interface.
func (t WorkOrderTemplate) Value() (driver.Value, error) {
	return json.Marshal(t)
}

// MetricKinds is a list of metric kinds stored as JSONB, used for the
// causing-metrics columns on work orders and history entries.
type MetricKinds []MetricKind

// Scan implements the sql.Scanner interface.
func (m *MetricKinds) Scan(value interface{}) error {
	return scanJSONB(value, m, "metric_kinds")
}

// Value implements the driver.Valuer interface.
func (m MetricKinds) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// Contains reports whether the list includes the given kind.
func (m MetricKinds) Contains(kind MetricKind) bool {
	for _, k := range m {
		if k == kind {
			return true
		}
	}
	return false
}

// scanJSONB decodes a JSONB column value ([]byte or string) into dst.
func scanJSONB(value interface{}, dst any, column string) error {
	if value == nil {
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("%s: unsupported scan type %T", column, value)
	}
	return json.Unmarshal(data, dst)
}
