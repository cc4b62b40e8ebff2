package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"fleetmaint/internal/types"
)

// Generator turns a due schedule into a work order. The template is
// copied verbatim; the generator never fills in defaults for missing
// template fields, because templates are validated at schedule
// create/update time and an incomplete one can only mean a bypassed
// validation path, which should fail loudly here.
type Generator struct {
	technicians TechnicianDirectory // nil disables the technician check
}

// NewGenerator creates a Generator. The technician directory may be nil,
// in which case assigned technicians are copied through unverified.
func NewGenerator(technicians TechnicianDirectory) *Generator {
	return &Generator{technicians: technicians}
}

// Build constructs the work order for a due cycle. It does not persist
// anything; the driver hands the result to the CycleCommitter so the
// insert shares a transaction with the recompute and history entry.
//
// A template technician that has gone inactive between schedule creation
// and generation is treated as a generation-time error: the cycle fails
// and is retried next tick, surfacing through the failure counter if it
// persists. (The alternative, auto-unassigning and generating anyway,
// hides a data problem the operator should see.)
func (g *Generator) Build(ctx context.Context, s *types.RecurringSchedule, eval Evaluation, now time.Time) (*types.WorkOrder, error) {
	if s.Template.ServiceType == "" || s.Template.Priority == "" {
		return nil, types.NewAppError(types.ErrCodeConfigIncompleteTemplate,
			"work order template is missing service type or priority", nil)
	}

	if g.technicians != nil && s.Template.AssignedTechnicianID != nil {
		active, err := g.technicians.IsActive(ctx, *s.Template.AssignedTechnicianID)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeUpstreamUnavailable,
				"failed to verify assigned technician", err)
		}
		if !active {
			return nil, types.NewAppErrorWithDetails(types.ErrCodeGenerationTechnician,
				"assigned technician is inactive", nil,
				map[string]any{"technician_id": *s.Template.AssignedTechnicianID})
		}
	}

	scheduleID := s.ID
	wo := &types.WorkOrder{
		ID:         uuid.New().String(),
		ScheduleID: &scheduleID,
		TenantID:   s.TenantID,
		AssetID:    s.AssetID,

		ServiceType:          s.Template.ServiceType,
		Priority:             s.Template.Priority,
		EstimatedCost:        s.Template.EstimatedCost,
		AssignedTechnicianID: s.Template.AssignedTechnicianID,
		Description:          s.Template.Description,
		RequiredParts:        append(types.PartList(nil), s.Template.RequiredParts...),

		GenerationCycleKey: CycleKey(s.ID, eval.TracksAtEvaluation, eval.CausingMetrics),
		CausingMetrics:     append(types.MetricKinds(nil), eval.CausingMetrics...),

		Status:    types.WorkOrderOpen,
		CreatedAt: now,
	}

	return wo, nil
}
