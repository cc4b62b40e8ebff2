package db

import (
	"context"

	"fleetmaint/internal/types"
)

// TechnicianRepository provides the read side of the technicians table
// needed at work-order generation time. Technician CRUD belongs to the
// fleet-management API.
type TechnicianRepository struct {
	db DBTX
}

// NewTechnicianRepository creates a new TechnicianRepository backed by
// the given database connection.
func NewTechnicianRepository(db DBTX) *TechnicianRepository {
	return &TechnicianRepository{db: db}
}

// IsActive reports whether the technician exists and is active. An
// unknown technician ID reads as inactive, not as an error; the
// generator turns both into the same assignment failure.
//
// SQL:
//
//	SELECT active FROM technicians WHERE id = $1
func (r *TechnicianRepository) IsActive(ctx context.Context, technicianID string) (bool, error) {
	var active bool
	err := r.db.QueryRow(ctx,
		`SELECT active FROM technicians WHERE id = $1`,
		technicianID,
	).Scan(&active)
	if err != nil {
		if isNoRows(err) {
			return false, nil
		}
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to look up technician", err)
	}
	return active, nil
}
