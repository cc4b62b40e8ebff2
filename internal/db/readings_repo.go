package db

import (
	"context"
	"time"

	"fleetmaint/internal/types"
)

// ReadingRepository provides read access to the asset_metric_readings
// table, which holds the latest reported value per metric kind per
// asset. Readings are written by the telematics ingestion pipeline; the
// scheduling engine only reads them.
type ReadingRepository struct {
	db DBTX
}

// NewReadingRepository creates a new ReadingRepository backed by the
// given database connection (pool or transaction).
func NewReadingRepository(db DBTX) *ReadingRepository {
	return &ReadingRepository{db: db}
}

// Current returns the latest reading per metric kind for the asset. An
// asset with no readings at all yields an AssetReadings with an empty
// value map, not an error: absence of data must never force an unplanned
// generation, so the evaluator treats missing kinds as not due.
//
// SQL:
//
//	SELECT DISTINCT ON (metric_kind) metric_kind, value, recorded_at
//	FROM asset_metric_readings
//	WHERE asset_id = $1
//	ORDER BY metric_kind, recorded_at DESC
func (r *ReadingRepository) Current(ctx context.Context, assetID string) (*types.AssetReadings, error) {
	rows, err := r.db.Query(ctx,
		`SELECT DISTINCT ON (metric_kind) metric_kind, value, recorded_at
		 FROM asset_metric_readings
		 WHERE asset_id = $1
		 ORDER BY metric_kind, recorded_at DESC`,
		assetID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query asset readings", err)
	}
	defer rows.Close()

	readings := &types.AssetReadings{
		AssetID: assetID,
		Values:  make(map[types.MetricKind]float64),
	}
	for rows.Next() {
		var (
			kind       types.MetricKind
			value      float64
			recordedAt time.Time
		)
		if err := rows.Scan(&kind, &value, &recordedAt); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan asset reading", err)
		}
		readings.Values[kind] = value
		if recordedAt.After(readings.ReadingAt) {
			readings.ReadingAt = recordedAt
		}
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating asset readings", err)
	}

	return readings, nil
}
