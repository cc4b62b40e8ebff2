package engine

import (
	"time"

	"fleetmaint/internal/types"
)

// RecomputeTracks returns the schedule's tracks with every threshold
// reset after a successful generation. For each track, not only the
// causing ones, LastService becomes the asset's actual current reading
// and NextDue becomes LastService + Interval.
//
// Resetting from the current reading rather than from the crossed
// threshold is a deliberate policy: an asset due at 50,000 miles but
// serviced at 50,400 starts its next interval at 50,400, due at 55,400.
// Resetting from the threshold instead would silently shorten every
// subsequent interval. This drift-free behavior must be preserved
// exactly.
//
// A track whose metric has no current reading keeps its previous
// LastService as the anchor; its NextDue is still re-derived so the
// LastService + Interval invariant holds for every track.
//
// Pure: the input schedule is not mutated.
func RecomputeTracks(s *types.RecurringSchedule, readings *types.AssetReadings, now time.Time) types.TriggerMetrics {
	updated := make(types.TriggerMetrics, len(s.Tracks))
	for i, track := range s.Tracks {
		if current, ok := trackReading(track.Kind, readings, now); ok {
			track.LastService = current
		}
		track.NextDue = track.LastService + track.Interval
		updated[i] = track
	}
	return updated
}
