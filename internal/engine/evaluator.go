// Package engine implements the recurring maintenance scheduling engine:
// trigger evaluation, work-order generation, next-due recalculation, the
// execution history ledger, and the tick-driven scheduler driver.
//
// The engine is deliberately storage-agnostic. Every collaborator
// (schedule store, reading source, lease store, notifier) is a
// consumer-side interface defined in this package and satisfied by the
// pgx repositories in internal/db (or by in-memory mocks in tests).
package engine

import (
	"fleetmaint/internal/types"
	"time"
)

// Evaluation is the result of evaluating one schedule against current
// readings at one instant.
type Evaluation struct {
	Due bool

	// CausingMetrics lists every track that crossed its threshold,
	// regardless of combinator, so a generated work order can explain why
	// it fired.
	CausingMetrics types.MetricKinds

	// TracksAtEvaluation snapshots the schedule's tracks at evaluation
	// time. The cycle key is derived from these, never from the mutated
	// post-recompute tracks.
	TracksAtEvaluation types.TriggerMetrics
}

// Evaluate decides whether a schedule is due given the asset's current
// readings. Pure and deterministic: identical inputs always produce the
// identical result, which makes replay-based testing possible. It never
// reads the wall clock; callers inject now.
//
// Per-track rule: a track is due when currentReading >= NextDue. The
// calendar track compares now (as Unix seconds) against NextDue. A
// metric kind with no reading available is NOT_DUE for that track;
// absence of data must never force an unplanned generation.
//
// Combinator OR: due when any track is due (whichever comes first).
// Combinator AND: due only when every track is due. Single-track
// schedules ignore the combinator.
//
// A track with a non-positive interval is a configuration error: the
// returned AppError carries a config code so the driver flags the
// schedule needs_attention instead of treating it as silently always-due.
func Evaluate(s *types.RecurringSchedule, readings *types.AssetReadings, now time.Time) (Evaluation, error) {
	eval := Evaluation{
		TracksAtEvaluation: append(types.TriggerMetrics(nil), s.Tracks...),
	}

	if len(s.Tracks) == 0 {
		return eval, types.NewAppError(types.ErrCodeConfigNoTracks,
			"schedule has no metric tracks", nil)
	}

	dueCount := 0
	for i := range s.Tracks {
		track := &s.Tracks[i]
		if track.Interval <= 0 {
			return eval, types.NewAppErrorWithDetails(types.ErrCodeConfigInvalidInterval,
				"track interval must be positive", nil,
				map[string]any{"kind": string(track.Kind), "interval": track.Interval})
		}

		current, ok := trackReading(track.Kind, readings, now)
		if !ok {
			continue
		}

		if current >= track.NextDue {
			dueCount++
			eval.CausingMetrics = append(eval.CausingMetrics, track.Kind)
		}
	}

	switch {
	case len(s.Tracks) == 1 || s.Combinator == types.CombinatorOR:
		eval.Due = dueCount > 0
	case s.Combinator == types.CombinatorAND:
		eval.Due = dueCount == len(s.Tracks)
	default:
		return eval, types.NewAppErrorWithDetails(types.ErrCodeConfigInvalidCombinator,
			"combinator must be AND or OR", nil,
			map[string]any{"combinator": string(s.Combinator)})
	}

	return eval, nil
}

// trackReading resolves the current value for a track's metric kind.
// Calendar tracks read the injected evaluation time; every other kind
// reads the asset's telemetry.
func trackReading(kind types.MetricKind, readings *types.AssetReadings, now time.Time) (float64, bool) {
	if kind == types.MetricCalendar {
		return float64(now.Unix()), true
	}
	return readings.Value(kind)
}
