package types

import (
	"github.com/go-playground/validator/v10"
)

// Validation constraint constants.
const (
	MaxTracksPerSchedule = 6
	MaxRequiredParts     = 50
)

// scheduleValidator is the shared validator instance for struct-tag rules.
// go-playground/validator is safe for concurrent use.
var scheduleValidator = validator.New(validator.WithRequiredStructEnabled())

// ValidKind reports whether the metric kind is one of the known dimensions.
func ValidKind(kind MetricKind) bool {
	for _, k := range AllMetricKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// ValidateSchedule checks a schedule's recurrence configuration and its
// work-order template. The fleet API gates create/update with it, and
// the scheduling driver re-checks before each evaluation so a row
// corrupted after creation is flagged instead of half-processed.
//
// Rules enforced:
//   - at least one metric track, at most MaxTracksPerSchedule
//   - every track has a known kind and a strictly positive interval
//   - no two tracks share a kind
//   - combinator is AND or OR when more than one track exists
//   - template has service type and priority, parts quantities > 0
func ValidateSchedule(s *RecurringSchedule) error {
	if len(s.Tracks) == 0 {
		return NewAppError(ErrCodeConfigNoTracks, "schedule must define at least one metric track", nil)
	}
	if len(s.Tracks) > MaxTracksPerSchedule {
		return NewAppErrorWithDetails(ErrCodeConfigDuplicateTrack, "too many metric tracks", nil,
			map[string]any{"count": len(s.Tracks), "max": MaxTracksPerSchedule})
	}

	seen := make(map[MetricKind]bool, len(s.Tracks))
	for i := range s.Tracks {
		track := &s.Tracks[i]
		if !ValidKind(track.Kind) {
			return NewAppErrorWithDetails(ErrCodeConfigInvalidMetricKind, "unknown metric kind", nil,
				map[string]any{"kind": string(track.Kind)})
		}
		if seen[track.Kind] {
			return NewAppErrorWithDetails(ErrCodeConfigDuplicateTrack, "duplicate metric track", nil,
				map[string]any{"kind": string(track.Kind)})
		}
		seen[track.Kind] = true
		if track.Interval <= 0 {
			return NewAppErrorWithDetails(ErrCodeConfigInvalidInterval, "track interval must be positive", nil,
				map[string]any{"kind": string(track.Kind), "interval": track.Interval})
		}
	}

	// Combinator only matters with multiple tracks; single-track schedules
	// ignore it entirely.
	if len(s.Tracks) > 1 && s.Combinator != CombinatorAND && s.Combinator != CombinatorOR {
		return NewAppErrorWithDetails(ErrCodeConfigInvalidCombinator, "combinator must be AND or OR", nil,
			map[string]any{"combinator": string(s.Combinator)})
	}

	return ValidateTemplate(&s.Template)
}

// ValidateTemplate checks that a work-order template is complete enough
// to generate from. Partial templates are rejected here so the generator
// can copy fields verbatim without fallback defaults.
func ValidateTemplate(t *WorkOrderTemplate) error {
	if err := scheduleValidator.Struct(t); err != nil {
		return NewAppError(ErrCodeConfigIncompleteTemplate, "work order template is incomplete", err)
	}
	if len(t.RequiredParts) > MaxRequiredParts {
		return NewAppErrorWithDetails(ErrCodeConfigIncompleteTemplate, "too many required parts", nil,
			map[string]any{"count": len(t.RequiredParts), "max": MaxRequiredParts})
	}
	return nil
}
