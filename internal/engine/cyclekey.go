package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"fleetmaint/internal/types"
)

// CycleKey derives the deterministic key identifying one due cycle of a
// schedule: the schedule ID plus, for each causing metric, the NextDue
// threshold that was crossed at evaluation time.
//
// Two properties matter:
//   - Stability: concurrent evaluations of the same due cycle (same
//     thresholds) produce the same key, so the work-order store's
//     uniqueness check collapses them into one generation.
//   - Sensitivity: after a successful recompute the thresholds move, so
//     the next crossing produces a different key and generates again.
//
// Causing metrics are sorted before hashing so evaluation order never
// affects the key.
func CycleKey(scheduleID string, tracks types.TriggerMetrics, causing types.MetricKinds) string {
	parts := make([]string, 0, len(causing))
	for _, track := range tracks {
		if !causing.Contains(track.Kind) {
			continue
		}
		// %.6f keeps the representation stable across float formatting quirks.
		parts = append(parts, fmt.Sprintf("%s=%.6f", track.Kind, track.NextDue))
	}
	sort.Strings(parts)

	h := sha256.New()
	h.Write([]byte(scheduleID))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(h.Sum(nil))
}
