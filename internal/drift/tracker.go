// Package drift computes longitudinal drift between membership
// snapshots of the same subject: magnitude, velocity, archetype
// migration, multi-horizon trend, and the per-subject drift state
// machine.
package drift

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-analytics/harrier/internal/domain"
)

// minElapsedDays guards velocity against same-instant snapshots.
const minElapsedDays = 1.0 / 24.0

// Compute builds a drift report between two snapshots of one subject,
// from the older to the newer. Magnitude is the Euclidean norm of the
// membership delta over axes present in both snapshots; axes that only
// exist on one side (the axis roster changed between model versions)
// are excluded rather than treated as total change.
func Compute(from, to *domain.Snapshot) *domain.DriftReport {
	var sumSq float64
	for axis, fromVec := range from.Memberships {
		toVec, ok := to.Memberships[axis]
		if !ok {
			continue
		}
		for _, seg := range segmentUnion(fromVec, toVec) {
			d := toVec[seg] - fromVec[seg]
			sumSq += d * d
		}
	}
	magnitude := math.Sqrt(sumSq)

	days := to.TakenAt.Sub(from.TakenAt).Hours() / 24.0
	if days < minElapsedDays {
		days = minElapsedDays
	}

	report := &domain.DriftReport{
		ID:           uuid.New().String(),
		TenantID:     to.TenantID,
		SubjectID:    to.SubjectID,
		FromSnapshot: from.ID,
		ToSnapshot:   to.ID,
		FromTime:     from.TakenAt,
		ToTime:       to.TakenAt,
		Magnitude:    magnitude,
		Velocity:     magnitude / days,
		Migrated:     from.ArchetypeID != "" && to.ArchetypeID != "" && from.ArchetypeID != to.ArchetypeID,
		ComputedAt:   time.Now().UTC(),
	}

	if report.Migrated {
		report.AxesChanged = axisChanges(from.DominantSegments, to.DominantSegments)
	}
	return report
}

func segmentUnion(a, b domain.MembershipVector) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	for seg := range a {
		seen[seg] = struct{}{}
	}
	for seg := range b {
		seen[seg] = struct{}{}
	}
	segs := make([]string, 0, len(seen))
	for seg := range seen {
		segs = append(segs, seg)
	}
	sort.Strings(segs)
	return segs
}

func axisChanges(from, to map[string]string) []domain.AxisChange {
	var changes []domain.AxisChange
	for axis, fromSeg := range from {
		toSeg, ok := to[axis]
		if !ok || toSeg == fromSeg {
			continue
		}
		changes = append(changes, domain.AxisChange{Axis: axis, From: fromSeg, To: toSeg})
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].Axis < changes[j].Axis })
	return changes
}

// Trend compares short-horizon velocity against long-horizon velocity.
// Returns empty when the long horizon produced no usable velocity.
func Trend(shortVelocity, longVelocity, ratio float64) string {
	if longVelocity <= 0 || ratio <= 0 {
		return ""
	}
	switch {
	case shortVelocity > longVelocity*ratio:
		return domain.TrendAccelerating
	case shortVelocity < longVelocity/ratio:
		return domain.TrendDecelerating
	default:
		return domain.TrendStable
	}
}

// NextState advances the drift state machine. calmStreak counts the
// consecutive calm reports observed while MIGRATED; the returned streak
// feeds the next transition.
//
//	STABLE   -> DRIFTING  when velocity exceeds the threshold
//	DRIFTING -> MIGRATED  when the archetype flips
//	DRIFTING -> STABLE    when velocity settles below the threshold
//	MIGRATED -> STABLE    after settleCount consecutive calm reports
func NextState(current string, calmStreak int, velocity float64, migrated bool, cfg domain.DriftConfig) (string, int) {
	if migrated {
		return domain.DriftStateMigrated, 0
	}
	calm := velocity <= cfg.VelocityThreshold

	switch current {
	case domain.DriftStateMigrated:
		if !calm {
			return domain.DriftStateMigrated, 0
		}
		calmStreak++
		if calmStreak >= cfg.SettleCount {
			return domain.DriftStateStable, 0
		}
		return domain.DriftStateMigrated, calmStreak
	case domain.DriftStateDrifting:
		if calm {
			return domain.DriftStateStable, 0
		}
		return domain.DriftStateDrifting, 0
	default:
		if !calm {
			return domain.DriftStateDrifting, 0
		}
		return domain.DriftStateStable, 0
	}
}
