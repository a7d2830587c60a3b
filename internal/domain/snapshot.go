package domain

import (
	"time"
)

// Snapshot is an immutable, timestamped copy of a subject's membership
// vectors plus minimal context. Retained at multiple day-granularities
// with fixed retention windows; read-only once written.
type Snapshot struct {
	ID        string `json:"id"`
	TenantID  string `json:"tenantId"`
	SubjectID string `json:"subjectId"`

	// Resolution is the horizon in days this snapshot belongs to
	// (7, 14, 28, 90, 180 by default).
	Resolution int       `json:"resolution"`
	TakenAt    time.Time `json:"takenAt"`

	Memberships      map[string]MembershipVector `json:"memberships"`
	DominantSegments map[string]string           `json:"dominantSegments"`
	ArchetypeID      string                      `json:"archetypeId"`

	// Minimal context at the instant of capture.
	EventCount      int64   `json:"eventCount"`
	CumulativeValue float64 `json:"cumulativeValue"`
	TenureDays      float64 `json:"tenureDays"`
}

// Drift trend classifications from multi-resolution comparison.
const (
	TrendAccelerating = "accelerating"
	TrendDecelerating = "decelerating"
	TrendStable       = "stable"
)

// Per-subject drift states.
const (
	DriftStateStable   = "STABLE"
	DriftStateDrifting = "DRIFTING"
	DriftStateMigrated = "MIGRATED"
)

// AxisChange records one axis whose dominant segment flipped between
// two snapshots.
type AxisChange struct {
	Axis string `json:"axis"`
	From string `json:"from"`
	To   string `json:"to"`
}

// DriftReport is the computed drift between two snapshots of the same
// subject.
type DriftReport struct {
	ID        string `json:"id"`
	TenantID  string `json:"tenantId"`
	SubjectID string `json:"subjectId"`

	FromSnapshot string    `json:"fromSnapshot"`
	ToSnapshot   string    `json:"toSnapshot"`
	FromTime     time.Time `json:"fromTime"`
	ToTime       time.Time `json:"toTime"`

	// Magnitude is the Euclidean norm of the membership delta over
	// axes present in both snapshots.
	Magnitude float64 `json:"driftMagnitude"`

	// Velocity is magnitude per elapsed day.
	Velocity float64 `json:"driftVelocity"`

	Migrated    bool         `json:"migrated"`
	AxesChanged []AxisChange `json:"axesChanged,omitempty"`

	// Trend compares short-interval against long-interval velocity,
	// empty when only one interval was available.
	Trend string `json:"trend,omitempty"`

	// State is the subject's drift state after this report.
	State string `json:"state"`

	ComputedAt time.Time `json:"computedAt"`
}
