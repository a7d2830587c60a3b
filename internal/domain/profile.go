package domain

import (
	"time"
)

// MembershipVector maps segment name to membership strength in [0,1]
// for one subject on one axis. Values sum to 1.0 (closure invariant).
type MembershipVector map[string]float64

// Dominant returns the segment with the highest membership and its
// strength. Ties break lexicographically so assignment stays
// deterministic.
func (v MembershipVector) Dominant() (string, float64) {
	var name string
	best := -1.0
	for seg, m := range v {
		if m > best || (m == best && seg < name) {
			name = seg
			best = m
		}
	}
	return name, best
}

// Sum returns the total membership mass. 1.0 up to float error for any
// vector produced by the assignment engine.
func (v MembershipVector) Sum() float64 {
	total := 0.0
	for _, m := range v {
		total += m
	}
	return total
}

// Membership-strength classes for confidence reporting. Not used for
// archetype key construction.
const (
	StrengthStrong   = "strong"
	StrengthBalanced = "balanced"
	StrengthWeak     = "weak"
)

// AxisMembership is one axis's slice of a subject profile.
type AxisMembership struct {
	Dominant    string           `json:"dominant"`
	Strength    string           `json:"strength"`
	Memberships MembershipVector `json:"memberships"`

	// Version of the axis model this was computed against.
	ModelVersion string `json:"modelVersion"`
}

// SubjectProfile aggregates one subject's memberships across all axes
// plus derived outputs. Immutable snapshot variants are retained for
// drift tracking.
type SubjectProfile struct {
	SubjectID string `json:"subjectId"`
	TenantID  string `json:"tenantId"`

	Axes map[string]AxisMembership `json:"axes"`

	ArchetypeID  string `json:"archetypeId"`
	ArchetypeKey string `json:"archetypeKey"`

	// Derived scalar outputs computed by the score engine.
	Scores map[string]float64 `json:"scores,omitempty"`

	// Non-fatal warnings, e.g. assignment against a stale axis model.
	Warnings []string `json:"warnings,omitempty"`

	EventCount      int64   `json:"eventCount"`
	CumulativeValue float64 `json:"cumulativeValue"`
	TenureDays      float64 `json:"tenureDays"`

	AssignedAt time.Time `json:"assignedAt"`
}

// DominantSegments returns the axis→dominant-segment tuple used for
// archetype composition.
func (p *SubjectProfile) DominantSegments() map[string]string {
	out := make(map[string]string, len(p.Axes))
	for axis, am := range p.Axes {
		out[axis] = am.Dominant
	}
	return out
}

// Assignment outcome status constants.
const (
	StatusGrouped   = "GRPD" // subject assigned to a profile
	StatusUngrouped = "UNGR" // insufficient history, no profile
)

// AssignmentResult is the explicit variant type for the assignment hot
// path: Grouped carries a profile, Ungrouped carries a reason. Never an
// error for thin history.
type AssignmentResult struct {
	Status  string          `json:"status"`
	Profile *SubjectProfile `json:"profile,omitempty"`
	Reason  string          `json:"reason,omitempty"`
}

// Grouped reports whether the subject received a profile.
func (r *AssignmentResult) Grouped() bool {
	return r.Status == StatusGrouped
}

// Ungrouped builds an explicit empty-profile result.
func Ungrouped(reason string) *AssignmentResult {
	return &AssignmentResult{Status: StatusUngrouped, Reason: reason}
}

// Grouped builds a populated result.
func Grouped(profile *SubjectProfile) *AssignmentResult {
	return &AssignmentResult{Status: StatusGrouped, Profile: profile}
}
