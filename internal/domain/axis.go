package domain

import (
	"fmt"
	"time"
)

// FeatureSpec names one feature of an axis and binds it to a registered
// extraction rule. Default is the value produced for subjects with no
// usable history.
type FeatureSpec struct {
	Name    string  `json:"name"`
	Rule    string  `json:"rule"`
	Default float64 `json:"default"`
}

// AxisConfig is the closed, versioned definition of one behavioral
// axis: an ordered feature list bound to extraction rules. Validated at
// load time, never at use time.
type AxisConfig struct {
	Name     string        `json:"name"`
	Features []FeatureSpec `json:"features"`
}

// Validate checks structural soundness. Rule existence is checked by the
// feature extractor against its registry.
func (a *AxisConfig) Validate() error {
	if a.Name == "" {
		return fmt.Errorf("%w: axis name is required", ErrInvalidConfig)
	}
	if len(a.Features) == 0 {
		return fmt.Errorf("%w: axis %s has no features", ErrInvalidConfig, a.Name)
	}
	seen := make(map[string]bool, len(a.Features))
	for _, f := range a.Features {
		if f.Name == "" || f.Rule == "" {
			return fmt.Errorf("%w: axis %s has a feature without name or rule", ErrInvalidConfig, a.Name)
		}
		if seen[f.Name] {
			return fmt.Errorf("%w: axis %s: duplicate feature %s", ErrInvalidConfig, a.Name, f.Name)
		}
		seen[f.Name] = true
	}
	return nil
}

// FeatureNames returns the ordered feature names.
func (a *AxisConfig) FeatureNames() []string {
	names := make([]string, len(a.Features))
	for i, f := range a.Features {
		names[i] = f.Name
	}
	return names
}

// Defaults returns the zero-history feature vector for the axis.
func (a *AxisConfig) Defaults() []float64 {
	out := make([]float64, len(a.Features))
	for i, f := range a.Features {
		out[i] = f.Default
	}
	return out
}

// Segment is one discovered cluster within an axis. Created atomically
// with its parent model during discovery, never mutated individually.
type Segment struct {
	Name string `json:"name"`
	Rank int    `json:"rank"`

	// Center in standardized feature space
	Center []float64 `json:"center"`

	// Optional per-segment covariance for Mahalanobis assignment.
	// Nil means identity (Euclidean distance).
	Covariance [][]float64 `json:"covariance,omitempty"`

	MemberCount   int     `json:"memberCount"`
	PopulationPct float64 `json:"populationPct"`

	// One-line interpretation from the naming collaborator, empty when
	// the fallback namer was used.
	Interpretation string `json:"interpretation,omitempty"`
}

// AxisModel is an immutable fitted model for one axis: the persisted
// scaler plus discovered segments. A discovery run produces a new
// version; reads pin one version for the duration of an operation.
type AxisModel struct {
	AxisName string `json:"axisName"`
	TenantID string `json:"tenantId"`

	// Version ties the model to the discovery run that produced it.
	Version  string    `json:"version"`
	FittedAt time.Time `json:"fittedAt"`

	FeatureNames []string `json:"featureNames"`

	// Z-score scaler parameters learned from the discovery sample.
	// Required, unmodified, at assignment time.
	ScalerMean  []float64 `json:"scalerMean"`
	ScalerScale []float64 `json:"scalerScale"`

	Segments []Segment `json:"segments"`

	// Silhouette-style quality score in [-1, 1] for the selected k.
	Quality    float64 `json:"quality"`
	LowQuality bool    `json:"lowQuality"`

	SampleSize int `json:"sampleSize"`
}

// SegmentNames returns segment names in rank order.
func (m *AxisModel) SegmentNames() []string {
	names := make([]string, len(m.Segments))
	for i, s := range m.Segments {
		names[i] = s.Name
	}
	return names
}

// Age returns how old the model is relative to now.
func (m *AxisModel) Age(now time.Time) time.Duration {
	return now.Sub(m.FittedAt)
}

// DiscoveryRun records the structured outcome of one discovery run:
// which axes succeeded, which were skipped and why.
type DiscoveryRun struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenantId"`
	StartedAt time.Time `json:"startedAt"`
	EndedAt   time.Time `json:"endedAt"`

	SampleSize    int           `json:"sampleSize"`
	AxesSucceeded []string      `json:"axesSucceeded"`
	AxesSkipped   []SkippedAxis `json:"axesSkipped,omitempty"`
}

// SkippedAxis records one axis that discovery left untouched, with the
// prior model (if any) still in place.
type SkippedAxis struct {
	Axis   string `json:"axis"`
	Reason string `json:"reason"`
}
