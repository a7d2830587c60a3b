// Package discovery fits per-axis segmentation models from sampled
// feature vectors: standardization, cluster-count selection, centers,
// and optional per-segment covariance.
package discovery

import (
	"fmt"

	"github.com/opensource-analytics/harrier/internal/domain"
	"gonum.org/v1/gonum/stat"
)

// Scaler holds per-feature z-score parameters learned from the
// discovery sample. The same parameters are applied, unmodified, to
// every later subject so all vectors share one coordinate space.
type Scaler struct {
	Mean  []float64
	Scale []float64
}

// FitScaler learns mean and standard deviation per column. A
// zero-variance feature makes the axis degenerate: it carries no
// information and would divide by zero at assignment time.
func FitScaler(samples [][]float64) (*Scaler, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: no samples", domain.ErrInsufficientData)
	}
	dims := len(samples[0])
	col := make([]float64, len(samples))
	s := &Scaler{
		Mean:  make([]float64, dims),
		Scale: make([]float64, dims),
	}
	for d := 0; d < dims; d++ {
		for i, row := range samples {
			col[i] = row[d]
		}
		mean, std := stat.MeanStdDev(col, nil)
		if std == 0 {
			return nil, fmt.Errorf("%w: feature %d has zero variance", domain.ErrDegenerateModel, d)
		}
		s.Mean[d] = mean
		s.Scale[d] = std
	}
	return s, nil
}

// Transform standardizes one vector.
func (s *Scaler) Transform(v []float64) []float64 {
	out := make([]float64, len(v))
	for i := range v {
		out[i] = (v[i] - s.Mean[i]) / s.Scale[i]
	}
	return out
}

// TransformAll standardizes a whole sample.
func (s *Scaler) TransformAll(samples [][]float64) [][]float64 {
	out := make([][]float64, len(samples))
	for i, v := range samples {
		out[i] = s.Transform(v)
	}
	return out
}

// Inverse maps a standardized vector back to original feature units.
// Used when handing cluster centers to the naming collaborator.
func (s *Scaler) Inverse(v []float64) []float64 {
	out := make([]float64, len(v))
	for i := range v {
		out[i] = v[i]*s.Scale[i] + s.Mean[i]
	}
	return out
}
