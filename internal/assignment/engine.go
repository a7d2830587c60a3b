// Package assignment computes fuzzy membership distributions for
// subjects against fitted axis models.
package assignment

import (
	"fmt"
	"math"

	"github.com/opensource-analytics/harrier/internal/domain"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Membership converts one subject's raw feature vector into a
// normalized membership distribution over an axis's segments.
//
// Pure and deterministic: identical inputs produce bit-for-bit
// identical output. The axis's persisted scaler is applied, never
// re-fit, so sampled and unsampled subjects share one coordinate
// space.
func Membership(raw []float64, model *domain.AxisModel, cfg domain.AssignmentConfig) (domain.MembershipVector, error) {
	if len(raw) != len(model.ScalerMean) {
		return nil, fmt.Errorf("feature vector has %d dims, model %s expects %d",
			len(raw), model.AxisName, len(model.ScalerMean))
	}
	if len(model.Segments) == 0 {
		return nil, fmt.Errorf("model %s has no segments", model.AxisName)
	}

	std := make([]float64, len(raw))
	for i := range raw {
		std[i] = (raw[i] - model.ScalerMean[i]) / model.ScalerScale[i]
	}

	sims := make([]float64, len(model.Segments))
	total := 0.0
	for i := range model.Segments {
		d := segmentDistance(std, &model.Segments[i])
		if cfg.Sigma > 0 {
			sims[i] = math.Exp(-d * d / (2 * cfg.Sigma * cfg.Sigma))
		} else {
			sims[i] = math.Exp(-d)
		}
		total += sims[i]
	}

	v := make(domain.MembershipVector, len(model.Segments))
	if total == 0 {
		// Degenerate: every similarity underflowed. Fall back to a
		// uniform distribution so closure still holds.
		uniform := 1.0 / float64(len(model.Segments))
		for i := range model.Segments {
			v[model.Segments[i].Name] = uniform
		}
		return v, nil
	}

	for i := range model.Segments {
		v[model.Segments[i].Name] = sims[i] / total
	}
	return v, nil
}

// segmentDistance computes the distance from a standardized point to a
// segment's center: Mahalanobis when the segment carries a usable
// covariance, Euclidean otherwise.
func segmentDistance(std []float64, seg *domain.Segment) float64 {
	delta := make([]float64, len(std))
	floats.SubTo(delta, std, seg.Center)

	if len(seg.Covariance) == len(std) {
		if d, ok := mahalanobis(delta, seg.Covariance); ok {
			return d
		}
	}
	return floats.Norm(delta, 2)
}

// mahalanobis computes sqrt(deltaᵀ Σ⁻¹ delta) via Cholesky. Returns
// ok=false for singular covariance so the caller falls back to
// Euclidean.
func mahalanobis(delta []float64, covariance [][]float64) (float64, bool) {
	n := len(delta)
	sym := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			sym.SetSym(i, j, covariance[i][j])
		}
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(sym); !ok {
		return 0, false
	}

	dv := mat.NewVecDense(n, delta)
	var solved mat.VecDense
	if err := chol.SolveVecTo(&solved, dv); err != nil {
		return 0, false
	}

	d2 := mat.Dot(dv, &solved)
	if d2 < 0 {
		d2 = 0 // float noise near zero
	}
	return math.Sqrt(d2), true
}
