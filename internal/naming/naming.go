// Package naming provides the segment naming collaborator: an injected
// external service that turns cluster statistics into human-readable
// labels, with a deterministic rule-based fallback.
package naming

import (
	"context"
	"fmt"
)

// Request describes one discovered segment for naming. Centers are in
// original feature units, not standardized space.
type Request struct {
	Axis          string    `json:"axis"`
	Rank          int       `json:"rank"`
	FeatureNames  []string  `json:"featureNames"`
	Center        []float64 `json:"center"`
	MemberCount   int       `json:"memberCount"`
	PopulationPct float64   `json:"populationPct"`
}

// Result is the collaborator's answer.
type Result struct {
	Name           string `json:"name"`
	Interpretation string `json:"interpretation"`
}

// Service names discovered segments. Implementations must respect the
// context deadline; callers fall back to FallbackName on any error.
type Service interface {
	Name(ctx context.Context, req Request) (Result, error)
}

// FallbackName is the deterministic rule-based name used when the
// collaborator fails or none is configured.
func FallbackName(axis string, rank int) string {
	return fmt.Sprintf("%s_%d", axis, rank)
}

// Fallback is a Service that always answers with the rule-based name.
// Used for the "none" provider and as a test stub.
type Fallback struct{}

// Name implements Service.
func (Fallback) Name(_ context.Context, req Request) (Result, error) {
	return Result{Name: FallbackName(req.Axis, req.Rank)}, nil
}
