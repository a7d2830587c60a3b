// Package sampler draws value-stratified population samples for
// discovery runs.
package sampler

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/opensource-analytics/harrier/internal/domain"
	"gonum.org/v1/gonum/stat/distuv"
)

// Sampler draws a reproducible, value-stratified subset of the subject
// population. The same seed and population snapshot always produce the
// same sample.
type Sampler struct {
	cfg domain.SamplerConfig
}

// New validates the sampling configuration and returns a sampler.
// Configurations below the statistical floor are rejected here, before
// any clustering is attempted.
func New(cfg domain.SamplerConfig) (*Sampler, error) {
	if len(cfg.Tiers) == 0 {
		return nil, fmt.Errorf("%w: at least one sampling tier is required", domain.ErrInvalidConfig)
	}
	var fractions float64
	for _, t := range cfg.Tiers {
		if t.Fraction <= 0 || t.Fraction > 1 {
			return nil, fmt.Errorf("%w: tier %s fraction out of (0,1]", domain.ErrInvalidConfig, t.Name)
		}
		if t.Allocation <= 0 {
			return nil, fmt.Errorf("%w: tier %s allocation must be positive", domain.ErrInvalidConfig, t.Name)
		}
		fractions += t.Fraction
	}
	if math.Abs(fractions-1.0) > 1e-9 {
		return nil, fmt.Errorf("%w: tier fractions sum to %.4f, want 1.0", domain.ErrInvalidConfig, fractions)
	}
	if cfg.Confidence <= 0 || cfg.Confidence >= 1 {
		return nil, fmt.Errorf("%w: confidence out of (0,1)", domain.ErrInvalidConfig)
	}
	if cfg.Margin <= 0 || cfg.Margin >= 1 {
		return nil, fmt.Errorf("%w: margin out of (0,1)", domain.ErrInvalidConfig)
	}

	s := &Sampler{cfg: cfg}
	if target, floor := cfg.TargetSize(), s.Floor(); target < floor {
		return nil, fmt.Errorf("%w: sample size %d below statistical floor %d for %.0f%%/±%.0f%%",
			domain.ErrInvalidConfig, target, floor,
			cfg.Confidence*100, cfg.Margin*100)
	}
	return s, nil
}

// Floor returns the minimum total sample size for the configured
// confidence and margin, at maximum variance (p = 0.5):
// n = z² · 0.25 / e². 99%/±3% → 1844, 95%/±5% → 385.
func (s *Sampler) Floor() int {
	z := distuv.Normal{Mu: 0, Sigma: 1}.Quantile(1 - (1-s.cfg.Confidence)/2)
	return int(math.Ceil(z * z * 0.25 / (s.cfg.Margin * s.cfg.Margin)))
}

// Sample partitions the population into value tiers and draws each
// tier's configured allocation without replacement. Returned IDs are
// unique. Populations smaller than the statistical floor are refused.
func (s *Sampler) Sample(population []domain.SubjectValue) ([]string, error) {
	floor := s.Floor()
	if len(population) < floor {
		return nil, fmt.Errorf("%w: population of %d below statistical floor %d",
			domain.ErrInsufficientData, len(population), floor)
	}

	// Rank by the monotonic value metric, ties broken by subject ID so
	// the partition is deterministic.
	ranked := make([]domain.SubjectValue, len(population))
	copy(ranked, population)
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].CumulativeValue != ranked[j].CumulativeValue {
			return ranked[i].CumulativeValue > ranked[j].CumulativeValue
		}
		return ranked[i].SubjectID < ranked[j].SubjectID
	})

	rng := rand.New(rand.NewSource(s.cfg.Seed))

	var out []string
	start := 0
	for i, tier := range s.cfg.Tiers {
		size := int(math.Round(tier.Fraction * float64(len(ranked))))
		if i == len(s.cfg.Tiers)-1 {
			size = len(ranked) - start // last tier absorbs rounding
		}
		end := start + size
		if end > len(ranked) {
			end = len(ranked)
		}
		members := ranked[start:end]
		start = end

		draw := tier.Allocation
		if draw > len(members) {
			draw = len(members)
		}
		for _, idx := range rng.Perm(len(members))[:draw] {
			out = append(out, members[idx].SubjectID)
		}
	}

	return out, nil
}

// TierCounts reports, for a drawn sample, how many IDs fall in each
// tier of the given population. Used for run summaries and tests.
func (s *Sampler) TierCounts(population []domain.SubjectValue, sample []string) map[string]int {
	ranked := make([]domain.SubjectValue, len(population))
	copy(ranked, population)
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].CumulativeValue != ranked[j].CumulativeValue {
			return ranked[i].CumulativeValue > ranked[j].CumulativeValue
		}
		return ranked[i].SubjectID < ranked[j].SubjectID
	})

	tierOf := make(map[string]string, len(ranked))
	start := 0
	for i, tier := range s.cfg.Tiers {
		size := int(math.Round(tier.Fraction * float64(len(ranked))))
		if i == len(s.cfg.Tiers)-1 {
			size = len(ranked) - start
		}
		end := start + size
		if end > len(ranked) {
			end = len(ranked)
		}
		for _, sv := range ranked[start:end] {
			tierOf[sv.SubjectID] = tier.Name
		}
		start = end
	}

	counts := make(map[string]int, len(s.cfg.Tiers))
	for _, id := range sample {
		counts[tierOf[id]]++
	}
	return counts
}
