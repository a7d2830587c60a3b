package sampler

import (
	"errors"
	"fmt"
	"testing"

	"github.com/opensource-analytics/harrier/internal/domain"
)

func validConfig() domain.SamplerConfig {
	return domain.SamplerConfig{
		Tiers: []domain.SamplerTier{
			{Name: "top", Fraction: 0.05, Allocation: 400},
			{Name: "high", Fraction: 0.15, Allocation: 500},
			{Name: "middle", Fraction: 0.60, Allocation: 600},
			{Name: "bottom", Fraction: 0.20, Allocation: 400},
		},
		Confidence: 0.99,
		Margin:     0.03,
		Seed:       42,
	}
}

// population builds n subjects with strictly decreasing value so the
// tier partition is unambiguous.
func population(n int) []domain.SubjectValue {
	out := make([]domain.SubjectValue, n)
	for i := 0; i < n; i++ {
		out[i] = domain.SubjectValue{
			SubjectID:       fmt.Sprintf("cust-%05d", i),
			CumulativeValue: float64(n - i),
			EventCount:      int64(i%10 + 1),
		}
	}
	return out
}

func TestNew(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		if _, err := New(validConfig()); err != nil {
			t.Fatalf("valid config rejected: %v", err)
		}
	})

	t.Run("FractionsMustSumToOne", func(t *testing.T) {
		cfg := validConfig()
		cfg.Tiers[0].Fraction = 0.5
		if _, err := New(cfg); !errors.Is(err, domain.ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig, got %v", err)
		}
	})

	t.Run("ZeroAllocationRejected", func(t *testing.T) {
		cfg := validConfig()
		cfg.Tiers[1].Allocation = 0
		if _, err := New(cfg); !errors.Is(err, domain.ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig, got %v", err)
		}
	})

	t.Run("NoTiersRejected", func(t *testing.T) {
		cfg := validConfig()
		cfg.Tiers = nil
		if _, err := New(cfg); !errors.Is(err, domain.ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig, got %v", err)
		}
	})

	t.Run("BelowStatisticalFloorRejected", func(t *testing.T) {
		cfg := validConfig()
		cfg.Tiers = []domain.SamplerTier{
			{Name: "all", Fraction: 1.0, Allocation: 100}, // floor at 99%/±3% is 1844
		}
		if _, err := New(cfg); !errors.Is(err, domain.ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig, got %v", err)
		}
	})
}

func TestFloor(t *testing.T) {
	cases := []struct {
		confidence float64
		margin     float64
		want       int
	}{
		{0.99, 0.03, 1844},
		{0.95, 0.05, 385},
	}
	for _, tc := range cases {
		s := &Sampler{cfg: domain.SamplerConfig{Confidence: tc.confidence, Margin: tc.margin}}
		if got := s.Floor(); got != tc.want {
			t.Errorf("Floor(%.2f, %.2f) = %d, want %d", tc.confidence, tc.margin, got, tc.want)
		}
	}
}

func TestSample(t *testing.T) {
	s, err := New(validConfig())
	if err != nil {
		t.Fatal(err)
	}

	t.Run("PopulationBelowFloorRefused", func(t *testing.T) {
		_, err := s.Sample(population(100))
		if !errors.Is(err, domain.ErrInsufficientData) {
			t.Errorf("expected ErrInsufficientData, got %v", err)
		}
	})

	t.Run("DrawMatchesAllocations", func(t *testing.T) {
		pop := population(10000)
		sample, err := s.Sample(pop)
		if err != nil {
			t.Fatalf("Sample failed: %v", err)
		}
		cfg := validConfig()
		if len(sample) != cfg.TargetSize() {
			t.Errorf("drew %d, want %d", len(sample), cfg.TargetSize())
		}

		counts := s.TierCounts(pop, sample)
		for _, tier := range validConfig().Tiers {
			if counts[tier.Name] != tier.Allocation {
				t.Errorf("tier %s drew %d, want %d", tier.Name, counts[tier.Name], tier.Allocation)
			}
		}
	})

	t.Run("SampleIsUnique", func(t *testing.T) {
		sample, err := s.Sample(population(10000))
		if err != nil {
			t.Fatal(err)
		}
		seen := make(map[string]bool, len(sample))
		for _, id := range sample {
			if seen[id] {
				t.Fatalf("duplicate subject in sample: %s", id)
			}
			seen[id] = true
		}
	})

	t.Run("SameSeedIsReproducible", func(t *testing.T) {
		pop := population(5000)
		a, err := s.Sample(pop)
		if err != nil {
			t.Fatal(err)
		}
		b, err := s.Sample(pop)
		if err != nil {
			t.Fatal(err)
		}
		if len(a) != len(b) {
			t.Fatalf("sample sizes differ: %d vs %d", len(a), len(b))
		}
		for i := range a {
			if a[i] != b[i] {
				t.Fatalf("samples diverge at %d: %s vs %s", i, a[i], b[i])
			}
		}
	})

	t.Run("DifferentSeedDiffers", func(t *testing.T) {
		cfg := validConfig()
		cfg.Seed = 7
		other, err := New(cfg)
		if err != nil {
			t.Fatal(err)
		}
		pop := population(5000)
		a, _ := s.Sample(pop)
		b, _ := other.Sample(pop)

		same := true
		for i := range a {
			if a[i] != b[i] {
				same = false
				break
			}
		}
		if same {
			t.Error("different seeds produced identical samples")
		}
	})

	t.Run("SmallTierDrawsEveryMember", func(t *testing.T) {
		// 2000 subjects: top tier holds 100, allocation asks for 400.
		pop := population(2000)
		sample, err := s.Sample(pop)
		if err != nil {
			t.Fatal(err)
		}
		counts := s.TierCounts(pop, sample)
		if counts["top"] != 100 {
			t.Errorf("top tier drew %d, want all 100 members", counts["top"])
		}
	})
}
