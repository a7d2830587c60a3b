package assignment

import (
	"math"
	"testing"

	"github.com/opensource-analytics/harrier/internal/domain"
)

func twoSegmentModel() *domain.AxisModel {
	return &domain.AxisModel{
		AxisName:     "purchase_value",
		TenantID:     "tenant-001",
		Version:      "run-1",
		FeatureNames: []string{"avg_order_value", "max_order_value"},
		ScalerMean:   []float64{100, 200},
		ScalerScale:  []float64{50, 80},
		Segments: []domain.Segment{
			{Name: "Budget", Rank: 0, Center: []float64{-1, -1}},
			{Name: "Premium", Rank: 1, Center: []float64{1, 1}},
		},
	}
}

func TestMembership(t *testing.T) {
	cfg := domain.AssignmentConfig{}

	t.Run("SumsToOne", func(t *testing.T) {
		v, err := Membership([]float64{120, 260}, twoSegmentModel(), cfg)
		if err != nil {
			t.Fatal(err)
		}
		if math.Abs(v.Sum()-1.0) > 1e-12 {
			t.Errorf("membership mass = %v, want 1", v.Sum())
		}
		if len(v) != 2 {
			t.Errorf("got %d memberships, want 2", len(v))
		}
	})

	t.Run("NearestCenterDominates", func(t *testing.T) {
		// Raw vector standardizing to (1,1): exactly the Premium center.
		v, err := Membership([]float64{150, 280}, twoSegmentModel(), cfg)
		if err != nil {
			t.Fatal(err)
		}
		dom, strength := v.Dominant()
		if dom != "Premium" {
			t.Errorf("dominant = %s, want Premium", dom)
		}
		if strength <= v["Budget"] {
			t.Error("dominant membership must exceed the alternative")
		}
	})

	t.Run("EquidistantIsUniform", func(t *testing.T) {
		// Standardizes to the origin, equidistant from both centers.
		v, err := Membership([]float64{100, 200}, twoSegmentModel(), cfg)
		if err != nil {
			t.Fatal(err)
		}
		if math.Abs(v["Budget"]-v["Premium"]) > 1e-12 {
			t.Errorf("memberships = %v, want equal", v)
		}
	})

	t.Run("GaussianDecaySharpens", func(t *testing.T) {
		raw := []float64{140, 260}
		plain, err := Membership(raw, twoSegmentModel(), domain.AssignmentConfig{})
		if err != nil {
			t.Fatal(err)
		}
		gauss, err := Membership(raw, twoSegmentModel(), domain.AssignmentConfig{Sigma: 0.5})
		if err != nil {
			t.Fatal(err)
		}

		pd, _ := plain.Dominant()
		gd, _ := gauss.Dominant()
		if pd != gd {
			t.Fatalf("decay mode changed the dominant segment: %s vs %s", pd, gd)
		}
		if gauss[gd] <= plain[pd] {
			t.Errorf("narrow sigma should sharpen the distribution: %v vs %v", gauss[gd], plain[pd])
		}
	})

	t.Run("FartherFromCenterMeansStrictlyLess", func(t *testing.T) {
		// Walk a circle of radius 1 around the Premium center in
		// standardized space, starting near Budget and rotating away.
		// Distance to Premium stays fixed while distance to Budget
		// strictly grows, so Budget membership must strictly shrink.
		model := twoSegmentModel()
		angles := []float64{225, 195, 165, 135, 105}

		for _, sigma := range []float64{0, 0.5} {
			modeCfg := domain.AssignmentConfig{Sigma: sigma}
			prevBudget := math.Inf(1)
			prevDist := -1.0

			for _, deg := range angles {
				rad := deg * math.Pi / 180
				std := []float64{1 + math.Cos(rad), 1 + math.Sin(rad)}
				raw := []float64{
					std[0]*model.ScalerScale[0] + model.ScalerMean[0],
					std[1]*model.ScalerScale[1] + model.ScalerMean[1],
				}

				dPremium := segmentDistance(std, &model.Segments[1])
				if math.Abs(dPremium-1) > 1e-9 {
					t.Fatalf("distance to Premium moved: %v", dPremium)
				}
				dBudget := segmentDistance(std, &model.Segments[0])
				if dBudget <= prevDist {
					t.Fatalf("distance to Budget not increasing: %v after %v", dBudget, prevDist)
				}
				prevDist = dBudget

				v, err := Membership(raw, model, modeCfg)
				if err != nil {
					t.Fatal(err)
				}
				if v["Budget"] >= prevBudget {
					t.Errorf("sigma=%v: Budget membership %v did not strictly decrease from %v at %v°",
						sigma, v["Budget"], prevBudget, deg)
				}
				prevBudget = v["Budget"]
			}
		}
	})

	t.Run("DimensionMismatchErrors", func(t *testing.T) {
		if _, err := Membership([]float64{1}, twoSegmentModel(), cfg); err == nil {
			t.Error("expected error for wrong vector length")
		}
	})

	t.Run("NoSegmentsErrors", func(t *testing.T) {
		model := twoSegmentModel()
		model.Segments = nil
		if _, err := Membership([]float64{100, 200}, model, cfg); err == nil {
			t.Error("expected error for model without segments")
		}
	})

	t.Run("UnderflowFallsBackToUniform", func(t *testing.T) {
		model := twoSegmentModel()
		// Point astronomically far from both centers underflows exp.
		v, err := Membership([]float64{1e9, 1e9}, model, cfg)
		if err != nil {
			t.Fatal(err)
		}
		if math.Abs(v["Budget"]-0.5) > 1e-12 || math.Abs(v["Premium"]-0.5) > 1e-12 {
			t.Errorf("underflow fallback = %v, want uniform", v)
		}
	})

	t.Run("Deterministic", func(t *testing.T) {
		raw := []float64{137, 245}
		a, _ := Membership(raw, twoSegmentModel(), cfg)
		b, _ := Membership(raw, twoSegmentModel(), cfg)
		for seg := range a {
			if a[seg] != b[seg] {
				t.Fatalf("segment %s differs between identical calls", seg)
			}
		}
	})
}

func TestMahalanobisDistance(t *testing.T) {
	t.Run("AnisotropicCovarianceReshapesDistance", func(t *testing.T) {
		// Variance 9 along the first dim, 1 along the second: a
		// deviation along the first dim costs a third as much.
		seg := &domain.Segment{
			Name:   "A",
			Center: []float64{0, 0},
			Covariance: [][]float64{
				{9, 0},
				{0, 1},
			},
		}

		along := segmentDistance([]float64{3, 0}, seg)
		across := segmentDistance([]float64{0, 3}, seg)

		if math.Abs(along-1) > 1e-9 {
			t.Errorf("distance along wide axis = %v, want 1", along)
		}
		if math.Abs(across-3) > 1e-9 {
			t.Errorf("distance across narrow axis = %v, want 3", across)
		}
	})

	t.Run("SingularCovarianceFallsBackToEuclidean", func(t *testing.T) {
		seg := &domain.Segment{
			Name:   "A",
			Center: []float64{0, 0},
			Covariance: [][]float64{
				{1, 1},
				{1, 1},
			},
		}
		d := segmentDistance([]float64{3, 4}, seg)
		if math.Abs(d-5) > 1e-9 {
			t.Errorf("fallback distance = %v, want Euclidean 5", d)
		}
	})

	t.Run("NilCovarianceIsEuclidean", func(t *testing.T) {
		seg := &domain.Segment{Name: "A", Center: []float64{1, 1}}
		d := segmentDistance([]float64{4, 5}, seg)
		if math.Abs(d-5) > 1e-9 {
			t.Errorf("distance = %v, want 5", d)
		}
	})
}
