package discovery

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math/rand"
	"time"

	"github.com/opensource-analytics/harrier/internal/domain"
	"github.com/opensource-analytics/harrier/internal/naming"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Covariance matrices with a condition number above this fall back to
// identity distance for the segment.
const maxCondition = 1e8

// Engine fits axis models from sampled feature vectors. Axes are fit
// independently; a failure in one never affects another.
type Engine struct {
	cfg   domain.DiscoveryConfig
	namer naming.Service
}

// NewEngine creates a discovery engine. A nil namer means rule-based
// fallback names only.
func NewEngine(cfg domain.DiscoveryConfig, namer naming.Service) *Engine {
	if namer == nil {
		namer = naming.Fallback{}
	}
	return &Engine{cfg: cfg, namer: namer}
}

// FitAxis produces a fitted model for one axis from its sampled feature
// vectors. The returned model carries the persisted scaler, segment
// centers, optional covariance, and the selected partition's quality
// score. Insufficient or degenerate samples return a typed error the
// caller handles per axis.
func (e *Engine) FitAxis(ctx context.Context, tenantID string, axis domain.AxisConfig, samples [][]float64, version string) (*domain.AxisModel, error) {
	if len(samples) < e.cfg.MinSampleSize {
		return nil, fmt.Errorf("%w: axis %s: %d samples, need %d",
			domain.ErrInsufficientData, axis.Name, len(samples), e.cfg.MinSampleSize)
	}

	scaler, err := FitScaler(samples)
	if err != nil {
		return nil, fmt.Errorf("axis %s: %w", axis.Name, err)
	}
	std := scaler.TransformAll(samples)

	best, bestK, bestScore := e.selectK(axis.Name, std)
	if best == nil {
		return nil, fmt.Errorf("%w: axis %s: no valid partition in k range",
			domain.ErrDegenerateModel, axis.Name)
	}

	model := &domain.AxisModel{
		AxisName:     axis.Name,
		TenantID:     tenantID,
		Version:      version,
		FittedAt:     time.Now().UTC(),
		FeatureNames: axis.FeatureNames(),
		ScalerMean:   scaler.Mean,
		ScalerScale:  scaler.Scale,
		Quality:      bestScore,
		LowQuality:   bestScore < e.cfg.MinQuality,
		SampleSize:   len(samples),
	}

	model.Segments = e.buildSegments(ctx, axis, scaler, std, best, bestK)

	if model.LowQuality {
		slog.Warn("axis fit below quality floor",
			"axis", axis.Name,
			"quality", bestScore,
			"floor", e.cfg.MinQuality,
			"k", bestK,
		)
	}

	return model, nil
}

// selectK sweeps the configured cluster-count range and keeps the
// partition with the best silhouette score. Ties prefer the smaller k.
func (e *Engine) selectK(axisName string, std [][]float64) (*partition, int, float64) {
	rng := rand.New(rand.NewSource(e.axisSeed(axisName)))

	maxK := e.cfg.MaxClusters
	if maxK >= len(std) {
		maxK = len(std) - 1
	}

	var best *partition
	bestK := 0
	bestScore := -2.0
	for k := e.cfg.MinClusters; k <= maxK; k++ {
		var kBest *partition
		for r := 0; r < max(e.cfg.Restarts, 1); r++ {
			p := fitKMeans(std, k, e.cfg.MaxIterations, rng)
			if kBest == nil || p.inertia < kBest.inertia {
				kBest = &p
			}
		}
		score := silhouette(std, kBest.labels, k)
		slog.Debug("candidate partition scored",
			"axis", axisName,
			"k", k,
			"silhouette", score,
		)
		if score > bestScore {
			best, bestK, bestScore = kBest, k, score
		}
	}
	return best, bestK, bestScore
}

// buildSegments assembles named segments from the winning partition,
// ranked by member count. Covariance is fit per segment when enabled
// and well-conditioned; otherwise the segment keeps identity distance.
func (e *Engine) buildSegments(ctx context.Context, axis domain.AxisConfig, scaler *Scaler, std [][]float64, p *partition, k int) []domain.Segment {
	counts := make([]int, k)
	for _, l := range p.labels {
		counts[l]++
	}

	// Rank clusters largest-first so segment_0 is always the most
	// populous, keeping fallback names meaningful across runs.
	order := make([]int, k)
	for i := range order {
		order[i] = i
	}
	for i := 0; i < k; i++ {
		for j := i + 1; j < k; j++ {
			if counts[order[j]] > counts[order[i]] {
				order[i], order[j] = order[j], order[i]
			}
		}
	}

	segments := make([]domain.Segment, 0, k)
	used := make(map[string]bool, k)
	for rank, c := range order {
		seg := domain.Segment{
			Rank:          rank,
			Center:        p.centers[c],
			MemberCount:   counts[c],
			PopulationPct: float64(counts[c]) / float64(len(std)),
		}

		if e.cfg.FitCovariance {
			seg.Covariance = fitCovariance(std, p.labels, c, len(p.centers[c]))
		}

		res, err := e.namer.Name(ctx, naming.Request{
			Axis:          axis.Name,
			Rank:          rank,
			FeatureNames:  axis.FeatureNames(),
			Center:        scaler.Inverse(p.centers[c]),
			MemberCount:   seg.MemberCount,
			PopulationPct: seg.PopulationPct,
		})
		if err != nil || res.Name == "" || used[res.Name] {
			if err != nil {
				slog.Warn("segment naming failed, using fallback",
					"axis", axis.Name,
					"rank", rank,
					"error", err,
				)
			}
			res = naming.Result{Name: naming.FallbackName(axis.Name, rank)}
		}
		used[res.Name] = true
		seg.Name = res.Name
		seg.Interpretation = res.Interpretation

		segments = append(segments, seg)
	}
	return segments
}

// fitCovariance estimates one segment's covariance over its member
// rows. Returns nil (identity fallback) when the segment is too small
// or the matrix is singular or ill-conditioned.
func fitCovariance(std [][]float64, labels []int, cluster, dims int) [][]float64 {
	var members [][]float64
	for i, l := range labels {
		if l == cluster {
			members = append(members, std[i])
		}
	}
	if len(members) < dims+2 {
		return nil
	}

	rows := mat.NewDense(len(members), dims, nil)
	for i, m := range members {
		rows.SetRow(i, m)
	}
	cov := mat.NewSymDense(dims, nil)
	stat.CovarianceMatrix(cov, rows, nil)

	var chol mat.Cholesky
	if ok := chol.Factorize(cov); !ok {
		return nil
	}
	if chol.Cond() > maxCondition {
		return nil
	}

	out := make([][]float64, dims)
	for i := 0; i < dims; i++ {
		out[i] = make([]float64, dims)
		for j := 0; j < dims; j++ {
			out[i][j] = cov.At(i, j)
		}
	}
	return out
}

// axisSeed derives a per-axis deterministic seed so axes can be fit
// concurrently without sharing an RNG.
func (e *Engine) axisSeed(axisName string) int64 {
	h := fnv.New64a()
	h.Write([]byte(axisName))
	return e.cfg.Seed ^ int64(h.Sum64())
}
