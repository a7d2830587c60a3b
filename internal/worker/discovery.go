package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-analytics/harrier/internal/discovery"
	"github.com/opensource-analytics/harrier/internal/domain"
	"github.com/opensource-analytics/harrier/internal/drift"
	"github.com/opensource-analytics/harrier/internal/features"
	"github.com/opensource-analytics/harrier/internal/sampler"
)

// DiscoveryRunner executes full discovery runs: sample the population,
// extract features, and refit every axis. Axis failures are isolated;
// a skipped axis keeps its prior model.
type DiscoveryRunner struct {
	repo     domain.Repository
	bus      domain.EventBus
	features *features.Service
	sampler  *sampler.Sampler
	engine   *discovery.Engine
	cfg      domain.DiscoveryConfig
}

// NewDiscoveryRunner creates a discovery runner. The bus is optional.
func NewDiscoveryRunner(repo domain.Repository, bus domain.EventBus, feat *features.Service, smp *sampler.Sampler, engine *discovery.Engine, cfg domain.DiscoveryConfig) *DiscoveryRunner {
	return &DiscoveryRunner{
		repo:     repo,
		bus:      bus,
		features: feat,
		sampler:  smp,
		engine:   engine,
		cfg:      cfg,
	}
}

// Run performs one discovery run and persists its summary. The run ID
// doubles as the model version for every axis it fits, so a profile can
// always be traced back to the run that shaped it.
func (r *DiscoveryRunner) Run(ctx context.Context, tenantID string, asOf time.Time) (*domain.DiscoveryRun, error) {
	runID := uuid.New().String()
	started := time.Now().UTC()

	population, err := r.repo.ListSubjectValues(ctx, tenantID, asOf)
	if err != nil {
		return nil, fmt.Errorf("failed to list population: %w", err)
	}

	sample, err := r.sampler.Sample(population)
	if err != nil {
		return nil, fmt.Errorf("sampling failed: %w", err)
	}

	slog.Info("discovery run started",
		"run_id", runID,
		"tenant_id", tenantID,
		"population", len(population),
		"sample_size", len(sample),
	)

	// One pass over the sample fills every axis's design matrix.
	axes := r.features.Extractor().Axes()
	byAxis := make(map[string][][]float64, len(axes))
	for _, subjectID := range sample {
		vectors, _, err := r.features.SubjectVectors(ctx, tenantID, subjectID, asOf)
		if err != nil {
			slog.Warn("feature extraction failed for sampled subject",
				"subject_id", subjectID,
				"error", err,
			)
			continue
		}
		for axis, vec := range vectors {
			byAxis[axis] = append(byAxis[axis], vec)
		}
	}

	run := &domain.DiscoveryRun{
		ID:         runID,
		TenantID:   tenantID,
		StartedAt:  started,
		SampleSize: len(sample),
	}

	// Fit axes concurrently, bounded by MaxConcurrentAxes.
	limit := r.cfg.MaxConcurrentAxes
	if limit <= 0 {
		limit = 1
	}
	sem := make(chan struct{}, limit)

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, axis := range axes {
		wg.Add(1)
		go func(axis domain.AxisConfig) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			model, err := r.engine.FitAxis(ctx, tenantID, axis, byAxis[axis.Name], runID)
			if err == nil {
				err = r.repo.SaveAxisModel(ctx, tenantID, model)
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				slog.Warn("axis skipped",
					"run_id", runID,
					"axis", axis.Name,
					"error", err,
				)
				run.AxesSkipped = append(run.AxesSkipped, domain.SkippedAxis{
					Axis:   axis.Name,
					Reason: err.Error(),
				})
				return
			}
			run.AxesSucceeded = append(run.AxesSucceeded, axis.Name)
		}(axis)
	}
	wg.Wait()

	sort.Strings(run.AxesSucceeded)
	sort.Slice(run.AxesSkipped, func(i, j int) bool {
		return run.AxesSkipped[i].Axis < run.AxesSkipped[j].Axis
	})
	run.EndedAt = time.Now().UTC()

	if err := r.repo.SaveDiscoveryRun(ctx, tenantID, run); err != nil {
		return nil, fmt.Errorf("failed to save discovery run: %w", err)
	}

	if r.bus != nil {
		payload, _ := json.Marshal(run)
		if err := r.bus.Publish(ctx, tenantID, domain.TopicDiscoveryCompleted, payload); err != nil {
			slog.Error("failed to publish discovery completion",
				"run_id", runID,
				"error", err,
			)
		}
	}

	slog.Info("discovery run completed",
		"run_id", runID,
		"tenant_id", tenantID,
		"axes_succeeded", len(run.AxesSucceeded),
		"axes_skipped", len(run.AxesSkipped),
		"duration_ms", run.EndedAt.Sub(run.StartedAt).Milliseconds(),
	)

	return run, nil
}

// SnapshotRunner walks every assigned profile, captures due snapshots,
// and prunes expired ones.
type SnapshotRunner struct {
	repo    domain.Repository
	drifter *drift.Service
}

// NewSnapshotRunner creates a snapshot runner.
func NewSnapshotRunner(repo domain.Repository, drifter *drift.Service) *SnapshotRunner {
	return &SnapshotRunner{repo: repo, drifter: drifter}
}

// Run captures due snapshots for every profile and prunes expired ones.
// Returns the number of snapshots captured and pruned.
func (s *SnapshotRunner) Run(ctx context.Context, tenantID string, now time.Time) (int, int64, error) {
	profiles, err := s.repo.ListProfiles(ctx, tenantID)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to list profiles: %w", err)
	}

	captured := 0
	for _, profile := range profiles {
		taken, err := s.drifter.CaptureSnapshots(ctx, tenantID, profile, now)
		if err != nil {
			slog.Error("snapshot capture failed",
				"subject_id", profile.SubjectID,
				"error", err,
			)
			continue
		}
		captured += len(taken)
	}

	pruned, err := s.drifter.Prune(ctx, tenantID, now)
	if err != nil {
		return captured, 0, err
	}

	slog.Info("snapshot run completed",
		"tenant_id", tenantID,
		"profiles", len(profiles),
		"captured", captured,
		"pruned", pruned,
	)
	return captured, pruned, nil
}
