package drift

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-analytics/harrier/internal/domain"
)

// Service captures membership snapshots at configured resolutions and
// computes drift reports from them.
type Service struct {
	repo     domain.Repository
	bus      domain.EventBus
	driftCfg domain.DriftConfig
	snapCfg  domain.SnapshotConfig
}

// NewService creates a drift service. The bus is optional.
func NewService(repo domain.Repository, bus domain.EventBus, driftCfg domain.DriftConfig, snapCfg domain.SnapshotConfig) *Service {
	return &Service{
		repo:     repo,
		bus:      bus,
		driftCfg: driftCfg,
		snapCfg:  snapCfg,
	}
}

// CaptureSnapshots writes a snapshot of the profile at every resolution
// whose cadence has elapsed since the last capture. A resolution with
// no prior snapshot always captures. Returns the snapshots written.
func (s *Service) CaptureSnapshots(ctx context.Context, tenantID string, profile *domain.SubjectProfile, now time.Time) ([]*domain.Snapshot, error) {
	if profile == nil {
		return nil, fmt.Errorf("profile is required")
	}

	var taken []*domain.Snapshot
	for _, resolution := range s.snapCfg.ResolutionDays {
		existing, err := s.repo.GetSnapshots(ctx, tenantID, profile.SubjectID, resolution)
		if err != nil {
			return taken, fmt.Errorf("failed to load snapshots at %dd: %w", resolution, err)
		}
		if len(existing) > 0 {
			due := existing[0].TakenAt.AddDate(0, 0, resolution)
			if now.Before(due) {
				continue
			}
		}

		snap := snapshotOf(tenantID, profile, resolution, now)
		if err := s.repo.SaveSnapshot(ctx, tenantID, snap); err != nil {
			return taken, fmt.Errorf("failed to save snapshot at %dd: %w", resolution, err)
		}
		taken = append(taken, snap)

		if s.bus != nil {
			payload, _ := json.Marshal(snap)
			if err := s.bus.Publish(ctx, tenantID, domain.TopicSnapshotTaken, payload); err != nil {
				slog.Error("failed to publish snapshot event",
					"subject_id", profile.SubjectID,
					"resolution", resolution,
					"error", err,
				)
			}
		}
	}

	if len(taken) > 0 {
		slog.Debug("snapshots captured",
			"subject_id", profile.SubjectID,
			"tenant_id", tenantID,
			"count", len(taken),
		)
	}
	return taken, nil
}

func snapshotOf(tenantID string, profile *domain.SubjectProfile, resolution int, now time.Time) *domain.Snapshot {
	memberships := make(map[string]domain.MembershipVector, len(profile.Axes))
	for axis, am := range profile.Axes {
		memberships[axis] = am.Memberships
	}
	return &domain.Snapshot{
		ID:               uuid.New().String(),
		TenantID:         tenantID,
		SubjectID:        profile.SubjectID,
		Resolution:       resolution,
		TakenAt:          now.UTC(),
		Memberships:      memberships,
		DominantSegments: profile.DominantSegments(),
		ArchetypeID:      profile.ArchetypeID,
		EventCount:       profile.EventCount,
		CumulativeValue:  profile.CumulativeValue,
		TenureDays:       profile.TenureDays,
	}
}

// ComputeDrift builds, persists, and returns a drift report for the
// subject from its two newest short-horizon snapshots. The trend field
// compares against the long horizon when enough history exists there.
// Returns ErrInsufficientData when fewer than two short-horizon
// snapshots exist.
func (s *Service) ComputeDrift(ctx context.Context, tenantID, subjectID string) (*domain.DriftReport, error) {
	short, err := s.repo.GetSnapshots(ctx, tenantID, subjectID, s.driftCfg.ShortHorizonDays)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshots: %w", err)
	}
	if len(short) < 2 {
		return nil, fmt.Errorf("subject %s has %d snapshot(s) at %dd: %w",
			subjectID, len(short), s.driftCfg.ShortHorizonDays, domain.ErrInsufficientData)
	}

	// Snapshots come back newest-first.
	report := Compute(short[1], short[0])

	long, err := s.repo.GetSnapshots(ctx, tenantID, subjectID, s.driftCfg.LongHorizonDays)
	if err == nil && len(long) >= 2 {
		longReport := Compute(long[1], long[0])
		report.Trend = Trend(report.Velocity, longReport.Velocity, s.driftCfg.TrendRatio)
	}

	state, streak, err := s.currentState(ctx, tenantID, subjectID)
	if err != nil {
		return nil, err
	}
	report.State, _ = NextState(state, streak, report.Velocity, report.Migrated, s.driftCfg)

	if err := s.repo.SaveDriftReport(ctx, tenantID, report); err != nil {
		return nil, fmt.Errorf("failed to save drift report: %w", err)
	}

	slog.Info("drift computed",
		"subject_id", subjectID,
		"tenant_id", tenantID,
		"magnitude", report.Magnitude,
		"velocity", report.Velocity,
		"state", report.State,
		"migrated", report.Migrated,
	)
	return report, nil
}

// currentState reconstructs the subject's drift state and calm streak
// from its recent reports, newest-first.
func (s *Service) currentState(ctx context.Context, tenantID, subjectID string) (string, int, error) {
	limit := s.driftCfg.SettleCount + 1
	if limit < 2 {
		limit = 2
	}
	reports, err := s.repo.GetDriftReports(ctx, tenantID, subjectID, limit)
	if err != nil {
		return "", 0, fmt.Errorf("failed to load drift reports: %w", err)
	}
	if len(reports) == 0 {
		return domain.DriftStateStable, 0, nil
	}

	state := reports[0].State
	streak := 0
	if state == domain.DriftStateMigrated {
		for _, r := range reports {
			if r.State != domain.DriftStateMigrated || r.Velocity > s.driftCfg.VelocityThreshold {
				break
			}
			// The flip report itself is not a calm observation; the
			// settle streak starts with the snapshot after it.
			if r.Migrated {
				break
			}
			streak++
		}
	}
	return state, streak, nil
}

// Reports returns the subject's most recent drift reports, newest-first.
func (s *Service) Reports(ctx context.Context, tenantID, subjectID string, limit int) ([]*domain.DriftReport, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.repo.GetDriftReports(ctx, tenantID, subjectID, limit)
}

// Prune deletes snapshots past each resolution's retention window and
// returns the total rows removed.
func (s *Service) Prune(ctx context.Context, tenantID string, now time.Time) (int64, error) {
	var total int64
	for _, resolution := range s.snapCfg.ResolutionDays {
		retention, ok := s.snapCfg.RetentionDays[resolution]
		if !ok || retention <= 0 {
			continue
		}
		cutoff := now.AddDate(0, 0, -retention)
		n, err := s.repo.PruneSnapshots(ctx, tenantID, resolution, cutoff)
		if err != nil {
			return total, fmt.Errorf("failed to prune %dd snapshots: %w", resolution, err)
		}
		total += n
	}
	if total > 0 {
		slog.Info("snapshots pruned", "tenant_id", tenantID, "removed", total)
	}
	return total, nil
}
