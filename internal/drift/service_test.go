package drift

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/opensource-analytics/harrier/internal/domain"
	"github.com/opensource-analytics/harrier/internal/repository"
)

func newTestService(t *testing.T) (*Service, domain.Repository) {
	t.Helper()
	f, err := os.CreateTemp("", "harrier-drift-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp db: %v", err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: f.Name(),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	cfg := domain.DefaultConfig()
	return NewService(repo, nil, cfg.Drift, cfg.Snapshots), repo
}

func testProfile(subjectID string) *domain.SubjectProfile {
	return &domain.SubjectProfile{
		SubjectID:   subjectID,
		TenantID:    "tenant-001",
		ArchetypeID: "arch-1",
		Axes: map[string]domain.AxisMembership{
			"frequency": {
				Dominant:    "High",
				Memberships: domain.MembershipVector{"Low": 0.2, "High": 0.8},
			},
		},
		EventCount: 10,
		AssignedAt: time.Now().UTC(),
	}
}

func TestCaptureSnapshots(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	const tenant = "tenant-001"
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("FirstCaptureHitsEveryResolution", func(t *testing.T) {
		taken, err := svc.CaptureSnapshots(ctx, tenant, testProfile("cust-1"), now)
		if err != nil {
			t.Fatalf("CaptureSnapshots failed: %v", err)
		}
		if len(taken) != len(svc.snapCfg.ResolutionDays) {
			t.Errorf("captured %d snapshots, want %d", len(taken), len(svc.snapCfg.ResolutionDays))
		}
	})

	t.Run("RepeatCaptureIsCadenceGated", func(t *testing.T) {
		taken, err := svc.CaptureSnapshots(ctx, tenant, testProfile("cust-1"), now.Add(time.Hour))
		if err != nil {
			t.Fatalf("CaptureSnapshots failed: %v", err)
		}
		if len(taken) != 0 {
			t.Errorf("captured %d snapshots within the cadence window, want 0", len(taken))
		}
	})

	t.Run("ElapsedResolutionCapturesAgain", func(t *testing.T) {
		later := now.AddDate(0, 0, 7)
		taken, err := svc.CaptureSnapshots(ctx, tenant, testProfile("cust-1"), later)
		if err != nil {
			t.Fatalf("CaptureSnapshots failed: %v", err)
		}
		if len(taken) != 1 {
			t.Fatalf("captured %d snapshots after 7 days, want 1", len(taken))
		}
		if taken[0].Resolution != 7 {
			t.Errorf("captured resolution %d, want 7", taken[0].Resolution)
		}

		snaps, err := repo.GetSnapshots(ctx, tenant, "cust-1", 7)
		if err != nil {
			t.Fatalf("GetSnapshots failed: %v", err)
		}
		if len(snaps) != 2 {
			t.Errorf("stored %d snapshots at 7d, want 2", len(snaps))
		}
	})

	t.Run("NilProfileIsRejected", func(t *testing.T) {
		if _, err := svc.CaptureSnapshots(ctx, tenant, nil, now); err == nil {
			t.Error("expected error for nil profile")
		}
	})
}

func saveSnapshot(t *testing.T, repo domain.Repository, tenant, subject string, resolution int, takenAt time.Time, archetypeID string, high float64) {
	t.Helper()
	snap := &domain.Snapshot{
		ID:         fmt.Sprintf("%s-%d-%d", subject, resolution, takenAt.Unix()),
		TenantID:   tenant,
		SubjectID:  subject,
		Resolution: resolution,
		TakenAt:    takenAt,
		Memberships: map[string]domain.MembershipVector{
			"frequency": {"Low": 1 - high, "High": high},
		},
		DominantSegments: map[string]string{"frequency": segName(high)},
		ArchetypeID:      archetypeID,
	}
	if err := repo.SaveSnapshot(context.Background(), tenant, snap); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}
}

func segName(high float64) string {
	if high >= 0.5 {
		return "High"
	}
	return "Low"
}

func TestComputeDrift(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	const tenant = "tenant-001"
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	horizon := svc.driftCfg.ShortHorizonDays

	t.Run("NoSnapshotsIsInsufficientData", func(t *testing.T) {
		_, err := svc.ComputeDrift(ctx, tenant, "cust-none")
		if !errors.Is(err, domain.ErrInsufficientData) {
			t.Errorf("expected ErrInsufficientData, got %v", err)
		}
	})

	t.Run("SingleSnapshotIsInsufficientData", func(t *testing.T) {
		saveSnapshot(t, repo, tenant, "cust-one", horizon, base, "arch-1", 0.8)
		_, err := svc.ComputeDrift(ctx, tenant, "cust-one")
		if !errors.Is(err, domain.ErrInsufficientData) {
			t.Errorf("expected ErrInsufficientData, got %v", err)
		}
	})

	t.Run("UsesTwoNewestSnapshots", func(t *testing.T) {
		saveSnapshot(t, repo, tenant, "cust-drift", horizon, base, "arch-1", 0.8)
		saveSnapshot(t, repo, tenant, "cust-drift", horizon, base.AddDate(0, 0, horizon), "arch-1", 0.6)

		report, err := svc.ComputeDrift(ctx, tenant, "cust-drift")
		if err != nil {
			t.Fatalf("ComputeDrift failed: %v", err)
		}
		if report.Magnitude <= 0 {
			t.Error("expected non-zero magnitude")
		}
		if !report.FromTime.Equal(base) {
			t.Errorf("from time = %v, want oldest snapshot", report.FromTime)
		}
		if report.Migrated {
			t.Error("same archetype must not migrate")
		}

		stored, err := svc.Reports(ctx, tenant, "cust-drift", 5)
		if err != nil {
			t.Fatalf("Reports failed: %v", err)
		}
		if len(stored) != 1 {
			t.Fatalf("expected persisted report, got %d", len(stored))
		}
		if stored[0].ID != report.ID {
			t.Errorf("stored report %s, want %s", stored[0].ID, report.ID)
		}
	})

	t.Run("ArchetypeFlipMarksMigration", func(t *testing.T) {
		saveSnapshot(t, repo, tenant, "cust-mig", horizon, base, "arch-1", 0.9)
		saveSnapshot(t, repo, tenant, "cust-mig", horizon, base.AddDate(0, 0, horizon), "arch-2", 0.1)

		report, err := svc.ComputeDrift(ctx, tenant, "cust-mig")
		if err != nil {
			t.Fatalf("ComputeDrift failed: %v", err)
		}
		if !report.Migrated {
			t.Fatal("expected migration")
		}
		if report.State != domain.DriftStateMigrated {
			t.Errorf("state = %s, want MIGRATED", report.State)
		}
		if len(report.AxesChanged) != 1 || report.AxesChanged[0].Axis != "frequency" {
			t.Errorf("unexpected changed axes: %+v", report.AxesChanged)
		}
	})
}

func saveReport(t *testing.T, repo domain.Repository, tenant, subject string, at time.Time, state string, migrated bool, velocity float64) {
	t.Helper()
	report := &domain.DriftReport{
		ID:         fmt.Sprintf("report-%s-%d", subject, at.Unix()),
		TenantID:   tenant,
		SubjectID:  subject,
		FromTime:   at.AddDate(0, 0, -7),
		ToTime:     at,
		Velocity:   velocity,
		Migrated:   migrated,
		State:      state,
		ComputedAt: at,
	}
	if err := repo.SaveDriftReport(context.Background(), tenant, report); err != nil {
		t.Fatalf("failed to save drift report: %v", err)
	}
}

func TestSettleStreak(t *testing.T) {
	ctx := context.Background()
	const tenant = "tenant-001"
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	t.Run("MigrationReportIsNotACalmObservation", func(t *testing.T) {
		svc, repo := newTestService(t)

		// A calm flip followed by one genuinely calm snapshot. Settling
		// needs SettleCount consecutive calm snapshots after the flip,
		// so the flip report itself must not count toward the streak.
		saveReport(t, repo, tenant, "cust-settle", base, domain.DriftStateMigrated, true, 0)
		saveReport(t, repo, tenant, "cust-settle", base.AddDate(0, 0, 7), domain.DriftStateMigrated, false, 0)

		state, streak, err := svc.currentState(ctx, tenant, "cust-settle")
		if err != nil {
			t.Fatalf("currentState failed: %v", err)
		}
		if state != domain.DriftStateMigrated {
			t.Errorf("state = %s, want MIGRATED", state)
		}
		if streak != 1 {
			t.Errorf("calm streak = %d, want 1", streak)
		}

		// The next calm snapshot brings the streak to 2, still short of
		// the default settle count of 3.
		next, _ := NextState(state, streak, 0, false, svc.driftCfg)
		if next != domain.DriftStateMigrated {
			t.Errorf("settled after %d calm snapshots, want %d required", streak+1, svc.driftCfg.SettleCount)
		}
	})

	t.Run("FullStreakSettles", func(t *testing.T) {
		svc, repo := newTestService(t)

		saveReport(t, repo, tenant, "cust-calm", base, domain.DriftStateMigrated, true, 0)
		saveReport(t, repo, tenant, "cust-calm", base.AddDate(0, 0, 7), domain.DriftStateMigrated, false, 0)
		saveReport(t, repo, tenant, "cust-calm", base.AddDate(0, 0, 14), domain.DriftStateMigrated, false, 0)

		state, streak, err := svc.currentState(ctx, tenant, "cust-calm")
		if err != nil {
			t.Fatalf("currentState failed: %v", err)
		}
		if streak != 2 {
			t.Errorf("calm streak = %d, want 2", streak)
		}

		next, _ := NextState(state, streak, 0, false, svc.driftCfg)
		if next != domain.DriftStateStable {
			t.Errorf("state = %s, want STABLE after the third calm snapshot", next)
		}
	})

	t.Run("TurbulentFlipYieldsNoStreak", func(t *testing.T) {
		svc, repo := newTestService(t)

		saveReport(t, repo, tenant, "cust-turb", base, domain.DriftStateMigrated, true, 0.5)

		state, streak, err := svc.currentState(ctx, tenant, "cust-turb")
		if err != nil {
			t.Fatalf("currentState failed: %v", err)
		}
		if state != domain.DriftStateMigrated || streak != 0 {
			t.Errorf("state/streak = %s/%d, want MIGRATED/0", state, streak)
		}
	})
}

func TestPrune(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	const tenant = "tenant-001"
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	retention := svc.snapCfg.RetentionDays[7]
	saveSnapshot(t, repo, tenant, "cust-old", 7, now.AddDate(0, 0, -retention-1), "arch-1", 0.5)
	saveSnapshot(t, repo, tenant, "cust-old", 7, now.AddDate(0, 0, -1), "arch-1", 0.5)

	pruned, err := svc.Prune(ctx, tenant, now)
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if pruned != 1 {
		t.Errorf("pruned %d snapshots, want 1", pruned)
	}

	snaps, err := repo.GetSnapshots(ctx, tenant, "cust-old", 7)
	if err != nil {
		t.Fatalf("GetSnapshots failed: %v", err)
	}
	if len(snaps) != 1 {
		t.Errorf("expected 1 surviving snapshot, got %d", len(snaps))
	}
}
