// Package archetype composes per-axis dominant segments into composite
// archetype signatures and maintains their observed population.
package archetype

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/opensource-analytics/harrier/internal/domain"
)

// Rolling window for the per-archetype assignment counter kept in
// cache. Durable counts live in the repository.
const counterWindow = 24 * time.Hour

// Composer materializes observed archetypes and updates their running
// statistics. Only tuples actually seen are ever created; the
// combinatorial space is never pre-enumerated.
type Composer struct {
	repo  domain.Repository
	cache domain.Cache
}

// NewComposer creates a new archetype composer.
func NewComposer(repo domain.Repository, cache domain.Cache) *Composer {
	return &Composer{repo: repo, cache: cache}
}

// Compose looks up or creates the archetype for a profile's
// dominant-segment tuple and keeps its population statistics counting
// subjects, not assignments. A subject is folded in on its first
// sighting of an archetype, left untouched when it reassigns into the
// same one, and moved when it migrates: unfolded from the previous
// archetype using the values it last contributed, folded into the new.
// prev is the subject's profile before this assignment, nil on first
// assignment. The cache counter still tracks raw assignment volume.
func (c *Composer) Compose(ctx context.Context, tenantID string, profile *domain.SubjectProfile, prev *domain.SubjectProfile) (*domain.Archetype, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	dominant := profile.DominantSegments()
	if len(dominant) == 0 {
		return nil, fmt.Errorf("profile has no axis memberships")
	}

	key := domain.ArchetypeKey(dominant)
	id := domain.ArchetypeID(key)

	var arch *domain.Archetype
	var err error
	if prev != nil && prev.ArchetypeID == id {
		// Re-sighting of the archetype the subject is already counted
		// in; the statistics do not move.
		arch, err = c.repo.GetArchetype(ctx, tenantID, id)
		if err != nil {
			return nil, fmt.Errorf("failed to load archetype: %w", err)
		}
	} else {
		arch, err = c.repo.UpsertArchetype(ctx, tenantID, key, dominant, profile.CumulativeValue, profile.TenureDays)
		if err != nil {
			return nil, fmt.Errorf("failed to upsert archetype: %w", err)
		}
		if prev != nil && prev.ArchetypeID != "" {
			if rmErr := c.repo.RemoveArchetypeMember(ctx, tenantID, prev.ArchetypeID, prev.CumulativeValue, prev.TenureDays); rmErr != nil {
				slog.Warn("failed to unfold subject from previous archetype",
					"subject_id", profile.SubjectID,
					"archetype_id", prev.ArchetypeID,
					"error", rmErr,
				)
			}
		}
	}

	if c.cache != nil {
		if n, err := c.cache.IncrementCounter(ctx, tenantID, "archetype:"+arch.ID, counterWindow); err == nil {
			slog.Debug("archetype assignment counted",
				"archetype_id", arch.ID,
				"recent_count", n,
			)
		}
	}

	return arch, nil
}

// Classify labels a membership pattern for confidence reporting:
// "strong" when the top membership clears the strong threshold,
// "balanced" when the top two both clear the balanced threshold,
// "weak" otherwise. Not used for archetype key construction.
func Classify(v domain.MembershipVector, strongThreshold, balancedThreshold float64) string {
	if len(v) == 0 {
		return domain.StrengthWeak
	}

	vals := make([]float64, 0, len(v))
	for _, m := range v {
		vals = append(vals, m)
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(vals)))

	if vals[0] > strongThreshold {
		return domain.StrengthStrong
	}
	if len(vals) > 1 && vals[0] > balancedThreshold && vals[1] > balancedThreshold {
		return domain.StrengthBalanced
	}
	return domain.StrengthWeak
}
