package assignment

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-analytics/harrier/internal/archetype"
	"github.com/opensource-analytics/harrier/internal/domain"
	"github.com/opensource-analytics/harrier/internal/features"
	"github.com/opensource-analytics/harrier/internal/scores"
)

// Service runs the assignment pipeline for one subject: history →
// feature vectors → per-axis memberships → archetype → derived scores
// → persisted profile. It only reads persisted axis models and the
// subject's own history, so it is safe to invoke concurrently for many
// subjects.
type Service struct {
	features *features.Service
	repo     domain.Repository
	cache    domain.Cache
	bus      domain.EventBus
	composer *archetype.Composer
	scores   *scores.Engine
	cfg      domain.AssignmentConfig
}

// NewService creates an assignment service. Bus and scores may be nil
// (no events published, no derived scores computed).
func NewService(feat *features.Service, repo domain.Repository, cache domain.Cache, bus domain.EventBus, composer *archetype.Composer, scoreEngine *scores.Engine, cfg domain.AssignmentConfig) *Service {
	return &Service{
		features: feat,
		repo:     repo,
		cache:    cache,
		bus:      bus,
		composer: composer,
		scores:   scoreEngine,
		cfg:      cfg,
	}
}

// AssignSubject computes and persists a fresh profile for one subject
// as of the reference time. Thin history yields an explicit Ungrouped
// result, never an error; errors are reserved for operational
// failures (storage, missing models).
func (s *Service) AssignSubject(ctx context.Context, tenantID, subjectID string, asOf time.Time) (*domain.AssignmentResult, error) {
	if tenantID == "" || subjectID == "" {
		return nil, fmt.Errorf("tenantID and subjectID are required")
	}
	start := time.Now()

	vectors, history, err := s.features.SubjectVectors(ctx, tenantID, subjectID, asOf)
	if err != nil {
		return nil, err
	}

	if int64(history.Count()) < s.cfg.MinEvents {
		slog.Debug("subject ungrouped",
			"subject_id", subjectID,
			"event_count", history.Count(),
			"min_events", s.cfg.MinEvents,
		)
		return domain.Ungrouped(fmt.Sprintf("history has %d events, need %d", history.Count(), s.cfg.MinEvents)), nil
	}

	// Pin one model version set for the whole operation so old and new
	// models are never mixed mid-computation.
	models, err := s.repo.ListAxisModels(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load axis models: %w", err)
	}
	if len(models) == 0 {
		return nil, fmt.Errorf("no fitted axis models for tenant %s", tenantID)
	}

	profile := &domain.SubjectProfile{
		SubjectID:       subjectID,
		TenantID:        tenantID,
		Axes:            make(map[string]domain.AxisMembership, len(models)),
		EventCount:      int64(history.Count()),
		CumulativeValue: history.CumulativeValue(),
		TenureDays:      history.TenureDays(),
		AssignedAt:      time.Now().UTC(),
	}

	stale := false
	for _, model := range models {
		raw, ok := vectors[model.AxisName]
		if !ok {
			continue // model for an axis no longer configured
		}

		mv, err := Membership(raw, model, s.cfg)
		if err != nil {
			return nil, fmt.Errorf("axis %s: %w", model.AxisName, err)
		}

		dom, _ := mv.Dominant()
		profile.Axes[model.AxisName] = domain.AxisMembership{
			Dominant:     dom,
			Strength:     archetype.Classify(mv, s.cfg.StrongThreshold, s.cfg.BalancedThreshold),
			Memberships:  mv,
			ModelVersion: model.Version,
		}

		if s.cfg.MaxModelAge > 0 && model.Age(profile.AssignedAt) > s.cfg.MaxModelAge {
			stale = true
		}
	}

	if len(profile.Axes) == 0 {
		return nil, fmt.Errorf("no axis model matched the configured axes for tenant %s", tenantID)
	}
	if stale {
		profile.Warnings = append(profile.Warnings, domain.WarnStaleModel)
	}

	// The previous profile drives both migration detection and the
	// composer's subject-level population accounting; read it before
	// overwriting.
	prevArchetype := ""
	prev, err := s.repo.GetProfile(ctx, tenantID, subjectID)
	if err != nil {
		prev = nil
	} else if prev != nil {
		prevArchetype = prev.ArchetypeID
	}

	arch, err := s.composer.Compose(ctx, tenantID, profile, prev)
	if err != nil {
		return nil, err
	}
	profile.ArchetypeID = arch.ID
	profile.ArchetypeKey = arch.Key

	if s.scores != nil {
		results := s.scores.EvaluateAll(ctx, profile)
		if len(results) > 0 {
			profile.Scores = make(map[string]float64, len(results))
			for _, r := range results {
				profile.Scores[r.ScoreID] = r.Value
			}
		}
	}

	if err := s.repo.SaveProfile(ctx, tenantID, profile); err != nil {
		return nil, fmt.Errorf("failed to save profile: %w", err)
	}

	if s.cache != nil {
		_ = s.cache.SetProfile(ctx, tenantID, subjectID, &domain.ProfileCache{
			SubjectID:        subjectID,
			ArchetypeID:      profile.ArchetypeID,
			DominantSegments: profile.DominantSegments(),
			Scores:           profile.Scores,
			AssignedAt:       profile.AssignedAt.Format(time.RFC3339),
		}, s.cfg.ProfileTTL)
	}

	s.publish(ctx, tenantID, domain.TopicProfileAssigned, profile)
	if prevArchetype != "" && prevArchetype != profile.ArchetypeID {
		s.publish(ctx, tenantID, domain.TopicArchetypeMigrated, map[string]string{
			"subjectId": subjectID,
			"from":      prevArchetype,
			"to":        profile.ArchetypeID,
		})
	}

	slog.Info("subject assigned",
		"subject_id", subjectID,
		"tenant_id", tenantID,
		"archetype_id", profile.ArchetypeID,
		"axes", len(profile.Axes),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return domain.Grouped(profile), nil
}

// GetProfile returns the stored profile for a subject, or an explicit
// Ungrouped result when none exists. Downstream code branches on the
// status, never on an error.
func (s *Service) GetProfile(ctx context.Context, tenantID, subjectID string) (*domain.AssignmentResult, error) {
	profile, err := s.repo.GetProfile(ctx, tenantID, subjectID)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return domain.Ungrouped("no profile assigned"), nil
	}
	return domain.Grouped(profile), nil
}

func (s *Service) publish(ctx context.Context, tenantID, topic string, payload any) {
	if s.bus == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, tenantID, topic, data); err != nil {
		slog.Error("failed to publish event",
			"topic", topic,
			"error", err,
		)
	}
}
