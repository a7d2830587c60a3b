package features

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-analytics/harrier/internal/domain"
)

// Service loads subject history and extracts per-axis feature vectors.
type Service struct {
	repo      domain.Repository
	extractor *Extractor
}

// NewService creates a new feature service.
func NewService(repo domain.Repository, extractor *Extractor) *Service {
	return &Service{
		repo:      repo,
		extractor: extractor,
	}
}

// Extractor exposes the underlying extractor.
func (s *Service) Extractor() *Extractor {
	return s.extractor
}

// SubjectHistory loads a subject's events up to asOf.
func (s *Service) SubjectHistory(ctx context.Context, tenantID, subjectID string, asOf time.Time) (*History, error) {
	if tenantID == "" || subjectID == "" {
		return nil, fmt.Errorf("tenantID and subjectID are required")
	}
	events, err := s.repo.GetEventsBySubject(ctx, tenantID, subjectID, asOf)
	if err != nil {
		return nil, fmt.Errorf("failed to load subject history: %w", err)
	}
	return NewHistory(events, asOf), nil
}

// SubjectVectors loads history and extracts feature vectors for every
// configured axis as of the reference time.
func (s *Service) SubjectVectors(ctx context.Context, tenantID, subjectID string, asOf time.Time) (map[string][]float64, *History, error) {
	h, err := s.SubjectHistory(ctx, tenantID, subjectID, asOf)
	if err != nil {
		return nil, nil, err
	}
	return s.extractor.Vectors(h), h, nil
}
