// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-analytics/harrier/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveEvent stores an event with tenant isolation.
func (r *SQLRepository) SaveEvent(ctx context.Context, tenantID string, ev *domain.Event) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if ev.ID == "" || ev.SubjectID == "" {
		return fmt.Errorf("%w: event id and subjectID are required", ErrInvalidInput)
	}

	metadata, _ := json.Marshal(ev.Metadata)

	query := `
		INSERT INTO events (
			id, tenant_id, subject_id, type, amount, currency,
			category, channel, timestamp, created_at, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		ev.ID, tenantID, ev.SubjectID, ev.Type,
		ev.Amount, ev.Currency, ev.Category, ev.Channel,
		ev.Timestamp, ev.CreatedAt, string(metadata),
	)
	return err
}

// GetEventsBySubject retrieves a subject's events up to a cutoff,
// oldest first, with tenant isolation.
func (r *SQLRepository) GetEventsBySubject(ctx context.Context, tenantID string, subjectID string, until time.Time) ([]*domain.Event, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, subject_id, type, amount, currency,
			   category, channel, timestamp, created_at, metadata
		FROM events
		WHERE tenant_id = ? AND subject_id = ? AND timestamp <= ?
		ORDER BY timestamp ASC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, subjectID, until)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*domain.Event
	for rows.Next() {
		var ev domain.Event
		var metadata string

		if err := rows.Scan(
			&ev.ID, &ev.TenantID, &ev.SubjectID, &ev.Type,
			&ev.Amount, &ev.Currency, &ev.Category, &ev.Channel,
			&ev.Timestamp, &ev.CreatedAt, &metadata,
		); err != nil {
			return nil, err
		}

		if metadata != "" {
			json.Unmarshal([]byte(metadata), &ev.Metadata)
		}
		events = append(events, &ev)
	}

	return events, rows.Err()
}

// ListSubjectValues aggregates every subject's cumulative value up to a
// cutoff. The sampler consumes this as the population frame.
func (r *SQLRepository) ListSubjectValues(ctx context.Context, tenantID string, until time.Time) ([]domain.SubjectValue, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT subject_id, COALESCE(SUM(amount), 0), COUNT(*), MIN(timestamp)
		FROM events
		WHERE tenant_id = ? AND timestamp <= ?
		GROUP BY subject_id
		ORDER BY subject_id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, until)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var values []domain.SubjectValue
	for rows.Next() {
		var sv domain.SubjectValue
		if err := rows.Scan(&sv.SubjectID, &sv.CumulativeValue, &sv.EventCount, &sv.FirstSeen); err != nil {
			return nil, err
		}
		values = append(values, sv)
	}

	return values, rows.Err()
}

// SaveAxisModel stores a fitted axis model version. Models are
// append-only; saving an existing version is an error.
func (r *SQLRepository) SaveAxisModel(ctx context.Context, tenantID string, model *domain.AxisModel) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if model.AxisName == "" || model.Version == "" {
		return fmt.Errorf("%w: axis name and version are required", ErrInvalidInput)
	}

	featureNames, _ := json.Marshal(model.FeatureNames)
	scalerMean, _ := json.Marshal(model.ScalerMean)
	scalerScale, _ := json.Marshal(model.ScalerScale)
	segments, _ := json.Marshal(model.Segments)

	lowQuality := 0
	if model.LowQuality {
		lowQuality = 1
	}

	query := `
		INSERT INTO axis_models (
			axis_name, tenant_id, version, fitted_at, feature_names,
			scaler_mean, scaler_scale, segments, quality, low_quality, sample_size
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		model.AxisName, tenantID, model.Version, model.FittedAt,
		string(featureNames), string(scalerMean), string(scalerScale),
		string(segments), model.Quality, lowQuality, model.SampleSize,
	)
	return err
}

// GetAxisModel retrieves the latest model for an axis.
func (r *SQLRepository) GetAxisModel(ctx context.Context, tenantID string, axisName string) (*domain.AxisModel, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := selectAxisModel + `
		WHERE tenant_id = ? AND axis_name = ?
		ORDER BY fitted_at DESC
		LIMIT 1
	`
	return r.scanAxisModel(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, axisName))
}

// GetAxisModelVersion retrieves one pinned model version.
func (r *SQLRepository) GetAxisModelVersion(ctx context.Context, tenantID string, axisName string, version string) (*domain.AxisModel, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := selectAxisModel + `
		WHERE tenant_id = ? AND axis_name = ? AND version = ?
	`
	return r.scanAxisModel(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, axisName, version))
}

// ListAxisModels retrieves the latest model of every axis for a tenant.
func (r *SQLRepository) ListAxisModels(ctx context.Context, tenantID string) ([]*domain.AxisModel, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := selectAxisModel + `
		WHERE tenant_id = ?
		  AND fitted_at = (
			SELECT MAX(m2.fitted_at) FROM axis_models m2
			WHERE m2.tenant_id = axis_models.tenant_id
			  AND m2.axis_name = axis_models.axis_name
		  )
		ORDER BY axis_name
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var models []*domain.AxisModel
	for rows.Next() {
		model, err := r.scanAxisModel(rows)
		if err != nil {
			return nil, err
		}
		models = append(models, model)
	}

	return models, rows.Err()
}

const selectAxisModel = `
	SELECT axis_name, tenant_id, version, fitted_at, feature_names,
		   scaler_mean, scaler_scale, segments, quality, low_quality, sample_size
	FROM axis_models
`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (r *SQLRepository) scanAxisModel(row rowScanner) (*domain.AxisModel, error) {
	var m domain.AxisModel
	var featureNames, scalerMean, scalerScale, segments string
	var lowQuality int

	err := row.Scan(
		&m.AxisName, &m.TenantID, &m.Version, &m.FittedAt,
		&featureNames, &scalerMean, &scalerScale, &segments,
		&m.Quality, &lowQuality, &m.SampleSize,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	m.LowQuality = lowQuality == 1
	json.Unmarshal([]byte(featureNames), &m.FeatureNames)
	json.Unmarshal([]byte(scalerMean), &m.ScalerMean)
	json.Unmarshal([]byte(scalerScale), &m.ScalerScale)
	if err := json.Unmarshal([]byte(segments), &m.Segments); err != nil {
		return nil, fmt.Errorf("failed to parse segments for %s: %w", m.AxisName, err)
	}

	return &m, nil
}

// SaveProfile upserts a subject's current profile.
func (r *SQLRepository) SaveProfile(ctx context.Context, tenantID string, profile *domain.SubjectProfile) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if profile.SubjectID == "" {
		return fmt.Errorf("%w: subjectID is required", ErrInvalidInput)
	}

	axes, _ := json.Marshal(profile.Axes)
	scores, _ := json.Marshal(profile.Scores)
	warnings, _ := json.Marshal(profile.Warnings)

	query := `
		INSERT INTO profiles (
			subject_id, tenant_id, axes, archetype_id, archetype_key,
			scores, warnings, event_count, cumulative_value, tenure_days, assigned_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(subject_id, tenant_id) DO UPDATE SET
			axes = excluded.axes,
			archetype_id = excluded.archetype_id,
			archetype_key = excluded.archetype_key,
			scores = excluded.scores,
			warnings = excluded.warnings,
			event_count = excluded.event_count,
			cumulative_value = excluded.cumulative_value,
			tenure_days = excluded.tenure_days,
			assigned_at = excluded.assigned_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		profile.SubjectID, tenantID, string(axes),
		profile.ArchetypeID, profile.ArchetypeKey,
		string(scores), string(warnings),
		profile.EventCount, profile.CumulativeValue, profile.TenureDays,
		profile.AssignedAt,
	)
	return err
}

// GetProfile retrieves a subject's profile. Returns nil, nil when the
// subject has never been assigned.
func (r *SQLRepository) GetProfile(ctx context.Context, tenantID string, subjectID string) (*domain.SubjectProfile, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT subject_id, tenant_id, axes, archetype_id, archetype_key,
			   scores, warnings, event_count, cumulative_value, tenure_days, assigned_at
		FROM profiles
		WHERE tenant_id = ? AND subject_id = ?
	`

	var p domain.SubjectProfile
	var axes, scores, warnings string

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, subjectID).Scan(
		&p.SubjectID, &p.TenantID, &axes,
		&p.ArchetypeID, &p.ArchetypeKey,
		&scores, &warnings,
		&p.EventCount, &p.CumulativeValue, &p.TenureDays,
		&p.AssignedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(axes), &p.Axes); err != nil {
		return nil, fmt.Errorf("failed to parse profile axes for %s: %w", subjectID, err)
	}
	json.Unmarshal([]byte(scores), &p.Scores)
	json.Unmarshal([]byte(warnings), &p.Warnings)

	return &p, nil
}

// ListProfiles retrieves every assigned profile for a tenant. The
// snapshot scheduler walks this set.
func (r *SQLRepository) ListProfiles(ctx context.Context, tenantID string) ([]*domain.SubjectProfile, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT subject_id, tenant_id, axes, archetype_id, archetype_key,
			   scores, warnings, event_count, cumulative_value, tenure_days, assigned_at
		FROM profiles
		WHERE tenant_id = ?
		ORDER BY subject_id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var profiles []*domain.SubjectProfile
	for rows.Next() {
		var p domain.SubjectProfile
		var axes, scores, warnings string

		if err := rows.Scan(
			&p.SubjectID, &p.TenantID, &axes,
			&p.ArchetypeID, &p.ArchetypeKey,
			&scores, &warnings,
			&p.EventCount, &p.CumulativeValue, &p.TenureDays,
			&p.AssignedAt,
		); err != nil {
			return nil, err
		}

		if err := json.Unmarshal([]byte(axes), &p.Axes); err != nil {
			return nil, fmt.Errorf("failed to parse profile axes for %s: %w", p.SubjectID, err)
		}
		json.Unmarshal([]byte(scores), &p.Scores)
		json.Unmarshal([]byte(warnings), &p.Warnings)
		profiles = append(profiles, &p)
	}

	return profiles, rows.Err()
}

// UpsertArchetype materializes the archetype for a composite key on
// first sight and atomically folds one observation into its running
// statistics on every subsequent one.
func (r *SQLRepository) UpsertArchetype(ctx context.Context, tenantID string, key string, dominant map[string]string, value float64, tenure float64) (*domain.Archetype, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if key == "" {
		return nil, fmt.Errorf("%w: archetype key is required", ErrInvalidInput)
	}

	id := domain.ArchetypeID(key)
	dominantJSON, _ := json.Marshal(dominant)
	now := time.Now().UTC()

	query := `
		INSERT INTO archetypes (
			id, tenant_id, key, dominant_segments,
			member_count, mean_value, mean_tenure, first_seen, updated_at
		) VALUES (?, ?, ?, ?, 1, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id) DO UPDATE SET
			member_count = archetypes.member_count + 1,
			mean_value = archetypes.mean_value +
				(excluded.mean_value - archetypes.mean_value) / (archetypes.member_count + 1),
			mean_tenure = archetypes.mean_tenure +
				(excluded.mean_tenure - archetypes.mean_tenure) / (archetypes.member_count + 1),
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		id, tenantID, key, string(dominantJSON),
		value, tenure, now, now,
	)
	if err != nil {
		return nil, err
	}

	return r.GetArchetype(ctx, tenantID, id)
}

// RemoveArchetypeMember unfolds one member from an archetype's running
// statistics using the value and tenure that member last contributed.
// The count never goes below zero; means reset when the last member
// leaves.
func (r *SQLRepository) RemoveArchetypeMember(ctx context.Context, tenantID string, archetypeID string, value float64, tenure float64) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if archetypeID == "" {
		return fmt.Errorf("%w: archetypeID is required", ErrInvalidInput)
	}

	query := `
		UPDATE archetypes SET
			member_count = CASE WHEN member_count > 0 THEN member_count - 1 ELSE 0 END,
			mean_value = CASE WHEN member_count > 1
				THEN (mean_value * member_count - ?) / (member_count - 1)
				ELSE 0 END,
			mean_tenure = CASE WHEN member_count > 1
				THEN (mean_tenure * member_count - ?) / (member_count - 1)
				ELSE 0 END,
			updated_at = ?
		WHERE tenant_id = ? AND id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query),
		value, tenure, time.Now().UTC(), tenantID, archetypeID,
	)
	if err != nil {
		return err
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetArchetype retrieves one archetype with its population share.
func (r *SQLRepository) GetArchetype(ctx context.Context, tenantID string, archetypeID string) (*domain.Archetype, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, key, dominant_segments,
			   member_count, mean_value, mean_tenure, first_seen, updated_at
		FROM archetypes
		WHERE tenant_id = ? AND id = ?
	`

	a, err := r.scanArchetype(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, archetypeID))
	if err != nil {
		return nil, err
	}

	total, err := r.archetypeTotal(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if total > 0 {
		a.PopulationPct = float64(a.MemberCount) / float64(total)
	}
	return a, nil
}

// ListArchetypes retrieves all archetypes for a tenant, largest first.
func (r *SQLRepository) ListArchetypes(ctx context.Context, tenantID string) ([]*domain.Archetype, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, key, dominant_segments,
			   member_count, mean_value, mean_tenure, first_seen, updated_at
		FROM archetypes
		WHERE tenant_id = ?
		ORDER BY member_count DESC, id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var archetypes []*domain.Archetype
	var total int64
	for rows.Next() {
		a, err := r.scanArchetype(rows)
		if err != nil {
			return nil, err
		}
		total += a.MemberCount
		archetypes = append(archetypes, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if total > 0 {
		for _, a := range archetypes {
			a.PopulationPct = float64(a.MemberCount) / float64(total)
		}
	}
	return archetypes, nil
}

func (r *SQLRepository) scanArchetype(row rowScanner) (*domain.Archetype, error) {
	var a domain.Archetype
	var dominant string

	err := row.Scan(
		&a.ID, &a.TenantID, &a.Key, &dominant,
		&a.MemberCount, &a.MeanValue, &a.MeanTenure,
		&a.FirstSeen, &a.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	json.Unmarshal([]byte(dominant), &a.DominantSegments)
	return &a, nil
}

func (r *SQLRepository) archetypeTotal(ctx context.Context, tenantID string) (int64, error) {
	var total sql.NullInt64
	query := `SELECT SUM(member_count) FROM archetypes WHERE tenant_id = ?`
	if err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID).Scan(&total); err != nil {
		return 0, err
	}
	return total.Int64, nil
}

// SaveSnapshot stores an immutable membership snapshot.
func (r *SQLRepository) SaveSnapshot(ctx context.Context, tenantID string, snap *domain.Snapshot) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	memberships, _ := json.Marshal(snap.Memberships)
	dominant, _ := json.Marshal(snap.DominantSegments)

	query := `
		INSERT INTO snapshots (
			id, tenant_id, subject_id, resolution, taken_at,
			memberships, dominant_segments, archetype_id,
			event_count, cumulative_value, tenure_days
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		snap.ID, tenantID, snap.SubjectID, snap.Resolution, snap.TakenAt,
		string(memberships), string(dominant), snap.ArchetypeID,
		snap.EventCount, snap.CumulativeValue, snap.TenureDays,
	)
	return err
}

// GetSnapshots retrieves a subject's snapshots at one resolution,
// newest first.
func (r *SQLRepository) GetSnapshots(ctx context.Context, tenantID string, subjectID string, resolution int) ([]*domain.Snapshot, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, subject_id, resolution, taken_at,
			   memberships, dominant_segments, archetype_id,
			   event_count, cumulative_value, tenure_days
		FROM snapshots
		WHERE tenant_id = ? AND subject_id = ? AND resolution = ?
		ORDER BY taken_at DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, subjectID, resolution)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snapshots []*domain.Snapshot
	for rows.Next() {
		var s domain.Snapshot
		var memberships, dominant string

		if err := rows.Scan(
			&s.ID, &s.TenantID, &s.SubjectID, &s.Resolution, &s.TakenAt,
			&memberships, &dominant, &s.ArchetypeID,
			&s.EventCount, &s.CumulativeValue, &s.TenureDays,
		); err != nil {
			return nil, err
		}

		if err := json.Unmarshal([]byte(memberships), &s.Memberships); err != nil {
			return nil, fmt.Errorf("failed to parse snapshot memberships for %s: %w", s.ID, err)
		}
		json.Unmarshal([]byte(dominant), &s.DominantSegments)
		snapshots = append(snapshots, &s)
	}

	return snapshots, rows.Err()
}

// PruneSnapshots deletes snapshots at one resolution older than the
// cutoff and returns the number removed.
func (r *SQLRepository) PruneSnapshots(ctx context.Context, tenantID string, resolution int, before time.Time) (int64, error) {
	if tenantID == "" {
		return 0, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		DELETE FROM snapshots
		WHERE tenant_id = ? AND resolution = ? AND taken_at < ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), tenantID, resolution, before)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// SaveDriftReport stores a computed drift report.
func (r *SQLRepository) SaveDriftReport(ctx context.Context, tenantID string, report *domain.DriftReport) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	axesChanged, _ := json.Marshal(report.AxesChanged)

	migrated := 0
	if report.Migrated {
		migrated = 1
	}

	query := `
		INSERT INTO drift_reports (
			id, tenant_id, subject_id, from_snapshot, to_snapshot,
			from_time, to_time, magnitude, velocity, migrated,
			axes_changed, trend, state, computed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		report.ID, tenantID, report.SubjectID,
		report.FromSnapshot, report.ToSnapshot,
		report.FromTime, report.ToTime,
		report.Magnitude, report.Velocity, migrated,
		string(axesChanged), report.Trend, report.State, report.ComputedAt,
	)
	return err
}

// GetDriftReports retrieves a subject's drift reports, newest first.
func (r *SQLRepository) GetDriftReports(ctx context.Context, tenantID string, subjectID string, limit int) ([]*domain.DriftReport, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT id, tenant_id, subject_id, from_snapshot, to_snapshot,
			   from_time, to_time, magnitude, velocity, migrated,
			   axes_changed, trend, state, computed_at
		FROM drift_reports
		WHERE tenant_id = ? AND subject_id = ?
		ORDER BY computed_at DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, subjectID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reports []*domain.DriftReport
	for rows.Next() {
		var d domain.DriftReport
		var axesChanged string
		var migrated int

		if err := rows.Scan(
			&d.ID, &d.TenantID, &d.SubjectID,
			&d.FromSnapshot, &d.ToSnapshot,
			&d.FromTime, &d.ToTime,
			&d.Magnitude, &d.Velocity, &migrated,
			&axesChanged, &d.Trend, &d.State, &d.ComputedAt,
		); err != nil {
			return nil, err
		}

		d.Migrated = migrated == 1
		json.Unmarshal([]byte(axesChanged), &d.AxesChanged)
		reports = append(reports, &d)
	}

	return reports, rows.Err()
}

// SaveScoreConfig stores a score configuration with tenant isolation.
func (r *SQLRepository) SaveScoreConfig(ctx context.Context, tenantID string, score *domain.ScoreConfig) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	bands, _ := json.Marshal(score.Bands)

	enabled := 0
	if score.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO score_configs (
			id, tenant_id, name, description, version, expression, bands, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id, version) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			bands = excluded.bands,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		score.ID, tenantID, score.Name, score.Description,
		score.Version, score.Expression, string(bands), enabled,
		now, now,
	)
	return err
}

// GetScoreConfig retrieves the latest enabled version of a score.
func (r *SQLRepository) GetScoreConfig(ctx context.Context, tenantID string, scoreID string) (*domain.ScoreConfig, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, version, expression, bands, enabled
		FROM score_configs
		WHERE tenant_id = ? AND id = ? AND enabled = 1
		ORDER BY version DESC
		LIMIT 1
	`

	var cfg domain.ScoreConfig
	var bands string
	var enabled int

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, scoreID).Scan(
		&cfg.ID, &cfg.TenantID, &cfg.Name, &cfg.Description,
		&cfg.Version, &cfg.Expression, &bands, &enabled,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	cfg.Enabled = enabled == 1
	json.Unmarshal([]byte(bands), &cfg.Bands)

	return &cfg, nil
}

// ListScoreConfigs retrieves all active score configurations for a tenant.
func (r *SQLRepository) ListScoreConfigs(ctx context.Context, tenantID string) ([]*domain.ScoreConfig, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, version, expression, bands, enabled
		FROM score_configs
		WHERE tenant_id = ? AND enabled = 1
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []*domain.ScoreConfig
	for rows.Next() {
		var cfg domain.ScoreConfig
		var bands string
		var enabled int

		if err := rows.Scan(
			&cfg.ID, &cfg.TenantID, &cfg.Name, &cfg.Description,
			&cfg.Version, &cfg.Expression, &bands, &enabled,
		); err != nil {
			return nil, err
		}

		cfg.Enabled = enabled == 1
		json.Unmarshal([]byte(bands), &cfg.Bands)
		configs = append(configs, &cfg)
	}

	return configs, rows.Err()
}

// DeleteScoreConfig soft-deletes a score by setting enabled = 0.
func (r *SQLRepository) DeleteScoreConfig(ctx context.Context, tenantID string, scoreID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		UPDATE score_configs
		SET enabled = 0, updated_at = ?
		WHERE tenant_id = ? AND id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), time.Now().UTC(), tenantID, scoreID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// SaveDiscoveryRun stores a discovery run summary.
func (r *SQLRepository) SaveDiscoveryRun(ctx context.Context, tenantID string, run *domain.DiscoveryRun) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	succeeded, _ := json.Marshal(run.AxesSucceeded)
	skipped, _ := json.Marshal(run.AxesSkipped)

	query := `
		INSERT INTO discovery_runs (
			id, tenant_id, started_at, ended_at, sample_size, axes_succeeded, axes_skipped
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		run.ID, tenantID, run.StartedAt, run.EndedAt,
		run.SampleSize, string(succeeded), string(skipped),
	)
	return err
}

// GetDiscoveryRun retrieves one discovery run summary.
func (r *SQLRepository) GetDiscoveryRun(ctx context.Context, tenantID string, runID string) (*domain.DiscoveryRun, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, started_at, ended_at, sample_size, axes_succeeded, axes_skipped
		FROM discovery_runs
		WHERE tenant_id = ? AND id = ?
	`

	var run domain.DiscoveryRun
	var succeeded, skipped string

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, runID).Scan(
		&run.ID, &run.TenantID, &run.StartedAt, &run.EndedAt,
		&run.SampleSize, &succeeded, &skipped,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	json.Unmarshal([]byte(succeeded), &run.AxesSucceeded)
	json.Unmarshal([]byte(skipped), &run.AxesSkipped)

	return &run, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
