package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Event history operations
	SaveEvent(ctx context.Context, tenantID string, ev *Event) error
	GetEventsBySubject(ctx context.Context, tenantID string, subjectID string, until time.Time) ([]*Event, error)
	ListSubjectValues(ctx context.Context, tenantID string, until time.Time) ([]SubjectValue, error)

	// Axis model operations. Models are immutable; Save writes a new
	// version, Get without version returns the latest.
	SaveAxisModel(ctx context.Context, tenantID string, model *AxisModel) error
	GetAxisModel(ctx context.Context, tenantID string, axisName string) (*AxisModel, error)
	GetAxisModelVersion(ctx context.Context, tenantID string, axisName string, version string) (*AxisModel, error)
	ListAxisModels(ctx context.Context, tenantID string) ([]*AxisModel, error)

	// Profile operations. GetProfile returns nil, nil when the subject
	// has no stored profile; callers branch on the explicit empty
	// state rather than an error.
	SaveProfile(ctx context.Context, tenantID string, profile *SubjectProfile) error
	GetProfile(ctx context.Context, tenantID string, subjectID string) (*SubjectProfile, error)
	ListProfiles(ctx context.Context, tenantID string) ([]*SubjectProfile, error)

	// Archetype operations. Upsert folds one member into the running
	// statistics atomically for the composite key; RemoveArchetypeMember
	// unfolds one when a subject migrates away.
	UpsertArchetype(ctx context.Context, tenantID string, key string, dominant map[string]string, value float64, tenure float64) (*Archetype, error)
	RemoveArchetypeMember(ctx context.Context, tenantID string, archetypeID string, value float64, tenure float64) error
	GetArchetype(ctx context.Context, tenantID string, archetypeID string) (*Archetype, error)
	ListArchetypes(ctx context.Context, tenantID string) ([]*Archetype, error)

	// Snapshot operations. Snapshots are immutable once written.
	SaveSnapshot(ctx context.Context, tenantID string, snap *Snapshot) error
	GetSnapshots(ctx context.Context, tenantID string, subjectID string, resolution int) ([]*Snapshot, error)
	PruneSnapshots(ctx context.Context, tenantID string, resolution int, before time.Time) (int64, error)

	// Drift report operations
	SaveDriftReport(ctx context.Context, tenantID string, report *DriftReport) error
	GetDriftReports(ctx context.Context, tenantID string, subjectID string, limit int) ([]*DriftReport, error)

	// Score configuration operations
	SaveScoreConfig(ctx context.Context, tenantID string, score *ScoreConfig) error
	GetScoreConfig(ctx context.Context, tenantID string, scoreID string) (*ScoreConfig, error)
	ListScoreConfigs(ctx context.Context, tenantID string) ([]*ScoreConfig, error)
	DeleteScoreConfig(ctx context.Context, tenantID string, scoreID string) error

	// Discovery run summaries
	SaveDiscoveryRun(ctx context.Context, tenantID string, run *DiscoveryRun) error
	GetDiscoveryRun(ctx context.Context, tenantID string, runID string) (*DiscoveryRun, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
