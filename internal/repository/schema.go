package repository

// Schema definitions for the Harrier database.
// Compatible with both SQLite and PostgreSQL.

const schemaEvents = `
CREATE TABLE IF NOT EXISTS events (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    subject_id TEXT NOT NULL,
    type TEXT NOT NULL,
    amount REAL NOT NULL DEFAULT 0,
    currency TEXT,
    category TEXT,
    channel TEXT,
    timestamp TIMESTAMP NOT NULL,
    created_at TIMESTAMP NOT NULL,
    metadata TEXT
);

CREATE INDEX IF NOT EXISTS idx_events_tenant ON events(tenant_id);
CREATE INDEX IF NOT EXISTS idx_events_subject ON events(tenant_id, subject_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(tenant_id, timestamp);
`

// Axis models are append-only; a discovery run inserts a new version and
// never touches prior rows.
const schemaAxisModels = `
CREATE TABLE IF NOT EXISTS axis_models (
    axis_name TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    version TEXT NOT NULL,
    fitted_at TIMESTAMP NOT NULL,
    feature_names TEXT NOT NULL,
    scaler_mean TEXT NOT NULL,
    scaler_scale TEXT NOT NULL,
    segments TEXT NOT NULL,
    quality REAL NOT NULL,
    low_quality INTEGER NOT NULL DEFAULT 0,
    sample_size INTEGER NOT NULL,
    PRIMARY KEY (axis_name, tenant_id, version)
);

CREATE INDEX IF NOT EXISTS idx_axis_models_tenant ON axis_models(tenant_id);
CREATE INDEX IF NOT EXISTS idx_axis_models_fitted ON axis_models(tenant_id, axis_name, fitted_at);
`

const schemaProfiles = `
CREATE TABLE IF NOT EXISTS profiles (
    subject_id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    axes TEXT NOT NULL,
    archetype_id TEXT NOT NULL,
    archetype_key TEXT NOT NULL,
    scores TEXT,
    warnings TEXT,
    event_count INTEGER NOT NULL,
    cumulative_value REAL NOT NULL,
    tenure_days REAL NOT NULL,
    assigned_at TIMESTAMP NOT NULL,
    PRIMARY KEY (subject_id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_profiles_tenant ON profiles(tenant_id);
CREATE INDEX IF NOT EXISTS idx_profiles_archetype ON profiles(tenant_id, archetype_id);
`

const schemaArchetypes = `
CREATE TABLE IF NOT EXISTS archetypes (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    key TEXT NOT NULL,
    dominant_segments TEXT NOT NULL,
    member_count INTEGER NOT NULL DEFAULT 0,
    mean_value REAL NOT NULL DEFAULT 0,
    mean_tenure REAL NOT NULL DEFAULT 0,
    first_seen TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_archetypes_tenant ON archetypes(tenant_id);
CREATE INDEX IF NOT EXISTS idx_archetypes_count ON archetypes(tenant_id, member_count);
`

// Snapshots are immutable once written. The unique constraint rejects
// duplicate captures at the same resolution and instant.
const schemaSnapshots = `
CREATE TABLE IF NOT EXISTS snapshots (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    subject_id TEXT NOT NULL,
    resolution INTEGER NOT NULL,
    taken_at TIMESTAMP NOT NULL,
    memberships TEXT NOT NULL,
    dominant_segments TEXT NOT NULL,
    archetype_id TEXT,
    event_count INTEGER NOT NULL,
    cumulative_value REAL NOT NULL,
    tenure_days REAL NOT NULL,
    UNIQUE (tenant_id, subject_id, resolution, taken_at)
);

CREATE INDEX IF NOT EXISTS idx_snapshots_subject ON snapshots(tenant_id, subject_id, resolution, taken_at);
CREATE INDEX IF NOT EXISTS idx_snapshots_prune ON snapshots(tenant_id, resolution, taken_at);
`

const schemaDriftReports = `
CREATE TABLE IF NOT EXISTS drift_reports (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    subject_id TEXT NOT NULL,
    from_snapshot TEXT NOT NULL,
    to_snapshot TEXT NOT NULL,
    from_time TIMESTAMP NOT NULL,
    to_time TIMESTAMP NOT NULL,
    magnitude REAL NOT NULL,
    velocity REAL NOT NULL,
    migrated INTEGER NOT NULL DEFAULT 0,
    axes_changed TEXT,
    trend TEXT,
    state TEXT NOT NULL,
    computed_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_drift_subject ON drift_reports(tenant_id, subject_id, computed_at);
`

const schemaScoreConfigs = `
CREATE TABLE IF NOT EXISTS score_configs (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    version TEXT NOT NULL,
    expression TEXT NOT NULL,
    bands TEXT NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id, version)
);

CREATE INDEX IF NOT EXISTS idx_score_configs_tenant ON score_configs(tenant_id);
CREATE INDEX IF NOT EXISTS idx_score_configs_enabled ON score_configs(tenant_id, enabled);
`

const schemaDiscoveryRuns = `
CREATE TABLE IF NOT EXISTS discovery_runs (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    started_at TIMESTAMP NOT NULL,
    ended_at TIMESTAMP NOT NULL,
    sample_size INTEGER NOT NULL,
    axes_succeeded TEXT NOT NULL,
    axes_skipped TEXT
);

CREATE INDEX IF NOT EXISTS idx_discovery_runs_tenant ON discovery_runs(tenant_id, started_at);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaEvents,
		schemaAxisModels,
		schemaProfiles,
		schemaArchetypes,
		schemaSnapshots,
		schemaDriftReports,
		schemaScoreConfigs,
		schemaDiscoveryRuns,
	}
}
