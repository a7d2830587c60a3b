package domain

import (
	"fmt"
	"time"
)

// Config holds the complete Harrier configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines feature availability
	Tier Tier `json:"tier"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Segmentation engine configurations
	Axes       []AxisConfig     `json:"axes"`
	Sampler    SamplerConfig    `json:"sampler"`
	Discovery  DiscoveryConfig  `json:"discovery"`
	Assignment AssignmentConfig `json:"assignment"`
	Drift      DriftConfig      `json:"drift"`
	Snapshots  SnapshotConfig   `json:"snapshots"`
	Naming     NamingConfig     `json:"naming"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// SamplerConfig controls value-stratified population sampling.
type SamplerConfig struct {
	// Tiers partition the population ranked by cumulative value.
	// Fractions must sum to 1.0.
	Tiers []SamplerTier `json:"tiers"`

	// Confidence and Margin define the statistical floor for total
	// sample size (e.g., 0.99 / 0.03 → ~1,843).
	Confidence float64 `json:"confidence"`
	Margin     float64 `json:"margin"`

	// Seed makes discovery runs reproducible for a fixed population
	// snapshot.
	Seed int64 `json:"seed"`
}

// SamplerTier is one value stratum with its draw allocation. High-value
// tiers are intentionally over-sampled relative to their size.
type SamplerTier struct {
	Name       string  `json:"name"`
	Fraction   float64 `json:"fraction"`
	Allocation int     `json:"allocation"`
}

// TargetSize returns the configured total draw.
func (c *SamplerConfig) TargetSize() int {
	total := 0
	for _, t := range c.Tiers {
		total += t.Allocation
	}
	return total
}

// DiscoveryConfig controls per-axis model fitting.
type DiscoveryConfig struct {
	// Candidate cluster counts, inclusive.
	MinClusters int `json:"minClusters"`
	MaxClusters int `json:"maxClusters"`

	// Fits below MinQuality are persisted but marked low-quality.
	MinQuality float64 `json:"minQuality"`

	// FitCovariance enables per-segment covariance for Mahalanobis
	// assignment; singular segments fall back to identity.
	FitCovariance bool `json:"fitCovariance"`

	// MinSampleSize below which an axis is skipped entirely.
	MinSampleSize int `json:"minSampleSize"`

	// MaxIterations and Restarts for each partitional fit.
	MaxIterations int `json:"maxIterations"`
	Restarts      int `json:"restarts"`

	// MaxConcurrentAxes bounds parallel axis fits in a run.
	MaxConcurrentAxes int `json:"maxConcurrentAxes"`

	Seed int64 `json:"seed"`
}

// AssignmentConfig controls distance-to-membership conversion.
type AssignmentConfig struct {
	// Sigma, when > 0, switches decay from exp(-d) to exp(-d²/(2σ²)).
	Sigma float64 `json:"sigma"`

	// MinEvents below which a subject is marked ungrouped.
	MinEvents int64 `json:"minEvents"`

	// MaxModelAge after which assignment attaches a stale-model
	// warning to the profile.
	MaxModelAge time.Duration `json:"maxModelAge"`

	// Strength classification thresholds.
	StrongThreshold   float64 `json:"strongThreshold"`   // top membership above
	BalancedThreshold float64 `json:"balancedThreshold"` // top two both above

	// ProfileTTL for cached profiles.
	ProfileTTL time.Duration `json:"profileTTL"`
}

// DriftConfig controls drift detection thresholds. Thresholds are
// configuration, not hard-coded constants.
type DriftConfig struct {
	// VelocityThreshold in membership-norm per day; above it a stable
	// subject becomes DRIFTING.
	VelocityThreshold float64 `json:"velocityThreshold"`

	// SettleCount is the consecutive calm snapshots required for a
	// MIGRATED subject to return to STABLE.
	SettleCount int `json:"settleCount"`

	// TrendRatio: short velocity more than this multiple of long
	// velocity classifies as accelerating, the inverse as decelerating.
	TrendRatio float64 `json:"trendRatio"`

	// Short/long comparison horizons in days.
	ShortHorizonDays int `json:"shortHorizonDays"`
	LongHorizonDays  int `json:"longHorizonDays"`
}

// SnapshotConfig controls snapshot cadence and retention.
type SnapshotConfig struct {
	// ResolutionDays lists the horizons snapshots are kept at.
	ResolutionDays []int `json:"resolutionDays"`

	// RetentionDays maps resolution to its retention window.
	RetentionDays map[int]int `json:"retentionDays"`
}

// NamingConfig controls the external naming collaborator.
type NamingConfig struct {
	// Provider: "none" (rule-based fallback only) or "openai".
	Provider string `json:"provider"`

	Model   string        `json:"model"`
	APIKey  string        `json:"-"`
	BaseURL string        `json:"baseUrl,omitempty"`
	Timeout time.Duration `json:"timeout"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `json:"enabled"`
	ServiceName  string `json:"serviceName"`
	ExporterType string `json:"exporterType"` // stdout, otlp
	Endpoint     string `json:"endpoint"`
}

// Tier represents the product tier.
type Tier string

const (
	// TierCommunity is the free tier with SQLite + channels
	TierCommunity Tier = "community"

	// TierPro is the paid tier with PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultAxes returns the stock axis definitions. Deployments replace
// or extend these; they are validated at load like any other config.
func DefaultAxes() []AxisConfig {
	return []AxisConfig{
		{
			Name: "purchase_frequency",
			Features: []FeatureSpec{
				{Name: "orders_per_month", Rule: "orders_per_month"},
				{Name: "avg_gap_days", Rule: "avg_gap_days"},
				{Name: "recency_days", Rule: "recency_days"},
			},
		},
		{
			Name: "purchase_value",
			Features: []FeatureSpec{
				{Name: "avg_order_value", Rule: "avg_order_value"},
				{Name: "max_order_value", Rule: "max_order_value"},
				{Name: "value_stddev", Rule: "value_stddev"},
			},
		},
		{
			Name: "engagement_breadth",
			Features: []FeatureSpec{
				{Name: "category_entropy", Rule: "category_entropy"},
				{Name: "channel_diversity", Rule: "channel_diversity"},
				{Name: "weekend_ratio", Rule: "weekend_ratio"},
			},
		},
	}
}

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./harrier.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Axes: DefaultAxes(),
		Sampler: SamplerConfig{
			Tiers: []SamplerTier{
				{Name: "top", Fraction: 0.05, Allocation: 400},
				{Name: "high", Fraction: 0.15, Allocation: 500},
				{Name: "middle", Fraction: 0.60, Allocation: 600},
				{Name: "bottom", Fraction: 0.20, Allocation: 400},
			},
			Confidence: 0.95,
			Margin:     0.05,
			Seed:       1,
		},
		Discovery: DiscoveryConfig{
			MinClusters:       2,
			MaxClusters:       6,
			MinQuality:        0.3,
			FitCovariance:     true,
			MinSampleSize:     100,
			MaxIterations:     100,
			Restarts:          5,
			MaxConcurrentAxes: 4,
			Seed:              1,
		},
		Assignment: AssignmentConfig{
			Sigma:             0, // plain exp(-d) decay
			MinEvents:         1,
			MaxModelAge:       45 * 24 * time.Hour,
			StrongThreshold:   0.7,
			BalancedThreshold: 0.35,
			ProfileTTL:        15 * time.Minute,
		},
		Drift: DriftConfig{
			VelocityThreshold: 0.01,
			SettleCount:       3,
			TrendRatio:        1.5,
			ShortHorizonDays:  14,
			LongHorizonDays:   180,
		},
		Snapshots: SnapshotConfig{
			ResolutionDays: []int{7, 14, 28, 90, 180},
			RetentionDays: map[int]int{
				7:   56,
				14:  112,
				28:  224,
				90:  720,
				180: 1440,
			},
		},
		Naming: NamingConfig{
			Provider: "none",
			Timeout:  10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "harrier",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "harrier",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}

// Validate rejects unusable engine configuration at load time.
func (c *Config) Validate() error {
	if len(c.Axes) == 0 {
		return fmt.Errorf("%w: at least one axis is required", ErrInvalidConfig)
	}
	seen := make(map[string]bool, len(c.Axes))
	for i := range c.Axes {
		if err := c.Axes[i].Validate(); err != nil {
			return err
		}
		if seen[c.Axes[i].Name] {
			return fmt.Errorf("%w: duplicate axis %s", ErrInvalidConfig, c.Axes[i].Name)
		}
		seen[c.Axes[i].Name] = true
	}
	if c.Discovery.MinClusters < 2 {
		return fmt.Errorf("%w: minClusters must be at least 2", ErrInvalidConfig)
	}
	if c.Discovery.MaxClusters < c.Discovery.MinClusters {
		return fmt.Errorf("%w: maxClusters below minClusters", ErrInvalidConfig)
	}
	if c.Assignment.Sigma < 0 {
		return fmt.Errorf("%w: sigma must be non-negative", ErrInvalidConfig)
	}
	if c.Drift.VelocityThreshold <= 0 {
		return fmt.Errorf("%w: drift velocity threshold must be positive", ErrInvalidConfig)
	}
	if len(c.Snapshots.ResolutionDays) == 0 {
		return fmt.Errorf("%w: at least one snapshot resolution is required", ErrInvalidConfig)
	}
	return nil
}
