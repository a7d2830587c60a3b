package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching operations.
// Supports two-phase caching: local LRU (Community) + Redis (Pro).
// All methods require tenantID for strict multi-tenancy isolation.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, tenantID string, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, tenantID string, key string) error

	// GetProfile retrieves a cached profile summary.
	GetProfile(ctx context.Context, tenantID string, subjectID string) (*ProfileCache, error)

	// SetProfile caches a profile summary after assignment.
	SetProfile(ctx context.Context, tenantID string, subjectID string, data *ProfileCache, ttl time.Duration) error

	// IncrementCounter atomically increments a counter and returns new value.
	// Used for archetype running statistics under concurrent assignment.
	IncrementCounter(ctx context.Context, tenantID string, key string, window time.Duration) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// ProfileCache holds the cached summary of an assigned profile. Full
// profiles live in the repository; the cache carries what the read path
// needs between reassignments.
type ProfileCache struct {
	SubjectID        string            `json:"subjectId"`
	ArchetypeID      string            `json:"archetypeId"`
	DominantSegments map[string]string `json:"dominantSegments"`
	Scores           map[string]float64 `json:"scores,omitempty"`
	AssignedAt       string            `json:"assignedAt"`
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string

	// Local LRU cache settings (Community tier)
	LocalMaxSize int
	LocalTTL     time.Duration

	// Redis settings (Pro tier)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Two-phase settings
	EnableTwoPhase bool // If true, check local first, then Redis
}
