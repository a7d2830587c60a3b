package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"
)

// Archetype is the composite signature formed by a subject's dominant
// segment on every axis. Only observed tuples are materialized; the
// combinatorial space is never pre-enumerated.
type Archetype struct {
	ID       string `json:"archetypeId"`
	TenantID string `json:"tenantId"`

	// Key is the canonical composite key the ID derives from.
	Key string `json:"key"`

	// DominantSegments maps axis name to segment name.
	DominantSegments map[string]string `json:"dominantSegments"`

	MemberCount   int64   `json:"memberCount"`
	PopulationPct float64 `json:"populationPct"`

	// Incrementally maintained means of correlated business metrics.
	MeanValue  float64 `json:"meanValue"`
	MeanTenure float64 `json:"meanTenure"`

	FirstSeen time.Time `json:"firstSeen"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ArchetypeKey builds the canonical composite key for a dominant-segment
// tuple: axes sorted lexicographically, pairs joined with "|". Two
// subjects with identical tuples always produce the same key,
// regardless of map iteration or assignment order.
func ArchetypeKey(dominant map[string]string) string {
	axes := make([]string, 0, len(dominant))
	for axis := range dominant {
		axes = append(axes, axis)
	}
	sort.Strings(axes)

	pairs := make([]string, len(axes))
	for i, axis := range axes {
		pairs[i] = axis + "=" + dominant[axis]
	}
	return strings.Join(pairs, "|")
}

// ArchetypeID derives the stable identifier for a composite key.
func ArchetypeID(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])[:16]
}
