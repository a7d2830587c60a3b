package domain

// ScoreConfig defines a derived-score expression evaluated against an
// assigned profile. Scores are tenant-configurable CEL expressions over
// membership, archetype, and history variables (e.g., churn risk).
type ScoreConfig struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenantId"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`

	// CEL expression to evaluate
	Expression string `json:"expression"`

	// Optional bands mapping the score to a label for reporting
	Bands []ScoreBand `json:"bands,omitempty"`

	// Whether score is active
	Enabled bool `json:"enabled"`
}

// ScoreBand maps a score range to a label.
type ScoreBand struct {
	LowerLimit *float64 `json:"lowerLimit,omitempty"`
	UpperLimit *float64 `json:"upperLimit,omitempty"`
	Label      string   `json:"label"` // e.g., "low", "elevated", "critical"
	Reason     string   `json:"reason"`
}

// ScoreResult is the output of one score evaluation.
type ScoreResult struct {
	ScoreID   string  `json:"scoreId"`
	SubjectID string  `json:"subjectId"`
	Value     float64 `json:"value"`
	Label     string  `json:"label,omitempty"`
	Reason    string  `json:"reason,omitempty"`
	ProcessMs int64   `json:"processMs"`
}

// Label returned when no band matches or a score has no bands.
const ScoreLabelNone = ""
