// Package scores provides the CEL-Go based derived-score engine:
// tenant-configurable expressions over an assigned profile's
// memberships, archetype, and history produce the profile's scalar
// outputs (churn risk, engagement level).
package scores

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/opensource-analytics/harrier/internal/domain"
)

// Engine is the CEL-based score evaluation engine.
type Engine struct {
	mu             sync.RWMutex
	env            *cel.Env
	compiledScores map[string]*CompiledScore
	maxWorkers     int
}

// CompiledScore holds a pre-compiled CEL program.
type CompiledScore struct {
	Config  *domain.ScoreConfig
	Program cel.Program
}

// NewEngine creates a new score evaluation engine.
func NewEngine(maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	// Create CEL environment with profile variables
	env, err := cel.NewEnv(
		cel.Variable("membership", cel.MapType(cel.StringType, cel.MapType(cel.StringType, cel.DoubleType))),
		cel.Variable("dominant", cel.MapType(cel.StringType, cel.StringType)),
		cel.Variable("strength", cel.MapType(cel.StringType, cel.StringType)),
		cel.Variable("archetype_id", cel.StringType),
		cel.Variable("event_count", cel.IntType),
		cel.Variable("cumulative_value", cel.DoubleType),
		cel.Variable("tenure_days", cel.DoubleType),
		cel.Variable("stale_model", cel.BoolType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:            env,
		compiledScores: make(map[string]*CompiledScore),
		maxWorkers:     maxWorkers,
	}, nil
}

// ValidateScore compiles and validates a score without mutating loaded
// engine scores.
func (e *Engine) ValidateScore(cfg *domain.ScoreConfig) error {
	if cfg == nil {
		return fmt.Errorf("score config is required")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compileScore(cfg)
	return err
}

// LoadScore compiles and loads a score into the engine.
func (e *Engine) LoadScore(cfg *domain.ScoreConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compileScore(cfg)
	if err != nil {
		return err
	}

	e.compiledScores[cfg.ID] = compiled

	return nil
}

// LoadScores compiles and loads multiple scores.
func (e *Engine) LoadScores(configs []*domain.ScoreConfig) error {
	for _, cfg := range configs {
		if cfg.Enabled {
			if err := e.LoadScore(cfg); err != nil {
				return err
			}
		}
	}
	return nil
}

// EvaluateAll evaluates all loaded scores against a profile in
// parallel. Results are deterministic for identical profiles.
func (e *Engine) EvaluateAll(ctx context.Context, profile *domain.SubjectProfile) []domain.ScoreResult {
	e.mu.RLock()
	loaded := make([]*CompiledScore, 0, len(e.compiledScores))
	for _, sc := range e.compiledScores {
		loaded = append(loaded, sc)
	}
	e.mu.RUnlock()

	if len(loaded) == 0 {
		return nil
	}

	activation := buildActivation(profile)

	results := make([]domain.ScoreResult, len(loaded))
	var wg sync.WaitGroup

	// Limit concurrency with semaphore
	sem := make(chan struct{}, e.maxWorkers)

	for i, sc := range loaded {
		wg.Add(1)
		go func(idx int, s *CompiledScore) {
			defer wg.Done()

			sem <- struct{}{}        // Acquire
			defer func() { <-sem }() // Release

			results[idx] = e.evaluateScore(s, activation, profile.SubjectID)
		}(i, sc)
	}

	wg.Wait()

	return results
}

// buildActivation maps a profile onto the CEL variable set.
func buildActivation(profile *domain.SubjectProfile) map[string]any {
	membership := make(map[string]map[string]float64, len(profile.Axes))
	dominant := make(map[string]string, len(profile.Axes))
	strength := make(map[string]string, len(profile.Axes))
	for axis, am := range profile.Axes {
		membership[axis] = am.Memberships
		dominant[axis] = am.Dominant
		strength[axis] = am.Strength
	}

	stale := false
	for _, w := range profile.Warnings {
		if w == domain.WarnStaleModel {
			stale = true
		}
	}

	return map[string]any{
		"membership":       membership,
		"dominant":         dominant,
		"strength":         strength,
		"archetype_id":     profile.ArchetypeID,
		"event_count":      profile.EventCount,
		"cumulative_value": profile.CumulativeValue,
		"tenure_days":      profile.TenureDays,
		"stale_model":      stale,
	}
}

// evaluateScore evaluates a single score and returns the result.
func (e *Engine) evaluateScore(sc *CompiledScore, activation map[string]any, subjectID string) domain.ScoreResult {
	start := time.Now()

	result := domain.ScoreResult{
		ScoreID:   sc.Config.ID,
		SubjectID: subjectID,
	}

	out, _, err := sc.Program.Eval(activation)
	if err != nil {
		result.Label = "error"
		result.Reason = fmt.Sprintf("evaluation error: %v", err)
		result.ProcessMs = time.Since(start).Milliseconds()
		return result
	}

	result.Value = toValue(out)
	result.Label, result.Reason = matchBand(result.Value, sc.Config.Bands)
	result.ProcessMs = time.Since(start).Milliseconds()

	return result
}

// toValue converts a CEL value to a numeric score.
func toValue(val ref.Val) float64 {
	switch v := val.(type) {
	case types.Bool:
		if v {
			return 1.0
		}
		return 0.0
	case types.Double:
		return float64(v)
	case types.Int:
		return float64(v)
	default:
		return 0.0
	}
}

// matchBand finds the matching band label for a score. Bands are
// lower-inclusive, upper-exclusive; a nil upper bound means infinity.
func matchBand(score float64, bands []domain.ScoreBand) (string, string) {
	for _, band := range bands {
		lower := 0.0
		hasUpper := band.UpperLimit != nil
		upper := float64(1e9) // effectively infinity

		if band.LowerLimit != nil {
			lower = *band.LowerLimit
		}
		if hasUpper {
			upper = *band.UpperLimit
		}

		if score >= lower && (!hasUpper || score < upper) {
			return band.Label, band.Reason
		}
	}

	return domain.ScoreLabelNone, ""
}

// ScoresCount returns the number of loaded scores.
func (e *Engine) ScoresCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiledScores)
}

// ReloadScores clears all existing scores and loads new ones.
// This enables hot-reloading of score definitions from the database.
func (e *Engine) ReloadScores(configs []*domain.ScoreConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	newScores := make(map[string]*CompiledScore)

	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}

		compiled, err := e.compileScore(cfg)
		if err != nil {
			return err
		}
		newScores[cfg.ID] = compiled
	}

	e.compiledScores = newScores

	return nil
}

// GetLoadedScores returns the currently loaded score configurations.
func (e *Engine) GetLoadedScores() []*domain.ScoreConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()

	configs := make([]*domain.ScoreConfig, 0, len(e.compiledScores))
	for _, compiled := range e.compiledScores {
		configs = append(configs, compiled.Config)
	}
	return configs
}

// Close cleans up the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiledScores = make(map[string]*CompiledScore)
	return nil
}

func (e *Engine) compileScore(cfg *domain.ScoreConfig) (*CompiledScore, error) {
	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile score %s: %w", cfg.ID, issues.Err())
	}

	outputType := ast.OutputType()
	if outputType != cel.BoolType && outputType != cel.DoubleType && outputType != cel.IntType {
		return nil, fmt.Errorf("score %s: expression must return bool, int, or double, got %s", cfg.ID, outputType)
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for score %s: %w", cfg.ID, err)
	}

	return &CompiledScore{
		Config:  cfg,
		Program: program,
	}, nil
}
