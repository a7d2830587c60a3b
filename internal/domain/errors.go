package domain

import "errors"

// Error taxonomy for the segmentation core. All are recovered locally:
// insufficient data marks a subject ungrouped or refuses a sampling
// run, a degenerate fit skips one axis without touching the others, a
// naming failure falls back to a rule-based name.
var (
	// ErrInsufficientData: population or per-subject history too small
	// for the requested operation.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrDegenerateModel: a per-axis fit failed numerically (singular
	// covariance, zero-variance feature).
	ErrDegenerateModel = errors.New("degenerate model")

	// ErrNamingCollaborator: external naming call failed or timed out.
	ErrNamingCollaborator = errors.New("naming collaborator unavailable")

	// ErrInvalidConfig: a configuration rejected at load time.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// WarnStaleModel is the warning attached to profiles assigned against
// an axis model older than the configured staleness threshold. Not an
// error; assignment proceeds.
const WarnStaleModel = "stale_model"
