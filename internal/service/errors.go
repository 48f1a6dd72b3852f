package service

import "errors"

// Error taxonomy of the analysis pipeline. Executor results and status lookups
// wrap one of these so callers can branch with errors.Is.
var (
	// ErrJobNotFound is returned when no assessment exists for an id.
	ErrJobNotFound = errors.New("assessment not found")
	// ErrProcessorUnavailable is returned when no analyzer is configured.
	ErrProcessorUnavailable = errors.New("analysis processor unavailable")
	// ErrAnalysisFailure wraps analyzer errors and failure reports.
	ErrAnalysisFailure = errors.New("analysis failed")
	// ErrPersistenceFailure wraps record store errors during result writes.
	ErrPersistenceFailure = errors.New("failed to persist analysis result")
	// ErrPublishFailure wraps broker errors when announcing an outcome.
	ErrPublishFailure = errors.New("failed to publish outcome")
)
