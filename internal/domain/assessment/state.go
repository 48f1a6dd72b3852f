// Package assessment holds the pure rules of the analysis pipeline: the status
// state machine, outcome message encoding and result classification.
package assessment

import (
	"errors"
	"fmt"

	"github.com/psyassess/assessd/internal/domain/model"
)

var (
	// ErrIllegalTransition is returned for any edge the state machine does not allow.
	ErrIllegalTransition = errors.New("illegal status transition")
	// ErrUnknownStatus is returned when either side of a transition is not a known status.
	ErrUnknownStatus = errors.New("unknown assessment status")
)

// legalEdges lists every allowed from→to pair. Same-state requests are handled separately.
var legalEdges = map[model.AssessmentStatus][]model.AssessmentStatus{
	model.AssessmentStatusPending:    {model.AssessmentStatusProcessing, model.AssessmentStatusFailed},
	model.AssessmentStatusProcessing: {model.AssessmentStatusComplete, model.AssessmentStatusFailed},
}

// Transition validates moving from current to target and returns the resulting status.
// Requesting the status the record already has is a successful no-op.
func Transition(current, target model.AssessmentStatus) (model.AssessmentStatus, error) {
	if !current.Valid() {
		return current, fmt.Errorf("%w: %q", ErrUnknownStatus, current)
	}
	if !target.Valid() {
		return current, fmt.Errorf("%w: %q", ErrUnknownStatus, target)
	}
	if current == target {
		return current, nil
	}
	if CanTransition(current, target) {
		return target, nil
	}
	return current, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, current, target)
}

// CanTransition reports whether current→target is a legal edge (excluding the same-state no-op).
func CanTransition(current, target model.AssessmentStatus) bool {
	for _, next := range legalEdges[current] {
		if next == target {
			return true
		}
	}
	return false
}

// IsTerminal reports whether status accepts no further transitions.
func IsTerminal(status model.AssessmentStatus) bool {
	return status.IsTerminal()
}

// Rank orders statuses along the lifecycle; both terminal statuses share the top rank.
func Rank(status model.AssessmentStatus) int {
	switch status {
	case model.AssessmentStatusPending:
		return 0
	case model.AssessmentStatusProcessing:
		return 1
	case model.AssessmentStatusComplete, model.AssessmentStatusFailed:
		return 2
	}
	return -1
}

// ParseStatus converts raw text into a known status.
func ParseStatus(raw string) (model.AssessmentStatus, error) {
	var s model.AssessmentStatus
	if err := s.UnmarshalText([]byte(raw)); err != nil {
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, raw)
	}
	return s, nil
}
