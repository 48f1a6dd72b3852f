package data

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/psyassess/assessd/internal/domain/model"
)

// Shared sentinel errors for data-layer repositories.
var (
	// ErrAssessmentIDRequired is returned when an operation is called with a blank id.
	ErrAssessmentIDRequired = errors.New("assessment id is required")
	// ErrCreateRequestRequired is returned when Create receives a nil request.
	ErrCreateRequestRequired = errors.New("create assessment request is required")
)

// parseID validates a textual assessment id. Malformed ids cannot name a stored
// record, so they are reported as not found rather than surfacing a cast error from PostgreSQL.
func parseID(id string) (uuid.UUID, error) {
	if id == "" {
		return uuid.Nil, ErrAssessmentIDRequired
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %s", model.ErrAssessmentNotFound, id)
	}
	return parsed, nil
}
