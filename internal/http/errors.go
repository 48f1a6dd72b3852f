package httpx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	apperrors "github.com/psyassess/assessd/internal/errors"
	"github.com/psyassess/assessd/internal/service"
)

// Error codes returned in the "code" field of API errors.
const (
	ErrCodeNotFound    = "not_found"
	ErrCodeInvalidID   = "invalid_id"
	ErrCodeValidation  = "validation"
	ErrCodeNotReady    = "not_ready"
	ErrCodeUnavailable = "unavailable"
	ErrCodeInternal    = "internal"
)

var errInternal = errors.New("internal server error")

// writeServiceError maps service and data errors onto HTTP responses. Internal
// causes are logged and never sent to the client.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, service.ErrJobNotFound):
		WriteError(w, ErrorParams{Code: http.StatusNotFound, ErrCode: ErrCodeNotFound, Err: service.ErrJobNotFound})
	case apperrors.IsValidation(err):
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: ErrCodeValidation, Err: err})
	case errors.Is(err, context.Canceled):
		// Client went away; nothing useful to write.
		logger.DebugContext(r.Context(), "request canceled", "path", r.URL.Path)
	case apperrors.GetCode(err) == apperrors.ErrCodeUnavailable,
		apperrors.IsTimeout(err),
		errors.Is(err, context.DeadlineExceeded):
		logger.WarnContext(r.Context(), "dependency unavailable", "path", r.URL.Path, "error", err)
		WriteError(w, ErrorParams{
			Code:    http.StatusServiceUnavailable,
			ErrCode: ErrCodeUnavailable,
			Err:     errors.New("service temporarily unavailable"),
		})
	default:
		logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		WriteError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: ErrCodeInternal, Err: errInternal})
	}
}
