// Package httpx provides the HTTP API and report status stream of the assessment pipeline.
package httpx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/psyassess/assessd/internal/domain/model"
	"github.com/psyassess/assessd/internal/service"
)

// AssessmentService is the request-tier surface used by the assessment handlers.
type AssessmentService interface {
	Submit(ctx context.Context, req *model.CreateAssessmentRequest) (*model.Assessment, error)
	Status(ctx context.Context, id string) (model.AssessmentStatus, error)
	Report(ctx context.Context, id string) (*model.AssessmentReportResponse, error)
}

var _ AssessmentService = (*service.AssessmentService)(nil)

// AssessmentHandlers serves submission, status and report endpoints.
type AssessmentHandlers struct {
	Svc    AssessmentService
	Logger *slog.Logger
}

// Submit handles POST /api/assessments.
func (h *AssessmentHandlers) Submit(w http.ResponseWriter, r *http.Request) {
	var req model.CreateAssessmentRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: ErrCodeValidation, Err: err})
		return
	}

	rec, err := h.Svc.Submit(r.Context(), &req)
	if err != nil {
		writeServiceError(w, r, h.logger(), err)
		return
	}

	w.Header().Set("Location", "/api/assessments/"+rec.ID+"/status")
	WriteJSON(w, http.StatusAccepted, model.AssessmentStatusResponse{ID: rec.ID, Status: rec.Status})
}

// Status handles GET /api/assessments/{id}/status.
func (h *AssessmentHandlers) Status(w http.ResponseWriter, r *http.Request) {
	id, ok := pathAssessmentID(w, r)
	if !ok {
		return
	}

	status, err := h.Svc.Status(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger(), err)
		return
	}

	WriteJSON(w, http.StatusOK, model.AssessmentStatusResponse{ID: id, Status: status})
}

// Report handles GET /api/assessments/{id}/report.
func (h *AssessmentHandlers) Report(w http.ResponseWriter, r *http.Request) {
	id, ok := pathAssessmentID(w, r)
	if !ok {
		return
	}

	resp, err := h.Svc.Report(r.Context(), id)
	switch {
	case err == nil:
		WriteJSON(w, http.StatusOK, resp)
	case errors.Is(err, service.ErrReportNotReady) && resp != nil:
		WriteJSON(w, http.StatusConflict, resp)
	case errors.Is(err, service.ErrReportMissing):
		h.logger().ErrorContext(r.Context(), "report missing for complete assessment", "assessment_id", id)
		WriteError(w, ErrorParams{
			Code:    http.StatusInternalServerError,
			ErrCode: ErrCodeInternal,
			Err:     errors.New("report text is missing"),
		})
	default:
		writeServiceError(w, r, h.logger(), err)
	}
}

func (h *AssessmentHandlers) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

// pathAssessmentID reads and validates the {id} path value, writing a 400 when malformed.
func pathAssessmentID(w http.ResponseWriter, r *http.Request) (string, bool) {
	raw := r.PathValue("id")
	id, err := uuid.Parse(raw)
	if err != nil {
		WriteError(w, ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: ErrCodeInvalidID,
			Err:     errors.New("assessment id must be a UUID"),
		})
		return "", false
	}
	return id.String(), true
}
