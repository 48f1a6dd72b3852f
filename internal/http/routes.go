package httpx

import (
	"log/slog"
	"net/http"
)

const (
	healthPath       = "/healthz"
	streamPathPrefix = "/sse/"
)

// RouterServices holds all the services needed by the HTTP router.
type RouterServices struct {
	Assessments AssessmentService
	Streams     ReportStreamer
	// HealthChecks are probed by /healthz; empty means a static liveness answer.
	HealthChecks map[string]HealthCheck
	Logger       *slog.Logger // Logger for handler errors (optional)
}

// NewRouter creates and configures the HTTP router.
func NewRouter(services RouterServices) http.Handler {
	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()

	if services.Assessments != nil {
		registerAssessmentRoutes(mux, &AssessmentHandlers{Svc: services.Assessments, Logger: logger})
	}
	if services.Streams != nil {
		registerStreamRoutes(mux, &StreamHandlers{Bridge: services.Streams, Logger: logger})
	}

	health := newHealthHandler(services.HealthChecks, logger)
	mux.Handle("GET "+healthPath, health)
	mux.Handle("HEAD "+healthPath, health)
	return mux
}

func registerAssessmentRoutes(mux *http.ServeMux, h *AssessmentHandlers) {
	mux.HandleFunc("POST /api/assessments", h.Submit)
	mux.HandleFunc("GET /api/assessments/{id}/status", h.Status)
	mux.HandleFunc("GET /api/assessments/{id}/report", h.Report)
}

func registerStreamRoutes(mux *http.ServeMux, h *StreamHandlers) {
	mux.HandleFunc("GET "+streamPathPrefix+"report-status/{id}", h.ReportStatus)
}
