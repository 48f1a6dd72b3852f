package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeHTTP runs the HTTP server (submission, status, report stream).
	ServiceModeHTTP ServiceMode = "http"
	// ServiceModeAnalysisWorker runs the analysis job runner.
	ServiceModeAnalysisWorker ServiceMode = "analysis-worker"
	// ServiceModeReaper runs the retention and stale job reaper.
	ServiceModeReaper ServiceMode = "reaper"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{
		ServiceModeHTTP,
		ServiceModeAnalysisWorker,
		ServiceModeReaper,
	}
}

// ParseServices parses a comma-delimited string of service names and returns the enabled services.
// It validates that all service names are valid and returns an error if any are invalid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	for _, part := range strings.Split(servicesStr, ",") {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeHTTP, ServiceModeAnalysisWorker, ServiceModeReaper:
			services[mode] = true
		default:
			return nil, fmt.Errorf(
				"invalid service name: %q (valid options: http, analysis-worker, reaper)",
				serviceName,
			)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// DefaultFailureMarkers are substrings that mark an analysis result as a failure report.
var DefaultFailureMarkers = []string{"错误", "Error", "失败"}

// WorkerConfig contains analysis worker configuration.
type WorkerConfig struct {
	// Concurrency is the number of worker goroutines.
	Concurrency int `env:"WORKER_CONCURRENCY" envDefault:"2"`

	// JobLease is how long a reserved queue entry stays invisible to other workers.
	// It must exceed the slowest expected analysis.
	JobLease time.Duration `env:"WORKER_JOB_LEASE" envDefault:"15m"`

	// ExecutionTimeout bounds a single analysis call.
	ExecutionTimeout time.Duration `env:"WORKER_EXECUTION_TIMEOUT" envDefault:"10m"`

	// MaxAttempts is how many times a queued assessment may be delivered before it is failed
	// without running analysis again.
	MaxAttempts int `env:"WORKER_MAX_ATTEMPTS" envDefault:"3"`

	// FailureMarkers overrides DefaultFailureMarkers when set.
	FailureMarkers []string `env:"WORKER_FAILURE_MARKERS" envSeparator:","`
}

// Sanitize applies guardrails to worker configuration values.
func (w *WorkerConfig) Sanitize() {
	if w.Concurrency < 1 {
		w.Concurrency = 1
	}
	if w.MaxAttempts < 1 {
		w.MaxAttempts = 1
	}
	if w.JobLease < 30*time.Second {
		w.JobLease = 30 * time.Second
	}
	if w.ExecutionTimeout <= 0 || w.ExecutionTimeout > w.JobLease {
		w.ExecutionTimeout = w.JobLease
	}

	markers := make([]string, 0, len(w.FailureMarkers))
	for _, m := range w.FailureMarkers {
		if m = strings.TrimSpace(m); m != "" {
			markers = append(markers, m)
		}
	}
	if len(markers) == 0 {
		markers = append(markers, DefaultFailureMarkers...)
	}
	w.FailureMarkers = markers
}

// ReaperConfig contains reaper service configuration.
type ReaperConfig struct {
	// Interval is the reaper tick interval.
	Interval time.Duration `env:"REAPER_INTERVAL" envDefault:"5m"`

	// PendingMaxAge is the maximum age for pending assessments before they are marked as failed.
	// Only records without a queue entry count; a backlog of queued records is never reaped.
	PendingMaxAge time.Duration `env:"REAPER_PENDING_MAX_AGE" envDefault:"1h"`

	// CompleteMaxAge is the retention for complete assessments.
	CompleteMaxAge time.Duration `env:"REAPER_COMPLETE_MAX_AGE" envDefault:"2160h"` // 90 days

	// FailedMaxAge is the retention for failed assessments.
	FailedMaxAge time.Duration `env:"REAPER_FAILED_MAX_AGE" envDefault:"720h"` // 30 days

	// BatchSize is the maximum number of rows to process per operation.
	BatchSize int `env:"REAPER_BATCH_SIZE" envDefault:"500"`
}

// Sanitize applies guardrails to reaper configuration values.
func (r *ReaperConfig) Sanitize() {
	if r.Interval < 1*time.Minute {
		r.Interval = 1 * time.Minute
	}
	if r.PendingMaxAge < 5*time.Minute {
		r.PendingMaxAge = 5 * time.Minute
	}
	if r.CompleteMaxAge < 24*time.Hour {
		r.CompleteMaxAge = 24 * time.Hour
	}
	if r.FailedMaxAge < 1*time.Hour {
		r.FailedMaxAge = 1 * time.Hour
	}

	if r.BatchSize < 1 {
		r.BatchSize = 1
	}
	if r.BatchSize > 10000 {
		r.BatchSize = 10000
	}
}
