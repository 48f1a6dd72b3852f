// Package core defines the ports between the assessment services and their adapters.
package core

import (
	"context"
	"time"

	"github.com/psyassess/assessd/internal/domain/model"
)

// This file contains the interface definitions (ports in hexagonal architecture).
// Services depend on these interfaces; data and broker packages implement them.

// AssessmentReader is the read side of the job record store.
type AssessmentReader interface {
	GetByID(ctx context.Context, id string) (*model.Assessment, error)
}

// AssessmentRepository is the job record store.
//
// UpdateStatus is the only way to change a record's status; it applies the
// status state machine and returns the status the record holds afterwards.
// SetReportText writes the result text without touching the status, which
// makes "text written, status not yet terminal" a valid observable state.
type AssessmentRepository interface {
	AssessmentReader
	Create(ctx context.Context, req *model.CreateAssessmentRequest) (*model.Assessment, error)
	UpdateStatus(ctx context.Context, id string, target model.AssessmentStatus) (model.AssessmentStatus, error)
	SetReportText(ctx context.Context, id, text string) error
}

// QueueEntry is a reserved delivery of an assessment id.
type QueueEntry struct {
	AssessmentID   string
	Attempts       int
	EnqueuedAt     time.Time
	LeaseExpiresAt time.Time
}

// Queue hands assessment ids from the submission path to workers.
// A reserved entry is invisible to other workers until its lease expires or it is acked.
type Queue interface {
	Enqueue(ctx context.Context, assessmentID string) error
	ReserveNext(ctx context.Context, lease time.Duration) (*QueueEntry, error)
	WaitForNotification(ctx context.Context) error
	Ack(ctx context.Context, assessmentID string) error
}

// QueueMaintainer recovers queue entries whose worker vanished.
type QueueMaintainer interface {
	// RequeueExpired clears expired leases and returns how many entries were released.
	RequeueExpired(ctx context.Context) (int64, error)
}

// DeleteOldAssessmentsParams groups parameters for ReaperRepository.DeleteOld.
type DeleteOldAssessmentsParams struct {
	Status    model.AssessmentStatus
	MaxAge    time.Duration
	BatchSize int
}

// ReaperRepository defines retention and stale-record operations.
type ReaperRepository interface {
	// FailStalePending fails unqueued pending records older than maxAge and returns their ids.
	FailStalePending(ctx context.Context, maxAge time.Duration, batchSize int) ([]string, error)
	DeleteOld(ctx context.Context, params DeleteOldAssessmentsParams) (int64, error)
}

// Subscription is one live channel subscription. Close must be called on every exit path.
type Subscription interface {
	Messages() <-chan []byte
	Close() error
}

// Broker is the pub/sub transport for outcome messages.
type Broker interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (Subscription, error)
	Close() error
}

// SubscriptionCounter is implemented by brokers that track open subscriptions.
type SubscriptionCounter interface {
	ActiveSubscriptions() int64
}

// Analyzer is the external analysis function. It may be slow and may fail.
type Analyzer interface {
	Analyze(ctx context.Context, input model.AnalysisInput) (string, error)
}

// HealthChecker is implemented by adapters that can probe their backend.
type HealthChecker interface {
	Ping(ctx context.Context) error
}
