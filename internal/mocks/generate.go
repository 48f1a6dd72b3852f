// Package mocks provides gomock implementations of the ports in internal/core.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	repo := mocks.NewMockAssessmentRepository(ctrl)
//	repo.EXPECT().GetByID(gomock.Any(), id).Return(record, nil)
package mocks

// Job record store: Create, GetByID, UpdateStatus, SetReportText.
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=assessment_repository_mock.go github.com/psyassess/assessd/internal/core AssessmentRepository

// Read-only record access used by the status endpoint and the subscription bridge.
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=assessment_reader_mock.go github.com/psyassess/assessd/internal/core AssessmentReader

// Analysis queue: Enqueue, ReserveNext, WaitForNotification, Ack.
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=queue_mock.go github.com/psyassess/assessd/internal/core Queue

// Retention and stale-record operations.
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=reaper_repository_mock.go github.com/psyassess/assessd/internal/core ReaperRepository

// Outcome pub/sub transport and its per-connection subscription.
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=broker_mock.go github.com/psyassess/assessd/internal/core Broker
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=subscription_mock.go github.com/psyassess/assessd/internal/core Subscription

// External analysis function.
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=analyzer_mock.go github.com/psyassess/assessd/internal/core Analyzer
