package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/psyassess/assessd/internal/core"
	"github.com/psyassess/assessd/internal/domain/assessment"
	"github.com/psyassess/assessd/internal/domain/model"
)

// memStore is an in-memory record store that enforces the status state machine.
type memStore struct {
	mu      sync.Mutex
	records map[string]*model.Assessment

	setTextErr error
	statusErrs map[model.AssessmentStatus]error
	// statusErrsOnce fail only the next write of that status.
	statusErrsOnce map[model.AssessmentStatus]error
	beforeStatus   func(rec model.Assessment, target model.AssessmentStatus)
	getCalls       atomic.Int64
}

func newMemStore() *memStore {
	return &memStore{
		records:        make(map[string]*model.Assessment),
		statusErrs:     make(map[model.AssessmentStatus]error),
		statusErrsOnce: make(map[model.AssessmentStatus]error),
	}
}

func (s *memStore) seed(status model.AssessmentStatus, text *string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	now := time.Now().UTC()
	s.records[id] = &model.Assessment{
		ID:          id,
		Status:      status,
		ReportText:  text,
		SubjectName: "Subject",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return id
}

func (s *memStore) snapshot(id string) model.Assessment {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := *s.records[id]
	if rec.ReportText != nil {
		text := *rec.ReportText
		rec.ReportText = &text
	}
	return rec
}

func (s *memStore) Create(_ context.Context, req *model.CreateAssessmentRequest) (*model.Assessment, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	id := s.seed(model.AssessmentStatusPending, nil)
	s.mu.Lock()
	s.records[id].SubjectName = req.SubjectName
	s.mu.Unlock()
	rec := s.snapshot(id)
	return &rec, nil
}

func (s *memStore) GetByID(_ context.Context, id string) (*model.Assessment, error) {
	s.getCalls.Add(1)
	s.mu.Lock()
	_, ok := s.records[id]
	s.mu.Unlock()
	if !ok {
		return nil, model.ErrAssessmentNotFound
	}
	rec := s.snapshot(id)
	return &rec, nil
}

func (s *memStore) UpdateStatus(
	_ context.Context,
	id string,
	target model.AssessmentStatus,
) (model.AssessmentStatus, error) {
	s.mu.Lock()
	rec, ok := s.records[id]
	s.mu.Unlock()
	if !ok {
		return "", model.ErrAssessmentNotFound
	}
	if s.beforeStatus != nil {
		s.beforeStatus(s.snapshot(id), target)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.statusErrs[target]; err != nil {
		return rec.Status, err
	}
	if err := s.statusErrsOnce[target]; err != nil {
		delete(s.statusErrsOnce, target)
		return rec.Status, err
	}
	next, err := assessment.Transition(rec.Status, target)
	if err != nil {
		return rec.Status, err
	}
	if next == model.AssessmentStatusComplete && (rec.ReportText == nil || *rec.ReportText == "") {
		return rec.Status, model.ErrReportTextRequired
	}
	rec.Status = next
	rec.UpdatedAt = time.Now().UTC()
	return next, nil
}

func (s *memStore) SetReportText(_ context.Context, id, text string) error {
	if s.setTextErr != nil {
		return s.setTextErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return model.ErrAssessmentNotFound
	}
	if rec.Status.IsTerminal() {
		return model.ErrAssessmentTerminal
	}
	rec.ReportText = &text
	return nil
}

var _ core.AssessmentRepository = (*memStore)(nil)

// ctxStore honours cancellation on reads like the database-backed store.
type ctxStore struct {
	*memStore
}

func (s ctxStore) GetByID(ctx context.Context, id string) (*model.Assessment, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("query assessment: %w", err)
	}
	return s.memStore.GetByID(ctx, id)
}

type publishedMessage struct {
	channel string
	payload []byte
}

// memBroker is an in-process broker with the same fire-and-forget semantics as the real ones.
type memBroker struct {
	mu         sync.Mutex
	subs       map[string]map[*memSubscription]struct{}
	published  []publishedMessage
	publishErr error
	subscribed chan string
	active     atomic.Int64
}

func newMemBroker() *memBroker {
	return &memBroker{
		subs:       make(map[string]map[*memSubscription]struct{}),
		subscribed: make(chan string, 64),
	}
}

func (b *memBroker) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, publishedMessage{channel: channel, payload: append([]byte(nil), payload...)})
	if b.publishErr != nil {
		return b.publishErr
	}
	for sub := range b.subs[channel] {
		select {
		case sub.ch <- payload:
		default:
		}
	}
	return nil
}

func (b *memBroker) Subscribe(_ context.Context, channel string) (core.Subscription, error) {
	sub := &memSubscription{broker: b, channel: channel, ch: make(chan []byte, 8)}
	b.mu.Lock()
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[*memSubscription]struct{})
	}
	b.subs[channel][sub] = struct{}{}
	b.mu.Unlock()
	b.active.Add(1)
	select {
	case b.subscribed <- channel:
	default:
	}
	return sub, nil
}

func (b *memBroker) Close() error { return nil }

func (b *memBroker) ActiveSubscriptions() int64 { return b.active.Load() }

func (b *memBroker) messages() []publishedMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]publishedMessage(nil), b.published...)
}

func (b *memBroker) setPublishErr(err error) {
	b.mu.Lock()
	b.publishErr = err
	b.mu.Unlock()
}

type memSubscription struct {
	broker  *memBroker
	channel string
	ch      chan []byte
	once    sync.Once
}

func (s *memSubscription) Messages() <-chan []byte { return s.ch }

func (s *memSubscription) Close() error {
	s.once.Do(func() {
		s.broker.mu.Lock()
		delete(s.broker.subs[s.channel], s)
		close(s.ch)
		s.broker.mu.Unlock()
		s.broker.active.Add(-1)
	})
	return nil
}

var (
	_ core.Broker              = (*memBroker)(nil)
	_ core.SubscriptionCounter = (*memBroker)(nil)
)

var errBrokerDown = errors.New("broker unreachable")

func strPtr(s string) *string { return &s }
