package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/psyassess/assessd/config"
	"github.com/psyassess/assessd/internal/core"
	"github.com/psyassess/assessd/internal/domain/assessment"
	"github.com/psyassess/assessd/internal/domain/model"
	"github.com/psyassess/assessd/internal/observability/metrics"
	"github.com/psyassess/assessd/internal/observability/statsd"
)

const (
	defaultStreamWait        = 60 * time.Second
	defaultStreamMaxDuration = 30 * time.Minute
)

// ErrSubscriptionClosed is returned when the broker ends a subscription before an outcome arrived.
var ErrSubscriptionClosed = errors.New("subscription closed by broker")

// Sink receives the events of one report status stream.
// A write error means the client is gone and ends the stream.
type Sink interface {
	Ready(assessmentID string) error
	Failed(assessmentID, detail string) error
	Keepalive() error
}

// Opener is implemented by sinks that announce the stream once the
// subscription is in place, before any event is available.
type Opener interface {
	Open() error
}

// StreamEnd describes how a stream finished.
type StreamEnd string

const (
	// StreamDelivered means a terminal event was written to the sink.
	StreamDelivered StreamEnd = "delivered"
	// StreamDisconnected means the client went away first.
	StreamDisconnected StreamEnd = "disconnected"
	// StreamExpired means the maximum stream duration elapsed.
	StreamExpired StreamEnd = "expired"
)

// SubscriptionBridgeOptions groups dependencies for SubscriptionBridge.
type SubscriptionBridgeOptions struct {
	Broker        core.Broker           // Required: pub/sub transport
	Reader        core.AssessmentReader // Optional: enables the status check on connect
	ChannelPrefix string                // Optional: defaults to config.DefaultChannelPrefix
	// WaitTimeout is the silence after which a keepalive is written.
	WaitTimeout time.Duration
	// MaxDuration ends streams that never see an outcome.
	MaxDuration time.Duration
	// CheckStatusOnConnect delivers the stored outcome when the record already finished.
	CheckStatusOnConnect bool
	Logger               *slog.Logger
	Metrics              statsd.Sink
}

// SubscriptionBridge turns outcome messages for one assessment into stream events.
type SubscriptionBridge struct {
	broker      core.Broker
	reader      core.AssessmentReader
	prefix      string
	waitTimeout time.Duration
	maxDuration time.Duration
	checkStatus bool
	logger      *slog.Logger
	metrics     statsd.Sink
	active      atomic.Int64
}

// NewSubscriptionBridge constructs a SubscriptionBridge.
func NewSubscriptionBridge(opts SubscriptionBridgeOptions) (*SubscriptionBridge, error) {
	if opts.Broker == nil {
		return nil, errors.New("broker is required")
	}
	if opts.CheckStatusOnConnect && opts.Reader == nil {
		return nil, errors.New("AssessmentReader is required to check status on connect")
	}
	prefix := opts.ChannelPrefix
	if prefix == "" {
		prefix = config.DefaultChannelPrefix
	}
	wait := opts.WaitTimeout
	if wait <= 0 {
		wait = defaultStreamWait
	}
	maxDuration := opts.MaxDuration
	if maxDuration <= 0 {
		maxDuration = defaultStreamMaxDuration
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SubscriptionBridge{
		broker:      opts.Broker,
		reader:      opts.Reader,
		prefix:      prefix,
		waitTimeout: wait,
		maxDuration: maxDuration,
		checkStatus: opts.CheckStatusOnConnect,
		logger:      logger.With("component", "subscription_bridge"),
		metrics:     opts.Metrics,
	}, nil
}

// MustNewSubscriptionBridge constructs a SubscriptionBridge and panics on error.
func MustNewSubscriptionBridge(opts SubscriptionBridgeOptions) *SubscriptionBridge {
	b, err := NewSubscriptionBridge(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create SubscriptionBridge: %v", err))
	}
	return b
}

// Active returns the number of streams currently open.
func (b *SubscriptionBridge) Active() int64 {
	return b.active.Load()
}

// Stream subscribes to the outcome channel of assessmentID and writes events to sink
// until an outcome is delivered, ctx ends, or the maximum duration elapses.
// The subscription is released on every return path.
func (b *SubscriptionBridge) Stream(ctx context.Context, assessmentID string, sink Sink) (StreamEnd, error) {
	channel := assessment.ChannelName(b.prefix, assessmentID)
	sub, err := b.broker.Subscribe(ctx, channel)
	if err != nil {
		metrics.EmitStreamEvent(b.metrics, metrics.StreamError)
		return "", fmt.Errorf("subscribe %s: %w", channel, err)
	}
	defer func() {
		if closeErr := sub.Close(); closeErr != nil {
			b.logger.WarnContext(ctx, "failed to close subscription", "channel", channel, "error", closeErr)
		}
	}()

	metrics.EmitActiveStreams(b.metrics, b.active.Add(1))
	defer func() {
		metrics.EmitActiveStreams(b.metrics, b.active.Add(-1))
	}()

	log := b.logger.With("assessment_id", assessmentID)
	log.DebugContext(ctx, "stream subscribed", "channel", channel)

	if o, ok := sink.(Opener); ok {
		if err := o.Open(); err != nil {
			metrics.EmitStreamEvent(b.metrics, metrics.StreamDisconnect)
			return StreamDisconnected, fmt.Errorf("open stream: %w", err)
		}
	}

	if b.checkStatus {
		if msg, ok := b.storedOutcome(ctx, assessmentID); ok {
			return b.deliver(ctx, sink, msg)
		}
	}

	return b.wait(ctx, log, sub, sink, assessmentID)
}

func (b *SubscriptionBridge) wait(
	ctx context.Context,
	log *slog.Logger,
	sub core.Subscription,
	sink Sink,
	assessmentID string,
) (StreamEnd, error) {
	deadline := time.NewTimer(b.maxDuration)
	defer deadline.Stop()
	idle := time.NewTimer(b.waitTimeout)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			metrics.EmitStreamEvent(b.metrics, metrics.StreamDisconnect)
			log.DebugContext(ctx, "stream client disconnected")
			return StreamDisconnected, nil

		case <-deadline.C:
			metrics.EmitStreamEvent(b.metrics, metrics.StreamExpired)
			log.InfoContext(ctx, "stream reached maximum duration", "max_duration", b.maxDuration)
			return StreamExpired, nil

		case <-idle.C:
			if err := sink.Keepalive(); err != nil {
				metrics.EmitStreamEvent(b.metrics, metrics.StreamDisconnect)
				return StreamDisconnected, fmt.Errorf("write keepalive: %w", err)
			}
			metrics.EmitStreamEvent(b.metrics, metrics.StreamKeepalive)
			idle.Reset(b.waitTimeout)

		case payload, ok := <-sub.Messages():
			if !ok {
				metrics.EmitStreamEvent(b.metrics, metrics.StreamError)
				return StreamDisconnected, ErrSubscriptionClosed
			}
			msg, err := assessment.DecodeOutcome(assessmentID, payload)
			if err != nil {
				log.WarnContext(ctx, "ignoring unrecognized outcome payload", "error", err)
				continue
			}
			return b.deliver(ctx, sink, msg)
		}
	}
}

func (b *SubscriptionBridge) deliver(ctx context.Context, sink Sink, msg assessment.OutcomeMessage) (StreamEnd, error) {
	var err error
	event := metrics.StreamReady
	if msg.Outcome == assessment.OutcomeSuccess {
		err = sink.Ready(msg.AssessmentID)
	} else {
		event = metrics.StreamFailed
		err = sink.Failed(msg.AssessmentID, msg.ErrorDetail)
	}
	if err != nil {
		metrics.EmitStreamEvent(b.metrics, metrics.StreamDisconnect)
		return StreamDisconnected, fmt.Errorf("write %s event: %w", msg.Outcome, err)
	}
	metrics.EmitStreamEvent(b.metrics, event)
	b.logger.DebugContext(ctx, "stream delivered outcome",
		"assessment_id", msg.AssessmentID,
		"outcome", msg.Outcome,
	)
	return StreamDelivered, nil
}

// storedOutcome reads the record once after subscribing so an outcome published
// before the client connected is not missed.
func (b *SubscriptionBridge) storedOutcome(ctx context.Context, assessmentID string) (assessment.OutcomeMessage, bool) {
	rec, err := b.reader.GetByID(ctx, assessmentID)
	if err != nil {
		if !errors.Is(err, model.ErrAssessmentNotFound) {
			b.logger.WarnContext(ctx, "status check on connect failed", "assessment_id", assessmentID, "error", err)
		}
		return assessment.OutcomeMessage{}, false
	}
	switch rec.Status {
	case model.AssessmentStatusComplete:
		return assessment.NewOutcomeMessage(assessmentID, assessment.OutcomeSuccess, ""), true
	case model.AssessmentStatusFailed:
		detail := ""
		if rec.ReportText != nil {
			detail = *rec.ReportText
		}
		return assessment.NewOutcomeMessage(assessmentID, assessment.OutcomeFailed, detail), true
	case model.AssessmentStatusPending, model.AssessmentStatusProcessing:
	}
	return assessment.OutcomeMessage{}, false
}
