// Package metrics names and tags the metrics emitted by the analysis pipeline.
package metrics

import (
	"strconv"
	"time"

	obserrors "github.com/psyassess/assessd/internal/observability/errors"
	"github.com/psyassess/assessd/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoop    = "noop"
)

// Lifecycle transitions reported by workers.
const (
	TransitionReserved  = "reserved"
	TransitionCompleted = "completed"
	TransitionFailed    = "failed"
	TransitionSkipped   = "skipped"
)

// JobMetric captures one analysis job lifecycle event.
type JobMetric struct {
	Transition string
	Result     string
	Attempt    int
	Duration   time.Duration
	Err        error
}

// EmitJobLifecycle emits analysis job lifecycle metrics.
func EmitJobLifecycle(sink statsd.Sink, in JobMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"transition": in.Transition,
		"result":     in.Result,
	}
	if in.Attempt > 0 {
		tags["attempt"] = strconv.Itoa(in.Attempt)
	}
	if in.Err != nil && in.Result == ResultError {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("analysis.transition", 1, tags)
	if in.Duration > 0 {
		sink.Timing("analysis.duration", in.Duration, CloneTags(tags))
	}
}

// EmitPublish counts one outcome publish attempt.
func EmitPublish(sink statsd.Sink, outcome string, err error) {
	if sink == nil {
		return
	}
	tags := map[string]string{"outcome": outcome, "result": ResultSuccess}
	if err != nil {
		tags["result"] = ResultError
		tags["error_class"] = obserrors.Classify(err)
	}
	sink.Count("publish.outcome", 1, tags)
}

// Stream events.
const (
	StreamReady      = "ready"
	StreamFailed     = "failed"
	StreamKeepalive  = "keepalive"
	StreamDisconnect = "disconnect"
	StreamExpired    = "expired"
	StreamError      = "error"
)

// EmitStreamEvent counts one subscription bridge event.
func EmitStreamEvent(sink statsd.Sink, event string) {
	if sink == nil {
		return
	}
	sink.Count("stream.event", 1, map[string]string{"event": event})
}

// EmitActiveStreams reports the number of open subscription bridges.
func EmitActiveStreams(sink statsd.Sink, active int64) {
	if sink == nil {
		return
	}
	sink.Gauge("stream.active", float64(active), nil)
}

// CloneTags creates a shallow copy of a tag map.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
