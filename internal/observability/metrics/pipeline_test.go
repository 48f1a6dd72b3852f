package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psyassess/assessd/internal/observability/statsd"
)

func TestEmitJobLifecycle(t *testing.T) {
	var rec statsd.Recorder
	EmitJobLifecycle(&rec, JobMetric{
		Transition: TransitionFailed,
		Result:     ResultError,
		Attempt:    2,
		Duration:   3 * time.Second,
		Err:        context.DeadlineExceeded,
	})

	counts := rec.Find("analysis.transition")
	require.Len(t, counts, 1)
	assert.Equal(t, map[string]string{
		"transition":  TransitionFailed,
		"result":      ResultError,
		"attempt":     "2",
		"error_class": "timeout",
	}, counts[0].Tags)

	timings := rec.Find("analysis.duration")
	require.Len(t, timings, 1)
	assert.InDelta(t, 3000, timings[0].Value, 0.001)
}

func TestEmitJobLifecycleSuccessHasNoErrorClass(t *testing.T) {
	var rec statsd.Recorder
	EmitJobLifecycle(&rec, JobMetric{Transition: TransitionCompleted, Result: ResultSuccess, Err: errors.New("ignored")})

	counts := rec.Find("analysis.transition")
	require.Len(t, counts, 1)
	assert.NotContains(t, counts[0].Tags, "error_class")
	assert.Empty(t, rec.Find("analysis.duration"))
}

func TestEmitPublish(t *testing.T) {
	var rec statsd.Recorder
	EmitPublish(&rec, "success", nil)
	EmitPublish(&rec, "failed", errors.New("broker down"))

	got := rec.Find("publish.outcome")
	require.Len(t, got, 2)
	assert.Equal(t, ResultSuccess, got[0].Tags["result"])
	assert.Equal(t, ResultError, got[1].Tags["result"])
	assert.NotEmpty(t, got[1].Tags["error_class"])
}

func TestEmitNilSinkIsNoop(t *testing.T) {
	assert.NotPanics(t, func() {
		EmitJobLifecycle(nil, JobMetric{})
		EmitPublish(nil, "success", nil)
		EmitStreamEvent(nil, StreamReady)
		EmitActiveStreams(nil, 1)
	})
}

func TestCloneTags(t *testing.T) {
	src := map[string]string{"a": "1"}
	cp := CloneTags(src)
	cp["a"] = "2"
	assert.Equal(t, "1", src["a"])
	assert.Nil(t, CloneTags(nil))
}
