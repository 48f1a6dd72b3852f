package statsd

import (
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatLine(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		tags map[string]string
		want string
	}{
		{name: "no tags", want: "assessd.publish:1|c"},
		{
			name: "sorted tags",
			tags: map[string]string{"result": "success", "outcome": "failed"},
			want: "assessd.publish:1|c|#outcome:failed,result:success",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatLine("assessd.publish", "1", "c", tt.tags))
		})
	}

	assert.Empty(t, FormatLine("", "1", "c", nil))
}

func TestMetricName(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		" analysis/duration ": "analysis_duration",
		"stream..active":      "stream.active",
		".queue.depth.":       "queue.depth",
		"a:b":                 "a_b",
	}
	for input, want := range tests {
		assert.Equal(t, want, metricName(input), input)
	}
}

func TestMergeTagsLocalWins(t *testing.T) {
	t.Parallel()

	got := mergeTags(
		map[string]string{"env": "prod", "service": "assessd"},
		map[string]string{" env ": " stage ", "": "ignored"},
	)
	assert.Equal(t, map[string]string{"env": "stage", "service": "assessd"}, got)
	assert.Nil(t, mergeTags(nil, nil))
}

func TestNilAndDisabledClientDropMetrics(t *testing.T) {
	t.Parallel()

	var nilClient *Client
	assert.NotPanics(t, func() {
		nilClient.Count("x", 1, nil)
		nilClient.Gauge("x", 1, nil)
		nilClient.Timing("x", time.Second, nil)
	})
	assert.False(t, nilClient.Enabled())
	require.NoError(t, nilClient.Close())

	disabled, err := NewClient(Config{Enabled: true, Address: "  "})
	require.NoError(t, err)
	assert.False(t, disabled.Enabled())
	disabled.Count("x", 1, nil)
}

func TestClientWritesUDP(t *testing.T) {
	t.Parallel()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()

	client, err := NewClient(Config{
		Enabled:    true,
		Address:    pc.LocalAddr().String(),
		Prefix:     ".assessd.",
		GlobalTags: map[string]string{"env": "test"},
	})
	require.NoError(t, err)
	defer client.Close()
	require.True(t, client.Enabled())

	client.Timing("analysis.duration", 1500*time.Millisecond, map[string]string{"result": "success"})

	buf := make([]byte, 512)
	require.NoError(t, pc.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, _, err := pc.ReadFrom(buf)
	require.NoError(t, err)

	line := string(buf[:n])
	assert.True(t, strings.HasPrefix(line, "assessd.analysis.duration:1500|ms"), line)
	assert.Contains(t, line, "env:test")
	assert.Contains(t, line, "result:success")

	require.NoError(t, client.Close())
	assert.False(t, client.Enabled())
}

func TestRecorder(t *testing.T) {
	t.Parallel()

	var r Recorder
	r.Count("publish.outcome", 1, map[string]string{"result": "error"})
	r.Gauge("stream.active", 3, nil)
	r.Timing("analysis.duration", 2*time.Second, nil)

	assert.Len(t, r.Metrics(), 3)
	got := r.Find("publish.outcome")
	require.Len(t, got, 1)
	assert.Equal(t, "c", got[0].Kind)
	assert.Equal(t, "error", got[0].Tags["result"])
	assert.InDelta(t, 2000, r.Find("analysis.duration")[0].Value, 0.001)
}
