package assessment

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutcomeMessage_EncodeWireFormat(t *testing.T) {
	ok, err := NewOutcomeMessage("a1", OutcomeSuccess, "ignored").Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"success"}`, string(ok))

	failed, err := NewOutcomeMessage("a1", OutcomeFailed, "  analyzer timed out ").Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"failed","error":"analyzer timed out"}`, string(failed))
}

func TestOutcomeMessage_EncodeRejectsUnknownOutcome(t *testing.T) {
	_, err := OutcomeMessage{Outcome: "done"}.Encode()
	require.ErrorIs(t, err, ErrUnrecognizedPayload)
}

func TestNewOutcomeMessage_TruncatesDetail(t *testing.T) {
	msg := NewOutcomeMessage("a1", OutcomeFailed, strings.Repeat("错", 400))
	assert.Equal(t, MaxErrorDetailRunes, utf8.RuneCountInString(msg.ErrorDetail))
	assert.True(t, utf8.ValidString(msg.ErrorDetail))
}

func TestDecodeOutcome(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    OutcomeMessage
		wantErr bool
	}{
		{
			name:    "success",
			payload: `{"status":"success"}`,
			want:    OutcomeMessage{AssessmentID: "a1", Outcome: OutcomeSuccess},
		},
		{
			name:    "failed with error",
			payload: `{"status":"failed","error":"boom"}`,
			want:    OutcomeMessage{AssessmentID: "a1", Outcome: OutcomeFailed, ErrorDetail: "boom"},
		},
		{name: "not json", payload: `ping`, wantErr: true},
		{name: "unknown status", payload: `{"status":"complete"}`, wantErr: true},
		{name: "missing status", payload: `{}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeOutcome("a1", []byte(tt.payload))
			if tt.wantErr {
				require.ErrorIs(t, err, ErrUnrecognizedPayload)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeOutcome_BoundsForeignDetail(t *testing.T) {
	payload := `{"status":"failed","error":"` + strings.Repeat("超", 5000) + `"}`

	got, err := DecodeOutcome("a1", []byte(payload))

	require.NoError(t, err)
	assert.Equal(t, MaxErrorDetailRunes, utf8.RuneCountInString(got.ErrorDetail))
	assert.True(t, utf8.ValidString(got.ErrorDetail))
}

func TestChannelName(t *testing.T) {
	assert.Equal(t, "report-ready:abc", ChannelName("report-ready:", "abc"))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "", Truncate("abc", 0))
	assert.Equal(t, "abc", Truncate("abc", 3))
	assert.Equal(t, "ab", Truncate("abc", 2))
	assert.Equal(t, "失败", Truncate("失败了", 2))
}

func TestClassifier_Classify(t *testing.T) {
	c := NewClassifier([]string{"错误", "Error", " ", "失败"})

	tests := []struct {
		name    string
		input   string
		outcome Outcome
		text    string
		marker  string
	}{
		{name: "report", input: "REPORT OK 123 words", outcome: OutcomeSuccess, text: "REPORT OK 123 words"},
		{name: "empty", input: "", outcome: OutcomeFailed, text: EmptyResultText},
		{name: "whitespace", input: " \n\t", outcome: OutcomeFailed, text: EmptyResultText},
		{name: "english marker", input: "Error: quota exceeded", outcome: OutcomeFailed, text: "Error: quota exceeded", marker: "Error"},
		{name: "chinese marker", input: "错误：AI 服务配置不完整", outcome: OutcomeFailed, text: "错误：AI 服务配置不完整", marker: "错误"},
		{name: "marker is case sensitive", input: "no error here", outcome: OutcomeSuccess, text: "no error here"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(tt.input)
			assert.Equal(t, tt.outcome, got.Outcome)
			assert.Equal(t, tt.text, got.Text)
			assert.Equal(t, tt.marker, got.Marker)
		})
	}
}
