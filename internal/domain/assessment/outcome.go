package assessment

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Outcome is the terminal result carried by an outcome message.
type Outcome string

const (
	// OutcomeSuccess announces a complete report.
	OutcomeSuccess Outcome = "success"
	// OutcomeFailed announces a failed analysis.
	OutcomeFailed Outcome = "failed"
)

const (
	// MaxErrorDetailRunes bounds the error detail sent to subscribers.
	MaxErrorDetailRunes = 150
	// MaxFailureTextRunes bounds the diagnostic stored as report text after an unexpected failure.
	MaxFailureTextRunes = 2000
)

// ErrUnrecognizedPayload is returned for broker payloads that are not outcome messages.
var ErrUnrecognizedPayload = errors.New("unrecognized outcome payload")

// Valid reports whether o is a known outcome.
func (o Outcome) Valid() bool {
	return o == OutcomeSuccess || o == OutcomeFailed
}

// OutcomeMessage announces that an assessment reached a terminal status.
// Only Outcome and ErrorDetail travel on the wire; the assessment id is implied by the channel.
type OutcomeMessage struct {
	AssessmentID string  `json:"-"`
	Outcome      Outcome `json:"status"`
	ErrorDetail  string  `json:"error,omitempty"`
}

// NewOutcomeMessage builds a message, truncating the detail and dropping it for successes.
func NewOutcomeMessage(assessmentID string, outcome Outcome, detail string) OutcomeMessage {
	msg := OutcomeMessage{AssessmentID: assessmentID, Outcome: outcome}
	if outcome == OutcomeFailed {
		msg.ErrorDetail = Truncate(strings.TrimSpace(detail), MaxErrorDetailRunes)
	}
	return msg
}

// Encode serializes the wire form of the message.
func (m OutcomeMessage) Encode() ([]byte, error) {
	if !m.Outcome.Valid() {
		return nil, fmt.Errorf("encode outcome: %w: %q", ErrUnrecognizedPayload, m.Outcome)
	}
	return json.Marshal(m)
}

// DecodeOutcome parses a broker payload received for assessmentID. The error
// detail is bounded like an outgoing message.
func DecodeOutcome(assessmentID string, payload []byte) (OutcomeMessage, error) {
	var msg OutcomeMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return OutcomeMessage{}, fmt.Errorf("%w: %w", ErrUnrecognizedPayload, err)
	}
	if !msg.Outcome.Valid() {
		return OutcomeMessage{}, fmt.Errorf("%w: status %q", ErrUnrecognizedPayload, msg.Outcome)
	}
	msg.AssessmentID = assessmentID
	// Publishers outside this process are not trusted to bound the detail.
	msg.ErrorDetail = Truncate(strings.TrimSpace(msg.ErrorDetail), MaxErrorDetailRunes)
	return msg, nil
}

// ChannelName derives the broker channel for an assessment.
func ChannelName(prefix, assessmentID string) string {
	return prefix + assessmentID
}

// Truncate shortens s to at most maxRunes runes without splitting a UTF-8 sequence.
func Truncate(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	n := 0
	for i := range s {
		if n == maxRunes {
			return s[:i]
		}
		n++
	}
	return s
}
