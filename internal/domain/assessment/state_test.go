package assessment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psyassess/assessd/internal/domain/model"
)

func TestTransition_LegalEdges(t *testing.T) {
	tests := []struct {
		from model.AssessmentStatus
		to   model.AssessmentStatus
	}{
		{model.AssessmentStatusPending, model.AssessmentStatusProcessing},
		{model.AssessmentStatusProcessing, model.AssessmentStatusComplete},
		{model.AssessmentStatusProcessing, model.AssessmentStatusFailed},
		{model.AssessmentStatusPending, model.AssessmentStatusFailed},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			got, err := Transition(tt.from, tt.to)
			require.NoError(t, err)
			assert.Equal(t, tt.to, got)
		})
	}
}

func TestTransition_SameStateIsNoop(t *testing.T) {
	for _, s := range model.AllAssessmentStatuses() {
		got, err := Transition(s, s)
		require.NoError(t, err, s)
		assert.Equal(t, s, got)

		// Idempotent on repeat.
		got, err = Transition(got, s)
		require.NoError(t, err, s)
		assert.Equal(t, s, got)
	}
}

func TestTransition_IllegalEdges(t *testing.T) {
	all := model.AllAssessmentStatuses()
	legal := map[[2]model.AssessmentStatus]bool{
		{model.AssessmentStatusPending, model.AssessmentStatusProcessing}:  true,
		{model.AssessmentStatusProcessing, model.AssessmentStatusComplete}: true,
		{model.AssessmentStatusProcessing, model.AssessmentStatusFailed}:   true,
		{model.AssessmentStatusPending, model.AssessmentStatusFailed}:      true,
	}

	for _, from := range all {
		for _, to := range all {
			if from == to || legal[[2]model.AssessmentStatus{from, to}] {
				continue
			}
			got, err := Transition(from, to)
			require.ErrorIs(t, err, ErrIllegalTransition, "%s -> %s", from, to)
			assert.Equal(t, from, got, "illegal transition must report the unchanged status")
		}
	}
}

func TestTransition_NeverMovesBackward(t *testing.T) {
	for _, from := range model.AllAssessmentStatuses() {
		for _, to := range model.AllAssessmentStatuses() {
			got, err := Transition(from, to)
			if err != nil {
				continue
			}
			assert.GreaterOrEqual(t, Rank(got), Rank(from), "%s -> %s", from, to)
		}
	}
}

func TestTransition_UnknownStatus(t *testing.T) {
	_, err := Transition("completed", model.AssessmentStatusFailed)
	require.ErrorIs(t, err, ErrUnknownStatus)

	_, err = Transition(model.AssessmentStatusPending, "done")
	require.ErrorIs(t, err, ErrUnknownStatus)
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, IsTerminal(model.AssessmentStatusComplete))
	assert.True(t, IsTerminal(model.AssessmentStatusFailed))
	assert.False(t, IsTerminal(model.AssessmentStatusPending))
	assert.False(t, IsTerminal(model.AssessmentStatusProcessing))
}

func TestParseStatus(t *testing.T) {
	got, err := ParseStatus(" Complete ")
	require.NoError(t, err)
	assert.Equal(t, model.AssessmentStatusComplete, got)

	_, err = ParseStatus("archived")
	require.ErrorIs(t, err, ErrUnknownStatus)
}
