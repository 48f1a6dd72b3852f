package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssessmentStatus_Valid(t *testing.T) {
	for _, s := range AllAssessmentStatuses() {
		assert.True(t, s.Valid(), s)
	}
	assert.False(t, AssessmentStatus("completed").Valid())
	assert.False(t, AssessmentStatus("").Valid())
}

func TestAssessmentStatus_IsTerminal(t *testing.T) {
	assert.False(t, AssessmentStatusPending.IsTerminal())
	assert.False(t, AssessmentStatusProcessing.IsTerminal())
	assert.True(t, AssessmentStatusComplete.IsTerminal())
	assert.True(t, AssessmentStatusFailed.IsTerminal())
}

func TestAssessmentStatus_UnmarshalText(t *testing.T) {
	var s AssessmentStatus
	require.NoError(t, s.UnmarshalText([]byte(" Complete ")))
	assert.Equal(t, AssessmentStatusComplete, s)

	err := s.UnmarshalText([]byte("done"))
	require.Error(t, err)
	assert.Equal(t, AssessmentStatusComplete, s, "failed unmarshal must not mutate")
}

func TestAssessment_SnapshotIsDetached(t *testing.T) {
	age := 31
	gender := "female"
	a := &Assessment{
		ID:                "a-1",
		SubjectName:       "subject",
		Age:               &age,
		Gender:            &gender,
		QuestionnaireData: json.RawMessage(`{"q1":"3"}`),
	}

	snap := a.Snapshot()
	age = 99
	a.QuestionnaireData[2] = 'x'

	require.NotNil(t, snap.Age)
	assert.Equal(t, 31, *snap.Age)
	assert.Equal(t, "female", snap.Gender)
	assert.JSONEq(t, `{"q1":"3"}`, string(snap.QuestionnaireData))
	assert.Empty(t, snap.Occupation)
}

func strPtr(s string) *string { return &s }

func TestCreateAssessmentRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     CreateAssessmentRequest
		wantErr string
	}{
		{
			name: "minimal valid",
			req:  CreateAssessmentRequest{SubjectName: "subject"},
		},
		{
			name:    "missing subject name",
			req:     CreateAssessmentRequest{},
			wantErr: "subject_name",
		},
		{
			name: "age out of range",
			req: CreateAssessmentRequest{
				SubjectName: "subject",
				Age:         func() *int { v := 200; return &v }(),
			},
			wantErr: "age",
		},
		{
			name: "invalid questionnaire json",
			req: CreateAssessmentRequest{
				SubjectName:       "subject",
				QuestionnaireType: strPtr("SAS"),
				QuestionnaireData: json.RawMessage(`{"q1":`),
			},
			wantErr: "valid JSON",
		},
		{
			name: "questionnaire data without type",
			req: CreateAssessmentRequest{
				SubjectName:       "subject",
				QuestionnaireData: json.RawMessage(`{"q1":"2"}`),
			},
			wantErr: "questionnaire_type",
		},
		{
			name: "questionnaire with type",
			req: CreateAssessmentRequest{
				SubjectName:       "subject",
				QuestionnaireType: strPtr("SAS"),
				QuestionnaireData: json.RawMessage(`{"q1":"2"}`),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestCreateAssessmentRequest_Normalize(t *testing.T) {
	req := CreateAssessmentRequest{SubjectName: "  subject ", Gender: strPtr(" male ")}
	req.Normalize()
	assert.Equal(t, "subject", req.SubjectName)
	assert.Equal(t, "male", *req.Gender)
}
