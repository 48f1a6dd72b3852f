// Package testutil provides testing utilities and helpers for the assessment pipeline.
package testutil

import (
	"encoding/json"

	"github.com/psyassess/assessd/internal/domain/model"
)

// AssessmentRequestBuilder provides a fluent interface for building CreateAssessmentRequest values.
type AssessmentRequestBuilder struct {
	req *model.CreateAssessmentRequest
}

// NewAssessmentRequest creates a builder with a minimal valid submission.
func NewAssessmentRequest() *AssessmentRequestBuilder {
	return &AssessmentRequestBuilder{
		req: &model.CreateAssessmentRequest{
			SubjectName: "Test Subject",
		},
	}
}

// WithSubjectName sets the subject name.
func (b *AssessmentRequestBuilder) WithSubjectName(name string) *AssessmentRequestBuilder {
	b.req.SubjectName = name
	return b
}

// WithAge sets the subject age.
func (b *AssessmentRequestBuilder) WithAge(age int) *AssessmentRequestBuilder {
	b.req.Age = &age
	return b
}

// WithQuestionnaire sets the questionnaire type and raw JSON answers.
func (b *AssessmentRequestBuilder) WithQuestionnaire(kind, data string) *AssessmentRequestBuilder {
	b.req.QuestionnaireType = &kind
	b.req.QuestionnaireData = json.RawMessage(data)
	return b
}

// WithImagePath sets the stored image reference.
func (b *AssessmentRequestBuilder) WithImagePath(path string) *AssessmentRequestBuilder {
	b.req.ImagePath = &path
	return b
}

// WithSubmitter sets the submitting user id.
func (b *AssessmentRequestBuilder) WithSubmitter(id string) *AssessmentRequestBuilder {
	b.req.SubmitterID = &id
	return b
}

// WithCriminalRecord sets the criminal record flag.
func (b *AssessmentRequestBuilder) WithCriminalRecord(v bool) *AssessmentRequestBuilder {
	b.req.CriminalRecord = v
	return b
}

// Build returns the constructed request.
func (b *AssessmentRequestBuilder) Build() *model.CreateAssessmentRequest {
	return b.req
}

// SCL90Request returns a request with a small questionnaire payload.
func SCL90Request() *model.CreateAssessmentRequest {
	return NewAssessmentRequest().
		WithAge(34).
		WithQuestionnaire("SCL-90", `{"q1": 2, "q2": 0, "q3": 4}`).
		Build()
}
