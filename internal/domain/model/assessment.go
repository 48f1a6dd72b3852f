// Package model defines the core data types shared by the assessment pipeline.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

// AssessmentStatus is the lifecycle state of an assessment's analysis job.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type AssessmentStatus string

const (
	// AssessmentStatusPending indicates the assessment is queued for analysis.
	AssessmentStatusPending AssessmentStatus = "pending"
	// AssessmentStatusProcessing indicates a worker picked the assessment up.
	AssessmentStatusProcessing AssessmentStatus = "processing"
	// AssessmentStatusComplete indicates a report was generated and stored.
	AssessmentStatusComplete AssessmentStatus = "complete"
	// AssessmentStatusFailed indicates analysis ended without a usable report.
	AssessmentStatusFailed AssessmentStatus = "failed"
)

var (
	// ErrQueueEmpty is returned when no queued assessment is available for reservation.
	ErrQueueEmpty = errors.New("no queued assessments available")
	// ErrAssessmentNotFound is returned when no record exists for an id.
	ErrAssessmentNotFound = errors.New("assessment not found")
	// ErrReportTextRequired is returned when completing a record that has no report text.
	ErrReportTextRequired = errors.New("complete status requires non-empty report text")
	// ErrAssessmentTerminal is returned when writing result text to a finished record.
	ErrAssessmentTerminal = errors.New("assessment already reached a terminal status")
)

// AllAssessmentStatuses lists every status in lifecycle order.
func AllAssessmentStatuses() []AssessmentStatus {
	return []AssessmentStatus{
		AssessmentStatusPending,
		AssessmentStatusProcessing,
		AssessmentStatusComplete,
		AssessmentStatusFailed,
	}
}

// Valid returns true if the status is one of the known values.
func (s AssessmentStatus) Valid() bool {
	switch s {
	case AssessmentStatusPending, AssessmentStatusProcessing, AssessmentStatusComplete, AssessmentStatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is legal from s.
func (s AssessmentStatus) IsTerminal() bool {
	return s == AssessmentStatusComplete || s == AssessmentStatusFailed
}

// UnmarshalText implements encoding.TextUnmarshaler so unknown status strings are rejected at the edge.
func (s *AssessmentStatus) UnmarshalText(text []byte) error {
	v := AssessmentStatus(strings.ToLower(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("invalid assessment status: %q", string(text))
	}
	*s = v
	return nil
}

// Assessment is the persisted job record for one submission.
type Assessment struct {
	ID                string           `json:"id"                           db:"id"`
	Status            AssessmentStatus `json:"status"                       db:"status"`
	ReportText        *string          `json:"report_text,omitempty"        db:"report_text"`
	SubjectName       string           `json:"subject_name"                 db:"subject_name"`
	Age               *int             `json:"age,omitempty"                db:"age"`
	Gender            *string          `json:"gender,omitempty"             db:"gender"`
	QuestionnaireType *string          `json:"questionnaire_type,omitempty" db:"questionnaire_type"`
	QuestionnaireData json.RawMessage  `json:"questionnaire_data,omitempty" db:"questionnaire_data"`
	ImagePath         *string          `json:"image_path,omitempty"         db:"image_path"`
	IDCard            *string          `json:"id_card,omitempty"            db:"id_card"`
	Occupation        *string          `json:"occupation,omitempty"         db:"occupation"`
	CaseName          *string          `json:"case_name,omitempty"          db:"case_name"`
	CaseType          *string          `json:"case_type,omitempty"          db:"case_type"`
	IdentityType      *string          `json:"identity_type,omitempty"      db:"identity_type"`
	PersonType        *string          `json:"person_type,omitempty"        db:"person_type"`
	MaritalStatus     *string          `json:"marital_status,omitempty"     db:"marital_status"`
	ChildrenInfo      *string          `json:"children_info,omitempty"      db:"children_info"`
	CriminalRecord    bool             `json:"criminal_record"              db:"criminal_record"`
	HealthStatus      *string          `json:"health_status,omitempty"      db:"health_status"`
	PhoneNumber       *string          `json:"phone_number,omitempty"       db:"phone_number"`
	Domicile          *string          `json:"domicile,omitempty"           db:"domicile"`
	SubmitterID       *string          `json:"submitter_id,omitempty"       db:"submitter_id"`
	CreatedAt         time.Time        `json:"created_at"                   db:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"                   db:"updated_at"`
}

// Snapshot copies the analysis inputs so the analyzer never observes later record writes.
func (a *Assessment) Snapshot() AnalysisInput {
	in := AnalysisInput{
		AssessmentID:      a.ID,
		SubjectName:       a.SubjectName,
		Age:               cloneInt(a.Age),
		Gender:            deref(a.Gender),
		QuestionnaireType: deref(a.QuestionnaireType),
		ImagePath:         deref(a.ImagePath),
		IDCard:            deref(a.IDCard),
		Occupation:        deref(a.Occupation),
		CaseName:          deref(a.CaseName),
		CaseType:          deref(a.CaseType),
		IdentityType:      deref(a.IdentityType),
		PersonType:        deref(a.PersonType),
		MaritalStatus:     deref(a.MaritalStatus),
		ChildrenInfo:      deref(a.ChildrenInfo),
		CriminalRecord:    a.CriminalRecord,
		HealthStatus:      deref(a.HealthStatus),
		PhoneNumber:       deref(a.PhoneNumber),
		Domicile:          deref(a.Domicile),
	}
	if len(a.QuestionnaireData) > 0 {
		in.QuestionnaireData = append(json.RawMessage(nil), a.QuestionnaireData...)
	}
	return in
}

// AnalysisInput is the frozen, read-only view of an assessment handed to the analyzer.
type AnalysisInput struct {
	AssessmentID      string          `json:"assessment_id"`
	SubjectName       string          `json:"subject_name"`
	Age               *int            `json:"age,omitempty"`
	Gender            string          `json:"gender,omitempty"`
	QuestionnaireType string          `json:"questionnaire_type,omitempty"`
	QuestionnaireData json.RawMessage `json:"questionnaire_data,omitempty"`
	ImagePath         string          `json:"image_path,omitempty"`
	IDCard            string          `json:"id_card,omitempty"`
	Occupation        string          `json:"occupation,omitempty"`
	CaseName          string          `json:"case_name,omitempty"`
	CaseType          string          `json:"case_type,omitempty"`
	IdentityType      string          `json:"identity_type,omitempty"`
	PersonType        string          `json:"person_type,omitempty"`
	MaritalStatus     string          `json:"marital_status,omitempty"`
	ChildrenInfo      string          `json:"children_info,omitempty"`
	CriminalRecord    bool            `json:"criminal_record"`
	HealthStatus      string          `json:"health_status,omitempty"`
	PhoneNumber       string          `json:"phone_number,omitempty"`
	Domicile          string          `json:"domicile,omitempty"`
}

// CreateAssessmentRequest represents a submission of a new assessment.
type CreateAssessmentRequest struct {
	SubjectName       string          `json:"subject_name"                 validate:"required,max=255"`
	Age               *int            `json:"age,omitempty"                validate:"omitempty,min=0,max=150"`
	Gender            *string         `json:"gender,omitempty"             validate:"omitempty,max=32"`
	QuestionnaireType *string         `json:"questionnaire_type,omitempty" validate:"omitempty,max=64"`
	QuestionnaireData json.RawMessage `json:"questionnaire_data,omitempty"`
	ImagePath         *string         `json:"image_path,omitempty"         validate:"omitempty,max=1024"`
	IDCard            *string         `json:"id_card,omitempty"            validate:"omitempty,max=64"`
	Occupation        *string         `json:"occupation,omitempty"         validate:"omitempty,max=255"`
	CaseName          *string         `json:"case_name,omitempty"          validate:"omitempty,max=255"`
	CaseType          *string         `json:"case_type,omitempty"          validate:"omitempty,max=255"`
	IdentityType      *string         `json:"identity_type,omitempty"      validate:"omitempty,max=64"`
	PersonType        *string         `json:"person_type,omitempty"        validate:"omitempty,max=64"`
	MaritalStatus     *string         `json:"marital_status,omitempty"     validate:"omitempty,max=64"`
	ChildrenInfo      *string         `json:"children_info,omitempty"      validate:"omitempty,max=1024"`
	CriminalRecord    bool            `json:"criminal_record"`
	HealthStatus      *string         `json:"health_status,omitempty"      validate:"omitempty,max=1024"`
	PhoneNumber       *string         `json:"phone_number,omitempty"       validate:"omitempty,max=32"`
	Domicile          *string         `json:"domicile,omitempty"           validate:"omitempty,max=255"`
	SubmitterID       *string         `json:"submitter_id,omitempty"       validate:"omitempty,max=128"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func requestValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// Normalize trims free-text fields in place.
func (r *CreateAssessmentRequest) Normalize() {
	r.SubjectName = strings.TrimSpace(r.SubjectName)
	for _, p := range []*string{
		r.Gender, r.QuestionnaireType, r.ImagePath, r.IDCard, r.Occupation, r.CaseName,
		r.CaseType, r.IdentityType, r.PersonType, r.MaritalStatus, r.ChildrenInfo,
		r.HealthStatus, r.PhoneNumber, r.Domicile, r.SubmitterID,
	} {
		if p != nil {
			*p = strings.TrimSpace(*p)
		}
	}
}

// Validate validates the CreateAssessmentRequest fields.
func (r *CreateAssessmentRequest) Validate() error {
	if err := requestValidator().Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid %s: failed %q constraint", fe.Field(), fe.Tag())
		}
		return fmt.Errorf("invalid request: %w", err)
	}
	if len(r.QuestionnaireData) > 0 {
		if !json.Valid(r.QuestionnaireData) {
			return errors.New("questionnaire_data must be valid JSON")
		}
		if r.QuestionnaireType == nil || *r.QuestionnaireType == "" {
			return errors.New("questionnaire_type is required with questionnaire_data")
		}
	}
	return nil
}

// AssessmentStatusResponse is the body returned by the status endpoint.
type AssessmentStatusResponse struct {
	ID     string           `json:"id"`
	Status AssessmentStatus `json:"status"`
}

// AssessmentReportResponse is the body returned by the report endpoint.
type AssessmentReportResponse struct {
	ID         string           `json:"id"`
	Status     AssessmentStatus `json:"status"`
	ReportText string           `json:"report_text,omitempty"`
	Message    string           `json:"message,omitempty"`
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}
