package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/psyassess/assessd/internal/core"
	"github.com/psyassess/assessd/internal/data/pgxutil"
	"github.com/psyassess/assessd/internal/domain/assessment"
	"github.com/psyassess/assessd/internal/domain/model"
	apperrors "github.com/psyassess/assessd/internal/errors"
)

// RepoConfig holds configuration options shared by the assessment and queue repositories.
type RepoConfig struct {
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// AssessmentRepo is the PostgreSQL job record store.
type AssessmentRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewAssessmentRepo creates an AssessmentRepo.
func NewAssessmentRepo(db *sql.DB, cfg RepoConfig) *AssessmentRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = RealTimeProvider{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &AssessmentRepo{
		DB:           db,
		timeProvider: tp,
		logger:       logger.With("component", "assessment_repo"),
	}
}

const assessmentColumns = `
  id,
  status,
  report_text,
  subject_name,
  age,
  gender,
  questionnaire_type,
  questionnaire_data,
  image_path,
  id_card,
  occupation,
  case_name,
  case_type,
  identity_type,
  person_type,
  marital_status,
  children_info,
  criminal_record,
  health_status,
  phone_number,
  domicile,
  submitter_id,
  created_at,
  updated_at
`

const insertAssessmentSQL = `
  INSERT INTO assessments (
    id, status, subject_name, age, gender, questionnaire_type, questionnaire_data,
    image_path, id_card, occupation, case_name, case_type, identity_type, person_type,
    marital_status, children_info, criminal_record, health_status, phone_number,
    domicile, submitter_id, created_at, updated_at
  ) VALUES (
    $1, 'pending', $2, $3, $4, $5, $6,
    $7, $8, $9, $10, $11, $12, $13,
    $14, $15, $16, $17, $18,
    $19, $20, $21, $21
  )
  RETURNING ` + assessmentColumns

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAssessment(row rowScanner) (*model.Assessment, error) {
	var (
		a      model.Assessment
		status string
		qdata  []byte
	)
	if err := row.Scan(
		&a.ID,
		&status,
		&a.ReportText,
		&a.SubjectName,
		&a.Age,
		&a.Gender,
		&a.QuestionnaireType,
		&qdata,
		&a.ImagePath,
		&a.IDCard,
		&a.Occupation,
		&a.CaseName,
		&a.CaseType,
		&a.IdentityType,
		&a.PersonType,
		&a.MaritalStatus,
		&a.ChildrenInfo,
		&a.CriminalRecord,
		&a.HealthStatus,
		&a.PhoneNumber,
		&a.Domicile,
		&a.SubmitterID,
		&a.CreatedAt,
		&a.UpdatedAt,
	); err != nil {
		return nil, err
	}

	a.Status = model.AssessmentStatus(status)
	if !a.Status.Valid() {
		return nil, fmt.Errorf("%w: stored status %q", assessment.ErrUnknownStatus, status)
	}
	if len(qdata) > 0 {
		a.QuestionnaireData = qdata
	}
	return &a, nil
}

// Create inserts a new pending record with a freshly assigned id.
func (r *AssessmentRepo) Create(ctx context.Context, req *model.CreateAssessmentRequest) (*model.Assessment, error) {
	if req == nil {
		return nil, ErrCreateRequestRequired
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var qdata any
	if len(req.QuestionnaireData) > 0 {
		qdata = string(req.QuestionnaireData)
	}

	args := []any{
		uuid.NewString(),
		req.SubjectName,
		req.Age,
		req.Gender,
		req.QuestionnaireType,
		qdata,
		req.ImagePath,
		req.IDCard,
		req.Occupation,
		req.CaseName,
		req.CaseType,
		req.IdentityType,
		req.PersonType,
		req.MaritalStatus,
		req.ChildrenInfo,
		req.CriminalRecord,
		req.HealthStatus,
		req.PhoneNumber,
		req.Domicile,
		req.SubmitterID,
		r.timeProvider.Now(),
	}

	var created *model.Assessment
	err := pgxutil.OnConn(ctx, r.DB, func(conn *pgx.Conn) error {
		a, scanErr := scanAssessment(conn.QueryRow(ctx, insertAssessmentSQL, args...))
		created = a
		return scanErr
	})
	if err != nil {
		return nil, fmt.Errorf("insert assessment: %w", apperrors.MapDBError(err))
	}
	return created, nil
}

// GetByID returns the record for id or model.ErrAssessmentNotFound.
func (r *AssessmentRepo) GetByID(ctx context.Context, id string) (*model.Assessment, error) {
	if _, err := parseID(id); err != nil {
		return nil, err
	}

	var found *model.Assessment
	err := pgxutil.OnConn(ctx, r.DB, func(conn *pgx.Conn) error {
		a, scanErr := scanAssessment(conn.QueryRow(ctx, `
			SELECT `+assessmentColumns+`
			FROM assessments
			WHERE id = $1
		`, id))
		found = a
		return scanErr
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", model.ErrAssessmentNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get assessment: %w", err)
	}
	return found, nil
}

// statusChange describes one guarded status write.
type statusChange struct {
	ID     string
	Target model.AssessmentStatus
	// Expect, when set, aborts the change unless the record currently holds this status.
	Expect model.AssessmentStatus
	// ReportText, when set, is written in the same transaction before the status.
	ReportText *string
}

// errUnexpectedStatus signals that statusChange.Expect did not match.
var errUnexpectedStatus = errors.New("assessment status changed concurrently")

// UpdateStatus moves the record to target through the status state machine.
// It returns the status the record holds afterwards; on error that is the unchanged current status.
func (r *AssessmentRepo) UpdateStatus(
	ctx context.Context,
	id string,
	target model.AssessmentStatus,
) (model.AssessmentStatus, error) {
	return r.applyStatus(ctx, statusChange{ID: id, Target: target})
}

func (r *AssessmentRepo) applyStatus(ctx context.Context, change statusChange) (model.AssessmentStatus, error) {
	if _, err := parseID(change.ID); err != nil {
		return "", err
	}
	if !change.Target.Valid() {
		return "", fmt.Errorf("%w: %q", assessment.ErrUnknownStatus, change.Target)
	}

	var result model.AssessmentStatus
	err := pgxutil.InTx(ctx, r.DB, pgxutil.TxParams{Fn: func(tx pgx.Tx) error {
		var (
			raw       string
			hasReport bool
		)
		scanErr := tx.QueryRow(ctx, `
			SELECT status, (report_text IS NOT NULL AND length(btrim(report_text)) > 0)
			FROM assessments
			WHERE id = $1
			FOR UPDATE
		`, change.ID).Scan(&raw, &hasReport)
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", model.ErrAssessmentNotFound, change.ID)
		}
		if scanErr != nil {
			return fmt.Errorf("lock assessment: %w", scanErr)
		}

		current := model.AssessmentStatus(raw)
		result = current
		if change.Expect != "" && current != change.Expect {
			return fmt.Errorf("%w: have %s, want %s", errUnexpectedStatus, current, change.Expect)
		}

		next, transErr := assessment.Transition(current, change.Target)
		if transErr != nil {
			return transErr
		}
		if next == current {
			return nil
		}
		if change.ReportText != nil {
			hasReport = hasReport || len(*change.ReportText) > 0
		}
		if next == model.AssessmentStatusComplete && !hasReport {
			return model.ErrReportTextRequired
		}

		if _, execErr := tx.Exec(ctx, `
			UPDATE assessments
			SET status = $2,
			    report_text = COALESCE($3, report_text),
			    updated_at = GREATEST($4::timestamptz, created_at)
			WHERE id = $1
		`, change.ID, string(next), change.ReportText, r.timeProvider.Now()); execErr != nil {
			return fmt.Errorf("write status: %w", apperrors.MapDBError(execErr))
		}
		result = next
		return nil
	}})
	return result, err
}

// SetReportText stores the result text without touching the status.
// Terminal records are rejected with model.ErrAssessmentTerminal.
func (r *AssessmentRepo) SetReportText(ctx context.Context, id, text string) error {
	if _, err := parseID(id); err != nil {
		return err
	}

	return pgxutil.InTx(ctx, r.DB, pgxutil.TxParams{Fn: func(tx pgx.Tx) error {
		var raw string
		scanErr := tx.QueryRow(ctx, `SELECT status FROM assessments WHERE id = $1 FOR UPDATE`, id).Scan(&raw)
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", model.ErrAssessmentNotFound, id)
		}
		if scanErr != nil {
			return fmt.Errorf("lock assessment: %w", scanErr)
		}
		if assessment.IsTerminal(model.AssessmentStatus(raw)) {
			return fmt.Errorf("%w: %s is %s", model.ErrAssessmentTerminal, id, raw)
		}

		if _, execErr := tx.Exec(ctx, `
			UPDATE assessments
			SET report_text = $2,
			    updated_at = GREATEST($3::timestamptz, created_at)
			WHERE id = $1
		`, id, text, r.timeProvider.Now()); execErr != nil {
			return fmt.Errorf("write report text: %w", apperrors.MapDBError(execErr))
		}
		return nil
	}})
}

// FailStalePending fails pending records created more than maxAge ago that are no
// longer queued, and returns their ids. A queued record is still waiting for a
// worker; the attempt cap decides its fate. Each record goes through the state
// machine individually and is skipped if a worker claimed it in the meantime.
func (r *AssessmentRepo) FailStalePending(ctx context.Context, maxAge time.Duration, batchSize int) ([]string, error) {
	if maxAge <= 0 || batchSize <= 0 {
		return nil, nil
	}

	cutoff := r.timeProvider.Now().Add(-maxAge)
	var candidates []string
	err := pgxutil.OnConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, qErr := conn.Query(ctx, `
			SELECT a.id::text
			FROM assessments a
			WHERE a.status = 'pending'
			  AND a.created_at < $1
			  AND NOT EXISTS (SELECT 1 FROM analysis_queue q WHERE q.assessment_id = a.id)
			ORDER BY a.created_at ASC
			LIMIT $2
		`, cutoff, batchSize)
		if qErr != nil {
			return qErr
		}
		ids, collectErr := pgx.CollectRows(rows, pgx.RowTo[string])
		candidates = ids
		return collectErr
	})
	if err != nil {
		return nil, fmt.Errorf("list stale pending assessments: %w", err)
	}

	text := assessment.StalePendingText
	failed := make([]string, 0, len(candidates))
	for _, id := range candidates {
		_, changeErr := r.applyStatus(ctx, statusChange{
			ID:         id,
			Target:     model.AssessmentStatusFailed,
			Expect:     model.AssessmentStatusPending,
			ReportText: &text,
		})
		switch {
		case changeErr == nil:
			failed = append(failed, id)
		case errors.Is(changeErr, errUnexpectedStatus), errors.Is(changeErr, model.ErrAssessmentNotFound):
			continue
		default:
			return failed, fmt.Errorf("fail stale assessment %s: %w", id, changeErr)
		}
	}
	return failed, nil
}

// DeleteOld removes terminal records whose last update is older than params.MaxAge.
func (r *AssessmentRepo) DeleteOld(ctx context.Context, params core.DeleteOldAssessmentsParams) (int64, error) {
	if !params.Status.IsTerminal() {
		return 0, fmt.Errorf("delete old assessments: status %q is not terminal", params.Status)
	}
	if params.MaxAge <= 0 || params.BatchSize <= 0 {
		return 0, nil
	}

	cutoff := r.timeProvider.Now().Add(-params.MaxAge)
	var deleted int64
	err := pgxutil.OnConn(ctx, r.DB, func(conn *pgx.Conn) error {
		tag, execErr := conn.Exec(ctx, `
			WITH doomed AS (
				SELECT id
				FROM assessments
				WHERE status = $1 AND updated_at < $2
				ORDER BY updated_at ASC
				LIMIT $3
				FOR UPDATE SKIP LOCKED
			)
			DELETE FROM assessments a
			USING doomed
			WHERE a.id = doomed.id
		`, string(params.Status), cutoff, params.BatchSize)
		deleted = tag.RowsAffected()
		return execErr
	})
	if err != nil {
		return 0, fmt.Errorf("delete old %s assessments: %w", params.Status, err)
	}
	return deleted, nil
}

// CountByStatus returns the number of records in each status.
func (r *AssessmentRepo) CountByStatus(ctx context.Context) (map[model.AssessmentStatus]int64, error) {
	counts := make(map[model.AssessmentStatus]int64, 4)
	for _, s := range model.AllAssessmentStatuses() {
		counts[s] = 0
	}

	err := pgxutil.OnConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, qErr := conn.Query(ctx, `SELECT status, count(*) FROM assessments GROUP BY status`)
		if qErr != nil {
			return qErr
		}
		defer rows.Close()
		for rows.Next() {
			var (
				status string
				n      int64
			)
			if scanErr := rows.Scan(&status, &n); scanErr != nil {
				return scanErr
			}
			counts[model.AssessmentStatus(status)] = n
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("count assessments by status: %w", err)
	}
	return counts, nil
}

var (
	_ core.AssessmentRepository = (*AssessmentRepo)(nil)
	_ core.ReaperRepository     = (*AssessmentRepo)(nil)
)
