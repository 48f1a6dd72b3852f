package data

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psyassess/assessd/internal/core"
	"github.com/psyassess/assessd/internal/domain/assessment"
	"github.com/psyassess/assessd/internal/domain/model"
	"github.com/psyassess/assessd/internal/testutil"
)

func TestAssessmentRepo_Integration_CreateAndGet(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		repo := NewAssessmentRepo(db, RepoConfig{TimeProvider: NewFixedTimeProvider(testutil.TestTime())})

		req := testutil.NewAssessmentRequest().
			WithSubjectName("  Li Wei  ").
			WithAge(41).
			WithQuestionnaire("SCL-90", `{"q1": 1, "q2":  3}`).
			WithImagePath("uploads/a.png").
			WithCriminalRecord(true).
			Build()

		created, err := repo.Create(ctx, req)
		require.NoError(t, err)
		require.NotEmpty(t, created.ID)
		assert.Equal(t, model.AssessmentStatusPending, created.Status)
		assert.Equal(t, "Li Wei", created.SubjectName)
		assert.Nil(t, created.ReportText)
		assert.Equal(t, testutil.TestTime(), created.CreatedAt.UTC())

		got, err := repo.GetByID(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, created.ID, got.ID)
		require.NotNil(t, got.Age)
		assert.Equal(t, 41, *got.Age)
		assert.True(t, got.CriminalRecord)
		assert.JSONEq(t, `{"q1": 1, "q2": 3}`, string(got.QuestionnaireData))
		require.NotNil(t, got.ImagePath)
		assert.Equal(t, "uploads/a.png", *got.ImagePath)
	})
}

func TestAssessmentRepo_Integration_CreateRejectsInvalid(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewAssessmentRepo(db, RepoConfig{})

		_, err := repo.Create(context.Background(), nil)
		require.ErrorIs(t, err, ErrCreateRequestRequired)

		_, err = repo.Create(context.Background(), testutil.NewAssessmentRequest().WithSubjectName("   ").Build())
		require.Error(t, err)
	})
}

func TestAssessmentRepo_Integration_GetByIDNotFound(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewAssessmentRepo(db, RepoConfig{})

		_, err := repo.GetByID(context.Background(), uuid.NewString())
		require.ErrorIs(t, err, model.ErrAssessmentNotFound)

		_, err = repo.GetByID(context.Background(), "not-a-uuid")
		require.ErrorIs(t, err, model.ErrAssessmentNotFound)
	})
}

func TestAssessmentRepo_Integration_StatusLifecycle(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		clock := NewFixedTimeProvider(testutil.TestTime())
		repo := NewAssessmentRepo(db, RepoConfig{TimeProvider: clock})

		a, err := repo.Create(ctx, testutil.SCL90Request())
		require.NoError(t, err)

		clock.Advance(time.Second)
		status, err := repo.UpdateStatus(ctx, a.ID, model.AssessmentStatusProcessing)
		require.NoError(t, err)
		assert.Equal(t, model.AssessmentStatusProcessing, status)

		// complete without text is rejected and leaves the record processing
		status, err = repo.UpdateStatus(ctx, a.ID, model.AssessmentStatusComplete)
		require.ErrorIs(t, err, model.ErrReportTextRequired)
		assert.Equal(t, model.AssessmentStatusProcessing, status)

		require.NoError(t, repo.SetReportText(ctx, a.ID, "report body"))

		// text written, status not yet terminal
		interim, err := repo.GetByID(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, model.AssessmentStatusProcessing, interim.Status)
		require.NotNil(t, interim.ReportText)
		assert.Equal(t, "report body", *interim.ReportText)

		status, err = repo.UpdateStatus(ctx, a.ID, model.AssessmentStatusComplete)
		require.NoError(t, err)
		assert.Equal(t, model.AssessmentStatusComplete, status)

		// same-state request is a no-op
		status, err = repo.UpdateStatus(ctx, a.ID, model.AssessmentStatusComplete)
		require.NoError(t, err)
		assert.Equal(t, model.AssessmentStatusComplete, status)

		// terminal statuses never change
		status, err = repo.UpdateStatus(ctx, a.ID, model.AssessmentStatusFailed)
		require.ErrorIs(t, err, assessment.ErrIllegalTransition)
		assert.Equal(t, model.AssessmentStatusComplete, status)

		err = repo.SetReportText(ctx, a.ID, "overwrite")
		require.ErrorIs(t, err, model.ErrAssessmentTerminal)

		final, err := repo.GetByID(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, model.AssessmentStatusComplete, final.Status)
		assert.Equal(t, "report body", *final.ReportText)
		assert.False(t, final.UpdatedAt.Before(final.CreatedAt))
	})
}

func TestAssessmentRepo_Integration_PendingToFailed(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		repo := NewAssessmentRepo(db, RepoConfig{})

		a, err := repo.Create(ctx, testutil.SCL90Request())
		require.NoError(t, err)

		status, err := repo.UpdateStatus(ctx, a.ID, model.AssessmentStatusFailed)
		require.NoError(t, err)
		assert.Equal(t, model.AssessmentStatusFailed, status)

		status, err = repo.UpdateStatus(ctx, a.ID, model.AssessmentStatusProcessing)
		require.ErrorIs(t, err, assessment.ErrIllegalTransition)
		assert.Equal(t, model.AssessmentStatusFailed, status)
	})
}

func TestAssessmentRepo_Integration_UpdateStatusMissing(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewAssessmentRepo(db, RepoConfig{})

		_, err := repo.UpdateStatus(context.Background(), uuid.NewString(), model.AssessmentStatusProcessing)
		require.ErrorIs(t, err, model.ErrAssessmentNotFound)

		err = repo.SetReportText(context.Background(), uuid.NewString(), "text")
		require.ErrorIs(t, err, model.ErrAssessmentNotFound)
	})
}

func TestAssessmentRepo_Integration_FailStalePending(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		clock := NewFixedTimeProvider(testutil.TestTime())
		repo := NewAssessmentRepo(db, RepoConfig{TimeProvider: clock})

		stale, err := repo.Create(ctx, testutil.SCL90Request())
		require.NoError(t, err)
		claimed, err := repo.Create(ctx, testutil.SCL90Request())
		require.NoError(t, err)
		_, err = repo.UpdateStatus(ctx, claimed.ID, model.AssessmentStatusProcessing)
		require.NoError(t, err)

		backlog, err := repo.Create(ctx, testutil.SCL90Request())
		require.NoError(t, err)
		require.NoError(t, NewQueueRepo(db, RepoConfig{TimeProvider: clock}).Enqueue(ctx, backlog.ID))

		clock.Advance(30 * time.Minute)
		fresh, err := repo.Create(ctx, testutil.SCL90Request())
		require.NoError(t, err)

		clock.Advance(45 * time.Minute)
		ids, err := repo.FailStalePending(ctx, time.Hour, 10)
		require.NoError(t, err)
		assert.Equal(t, []string{stale.ID}, ids)

		got, err := repo.GetByID(ctx, stale.ID)
		require.NoError(t, err)
		assert.Equal(t, model.AssessmentStatusFailed, got.Status)
		require.NotNil(t, got.ReportText)
		assert.Equal(t, assessment.StalePendingText, *got.ReportText)

		for id, want := range map[string]model.AssessmentStatus{
			claimed.ID: model.AssessmentStatusProcessing,
			backlog.ID: model.AssessmentStatusPending,
			fresh.ID:   model.AssessmentStatusPending,
		} {
			rec, getErr := repo.GetByID(ctx, id)
			require.NoError(t, getErr)
			assert.Equal(t, want, rec.Status)
		}
	})
}

func TestAssessmentRepo_Integration_DeleteOld(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		clock := NewFixedTimeProvider(testutil.TestTime())
		repo := NewAssessmentRepo(db, RepoConfig{TimeProvider: clock})

		old, err := repo.Create(ctx, testutil.SCL90Request())
		require.NoError(t, err)
		_, err = repo.UpdateStatus(ctx, old.ID, model.AssessmentStatusFailed)
		require.NoError(t, err)

		clock.Advance(48 * time.Hour)
		recent, err := repo.Create(ctx, testutil.SCL90Request())
		require.NoError(t, err)
		_, err = repo.UpdateStatus(ctx, recent.ID, model.AssessmentStatusFailed)
		require.NoError(t, err)

		deleted, err := repo.DeleteOld(ctx, core.DeleteOldAssessmentsParams{
			Status:    model.AssessmentStatusFailed,
			MaxAge:    24 * time.Hour,
			BatchSize: 100,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1), deleted)

		_, err = repo.GetByID(ctx, old.ID)
		require.ErrorIs(t, err, model.ErrAssessmentNotFound)
		_, err = repo.GetByID(ctx, recent.ID)
		require.NoError(t, err)

		_, err = repo.DeleteOld(ctx, core.DeleteOldAssessmentsParams{
			Status:    model.AssessmentStatusPending,
			MaxAge:    time.Hour,
			BatchSize: 10,
		})
		require.Error(t, err)

		counts, err := repo.CountByStatus(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), counts[model.AssessmentStatusFailed])
		assert.Equal(t, int64(0), counts[model.AssessmentStatusPending])
	})
}
