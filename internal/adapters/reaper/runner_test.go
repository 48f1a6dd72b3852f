package reaper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/psyassess/assessd/config"
	"github.com/psyassess/assessd/internal/mocks"
)

type staticQueue struct{ released int64 }

func (q staticQueue) RequeueExpired(context.Context) (int64, error) { return q.released, nil }

func TestNewRunner_RequiresDatabaseOrRepos(t *testing.T) {
	_, err := NewRunner(RunnerOptions{Config: config.ReaperConfig{Interval: time.Minute}})
	require.Error(t, err)
}

func TestRunner_RunOnceWithInjectedRepos(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockReaperRepository(ctrl)
	repo.EXPECT().FailStalePending(gomock.Any(), time.Hour, 10).Return(nil, nil)
	repo.EXPECT().DeleteOld(gomock.Any(), gomock.Any()).Return(int64(0), nil).Times(2)

	r, err := NewRunner(RunnerOptions{
		Config: config.ReaperConfig{
			Interval:       time.Minute,
			PendingMaxAge:  time.Hour,
			CompleteMaxAge: 24 * time.Hour,
			FailedMaxAge:   time.Hour,
			BatchSize:      10,
		},
		Repo:  repo,
		Queue: staticQueue{released: 1},
	})
	require.NoError(t, err)
	require.NoError(t, r.RunOnce(context.Background()))
}
