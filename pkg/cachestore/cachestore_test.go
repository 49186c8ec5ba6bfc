package cachestore_test

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/actionsdash/actionsdash/pkg/cachestore"
	"github.com/actionsdash/actionsdash/pkg/config"
	"github.com/actionsdash/actionsdash/pkg/model"
)

func setupTestStore(t *testing.T) cachestore.Store {
	t.Helper()

	cfg := &config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteDatabaseConfig{Path: ":memory:"},
	}

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	s := cachestore.NewStore(log, cfg)
	require.NoError(t, s.Start(context.Background()))

	t.Cleanup(func() { _ = s.Stop() })

	return s
}

func TestStore_SaveAndLoadRuns(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	runs := []model.Run{
		{
			ID: 1, WorkflowName: "CI", Branch: "main",
			Conclusion: model.ConclusionSuccess,
			CreatedAt:  time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
			Duration:   120,
		},
		{
			ID: 2, WorkflowName: "CI", Branch: "dev",
			Conclusion: model.ConclusionFailure,
			Duration:   90,
		},
	}

	require.NoError(t, s.SaveRuns(ctx, "octo/repo", runs))

	loaded, err := s.LoadRuns(ctx, "octo/repo")
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, int64(1), loaded[0].ID)
	assert.Equal(t, "CI", loaded[0].WorkflowName)
	assert.InDelta(t, 120, loaded[0].Duration, 0.0001)

	// Unknown repositories load empty, not an error.
	other, err := s.LoadRuns(ctx, "octo/unknown")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestStore_SaveRunsIdempotent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	run := model.Run{ID: 7, WorkflowName: "CI"}

	require.NoError(t, s.SaveRuns(ctx, "octo/repo", []model.Run{run}))

	// Re-saving the same id replaces the row rather than duplicating
	// it, and the latest payload wins.
	run.Jobs = []model.Job{{Name: "build", Conclusion: model.ConclusionSuccess}}
	require.NoError(t, s.SaveRuns(ctx, "octo/repo", []model.Run{run}))

	count, err := s.CountRuns(ctx, "octo/repo")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	loaded, err := s.LoadRuns(ctx, "octo/repo")
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	require.Len(t, loaded[0].Jobs, 1)
}

func TestStore_StatusLifecycle(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	// No status recorded yet.
	status, err := s.GetStatus(ctx, "octo/repo")
	require.NoError(t, err)
	assert.Nil(t, status)

	require.NoError(t, s.UpsertStatus(ctx, &cachestore.CollectionStatus{
		Repo:          "octo/repo",
		IsStreaming:   true,
		Phase:         "runs",
		TotalRuns:     100,
		CollectedRuns: 40,
	}))

	// Upsert the same repo again; the row is updated in place.
	require.NoError(t, s.UpsertStatus(ctx, &cachestore.CollectionStatus{
		Repo:          "octo/repo",
		IsStreaming:   false,
		IsComplete:    true,
		Phase:         "complete",
		TotalRuns:     100,
		CollectedRuns: 100,
	}))

	status, err = s.GetStatus(ctx, "octo/repo")
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.True(t, status.IsComplete)
	assert.False(t, status.IsStreaming)
	assert.Equal(t, "complete", status.Phase)
	assert.Equal(t, 100, status.CollectedRuns)
}

func TestStore_CurrentRepoPointer(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	repo, err := s.GetCurrentRepo(ctx)
	require.NoError(t, err)
	assert.Empty(t, repo)

	require.NoError(t, s.SetCurrentRepo(ctx, "octo/alpha"))
	require.NoError(t, s.SetCurrentRepo(ctx, "octo/beta"))

	repo, err = s.GetCurrentRepo(ctx)
	require.NoError(t, err)
	assert.Equal(t, "octo/beta", repo)
}

func TestStore_CheckCache(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	info, err := s.CheckCache(ctx, "octo/repo")
	require.NoError(t, err)
	assert.False(t, info.Exists)

	require.NoError(t, s.SaveRuns(ctx, "octo/repo", []model.Run{{ID: 1}, {ID: 2}}))
	require.NoError(t, s.UpsertStatus(ctx, &cachestore.CollectionStatus{
		Repo:       "octo/repo",
		IsComplete: true,
	}))

	info, err = s.CheckCache(ctx, "octo/repo")
	require.NoError(t, err)
	assert.True(t, info.Exists)
	assert.Equal(t, 2, info.TotalRuns)
	assert.False(t, info.LastUpdated.IsZero())
}

func TestStore_ClearScopes(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveRuns(ctx, "octo/alpha", []model.Run{{ID: 1}}))
	require.NoError(t, s.SaveRuns(ctx, "octo/beta", []model.Run{{ID: 1}}))
	require.NoError(t, s.UpsertStatus(ctx, &cachestore.CollectionStatus{
		Repo: "octo/alpha", IsComplete: true,
	}))

	// Clearing one repository leaves the other intact.
	require.NoError(t, s.Clear(ctx, "octo/alpha"))

	count, err := s.CountRuns(ctx, "octo/alpha")
	require.NoError(t, err)
	assert.Zero(t, count)

	status, err := s.GetStatus(ctx, "octo/alpha")
	require.NoError(t, err)
	assert.Nil(t, status)

	count, err = s.CountRuns(ctx, "octo/beta")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// ClearAll wipes everything including the current-repo pointer.
	require.NoError(t, s.SetCurrentRepo(ctx, "octo/beta"))
	require.NoError(t, s.ClearAll(ctx))

	count, err = s.CountRuns(ctx, "octo/beta")
	require.NoError(t, err)
	assert.Zero(t, count)

	repo, err := s.GetCurrentRepo(ctx)
	require.NoError(t, err)
	assert.Empty(t, repo)
}
