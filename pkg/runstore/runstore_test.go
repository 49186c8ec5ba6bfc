package runstore_test

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/actionsdash/actionsdash/pkg/model"
	"github.com/actionsdash/actionsdash/pkg/runstore"
)

func setupTestStore(t *testing.T) runstore.Store {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return runstore.NewStore(log)
}

func TestStore_MergeIdempotent(t *testing.T) {
	s := setupTestStore(t)

	runs := []model.Run{
		{ID: 1, WorkflowName: "CI", Conclusion: model.ConclusionSuccess},
		{ID: 2, WorkflowName: "CI", Conclusion: model.ConclusionFailure},
	}

	added := s.Merge("octo/repo", runs)
	assert.Equal(t, 2, added)

	// Merging the same batch again yields no new entries and no
	// duplicates.
	added = s.Merge("octo/repo", runs)
	assert.Equal(t, 0, added)
	assert.Equal(t, 2, s.Len("octo/repo"))
}

func TestStore_ReplaceNotDuplicate(t *testing.T) {
	s := setupTestStore(t)

	s.Merge("octo/repo", []model.Run{
		{ID: 1, WorkflowName: "CI", Conclusion: model.ConclusionSuccess},
	})

	// The same id arriving again with jobs attached replaces the
	// stored entry in place.
	withJobs := model.Run{
		ID:           1,
		WorkflowName: "CI",
		Conclusion:   model.ConclusionSuccess,
		Jobs: []model.Job{
			{Name: "build", Conclusion: model.ConclusionSuccess, Duration: 30},
		},
	}

	added := s.Merge("octo/repo", []model.Run{withJobs})
	assert.Equal(t, 0, added)
	require.Equal(t, 1, s.Len("octo/repo"))

	snap := s.Snapshot("octo/repo")
	require.Len(t, snap, 1)
	require.Len(t, snap[0].Jobs, 1)
	assert.Equal(t, "build", snap[0].Jobs[0].Name)
}

func TestStore_SnapshotIsolation(t *testing.T) {
	s := setupTestStore(t)

	s.Merge("octo/repo", []model.Run{{ID: 1, WorkflowName: "CI"}})

	snap := s.Snapshot("octo/repo")
	require.Len(t, snap, 1)

	// Mutating the snapshot must not affect the store.
	snap[0].WorkflowName = "mutated"

	again := s.Snapshot("octo/repo")
	require.Len(t, again, 1)
	assert.Equal(t, "CI", again[0].WorkflowName)
}

func TestStore_RepositoriesAreIsolated(t *testing.T) {
	s := setupTestStore(t)

	s.Merge("octo/alpha", []model.Run{{ID: 1}, {ID: 2}})
	s.Merge("octo/beta", []model.Run{{ID: 1}})

	assert.Equal(t, 2, s.Len("octo/alpha"))
	assert.Equal(t, 1, s.Len("octo/beta"))
	assert.Empty(t, s.Snapshot("octo/unknown"))

	s.Clear("octo/alpha")
	assert.Equal(t, 0, s.Len("octo/alpha"))
	assert.Equal(t, 1, s.Len("octo/beta"))

	s.ClearAll()
	assert.Equal(t, 0, s.Len("octo/beta"))
}
