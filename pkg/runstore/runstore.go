package runstore

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/actionsdash/actionsdash/pkg/model"
)

// Store is an in-memory, per-repository collection of runs keyed by
// run id. Merging a run whose id is already present replaces the
// stored entry (jobs arrive in a later phase on the same id), so the
// store never holds duplicates.
type Store interface {
	// Merge folds runs into the repository's collection and returns
	// the number of ids that were not previously present.
	Merge(repo string, runs []model.Run) int

	// Snapshot returns a copy of the repository's runs. Unknown
	// repositories yield an empty slice.
	Snapshot(repo string) []model.Run

	// Len returns the number of runs held for the repository.
	Len(repo string) int

	// Clear removes one repository's collection.
	Clear(repo string)

	// ClearAll removes every repository's collection.
	ClearAll()
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type repoRuns struct {
	byID  map[int64]model.Run
	order []int64 // insertion order, so snapshots are stable
}

type store struct {
	log   logrus.FieldLogger
	mu    sync.RWMutex
	repos map[string]*repoRuns
}

// NewStore creates an empty run store.
func NewStore(log logrus.FieldLogger) Store {
	return &store{
		log:   log.WithField("component", "runstore"),
		repos: make(map[string]*repoRuns),
	}
}

func (s *store) Merge(repo string, runs []model.Run) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	rr, ok := s.repos[repo]
	if !ok {
		rr = &repoRuns{byID: make(map[int64]model.Run, len(runs))}
		s.repos[repo] = rr
	}

	added := 0

	for _, run := range runs {
		if _, exists := rr.byID[run.ID]; !exists {
			rr.order = append(rr.order, run.ID)
			added++
		}

		// Last-applied wins: a re-received id replaces the stored
		// entry in place, including its jobs.
		rr.byID[run.ID] = run
	}

	if added > 0 {
		s.log.WithFields(logrus.Fields{
			"repo":  repo,
			"added": added,
			"total": len(rr.byID),
		}).Debug("Merged runs")
	}

	return added
}

func (s *store) Snapshot(repo string) []model.Run {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rr, ok := s.repos[repo]
	if !ok {
		return []model.Run{}
	}

	out := make([]model.Run, 0, len(rr.order))
	for _, id := range rr.order {
		out = append(out, rr.byID[id])
	}

	return out
}

func (s *store) Len(repo string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rr, ok := s.repos[repo]
	if !ok {
		return 0
	}

	return len(rr.byID)
}

func (s *store) Clear(repo string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.repos, repo)
}

func (s *store) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.repos = make(map[string]*repoRuns)
}
