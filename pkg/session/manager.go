// Package session coordinates collection sessions: at most one
// repository streams at a time, inbound pages are merged into the run
// store and persisted to the cache, and callers observe progress
// through a callback carrying a freshly aggregated view.
package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/actionsdash/actionsdash/pkg/aggregate"
	"github.com/actionsdash/actionsdash/pkg/cachestore"
	"github.com/actionsdash/actionsdash/pkg/model"
	"github.com/actionsdash/actionsdash/pkg/runstore"
	"github.com/actionsdash/actionsdash/pkg/stream"
)

// StartRequest asks the manager to collect one repository.
type StartRequest struct {
	// Repo is the full "owner/name" slug.
	Repo string

	// Owner identifies the requesting client. Only the owner (or an
	// anonymous caller) may cancel the session it started.
	Owner string

	// Filters are forwarded to the backend but never narrow what is
	// collected; the store always holds full history and date bounds
	// are applied by the filter engine.
	Filters stream.DateFilters
}

// StartResponse is the immediate answer to a start request. Busy and
// Cached are mutually exclusive refusal/short-circuit outcomes, never
// errors.
type StartResponse struct {
	Success    bool   `json:"success"`
	Busy       bool   `json:"busy,omitempty"`
	Cached     bool   `json:"cached,omitempty"`
	IsComplete bool   `json:"is_complete,omitempty"`
	Repo       string `json:"repo,omitempty"`
	TotalRuns  int    `json:"total_runs,omitempty"`
	Message    string `json:"message,omitempty"`
}

// Progress is one observation of a running session. View is a full
// aggregation of everything merged so far; it is nil on error
// notifications.
type Progress struct {
	Repo          string
	State         State
	Phase         string
	CollectedRuns int
	TotalRuns     int
	JobsCollected int
	IsComplete    bool
	Message       string
	View          *aggregate.View
}

// ProgressFunc receives session progress. It is called from the
// manager's pump goroutine and must not block for long.
type ProgressFunc func(Progress)

// Status is a point-in-time snapshot of the manager.
type Status struct {
	State         State  `json:"state"`
	Repo          string `json:"repo,omitempty"`
	Owner         string `json:"owner,omitempty"`
	CollectedRuns int    `json:"collected_runs"`
	TotalRuns     int    `json:"total_runs"`
}

// Manager owns the single active collection session.
type Manager interface {
	// Start begins collecting a repository. It returns once the
	// session is refused, served from cache, or streaming; streamed
	// progress arrives through the callback.
	Start(ctx context.Context, req StartRequest, progress ProgressFunc) StartResponse

	// Cancel stops the active session. An empty owner cancels
	// unconditionally; a named owner only cancels its own session.
	// Returns false when there was nothing to cancel.
	Cancel(owner string) bool

	// Status reports the current session state.
	Status() Status

	// Stop cancels any active session and waits for the pump to
	// drain.
	Stop() error
}

// Compile-time interface check.
var _ Manager = (*manager)(nil)

type manager struct {
	log     logrus.FieldLogger
	dialer  stream.Dialer
	fetcher stream.Fetcher
	runs    runstore.Store
	cache   cachestore.Store

	mu     sync.Mutex
	active *activeSession
	wg     sync.WaitGroup
}

// activeSession is the mutable state of one collection. Fields are
// guarded by the manager mutex except conn and progress, which are set
// before the pump starts and never reassigned.
type activeSession struct {
	repo      string
	owner     string
	state     State
	conn      stream.Conn
	progress  ProgressFunc
	collected int
	total     int
	jobs      int
}

// NewManager creates a session manager wired to the given stream
// dialer and stores. fetcher may be nil; when set it serves as the
// non-streaming fallback after a failed dial.
func NewManager(
	log logrus.FieldLogger,
	dialer stream.Dialer,
	fetcher stream.Fetcher,
	runs runstore.Store,
	cache cachestore.Store,
) Manager {
	return &manager{
		log:     log.WithField("component", "session"),
		dialer:  dialer,
		fetcher: fetcher,
		runs:    runs,
		cache:   cache,
	}
}

func (m *manager) Start(
	ctx context.Context, req StartRequest, progress ProgressFunc,
) StartResponse {
	m.mu.Lock()

	if m.active != nil && !m.active.state.Terminal() {
		busyRepo := m.active.repo
		m.mu.Unlock()

		m.log.WithFields(logrus.Fields{
			"requested": req.Repo,
			"active":    busyRepo,
		}).Info("Rejecting start, a session is already streaming")

		return StartResponse{
			Busy: true,
			Repo: busyRepo,
			Message: fmt.Sprintf(
				"a collection for %s is already in progress", busyRepo,
			),
		}
	}

	sess := &activeSession{
		repo:     req.Repo,
		owner:    req.Owner,
		state:    StateConnecting,
		progress: progress,
	}
	m.active = sess
	m.mu.Unlock()

	log := m.log.WithField("repo", req.Repo)

	if resp, ok := m.serveFromCache(ctx, sess); ok {
		return resp
	}

	conn, err := m.dialer.Dial(ctx, stream.StartRequest{
		Repo:    req.Repo,
		Filters: req.Filters,
	})
	if err != nil {
		if m.fetcher != nil {
			log.WithError(err).
				Warn("Stream dial failed, falling back to paged fetch")

			return m.startFallback(ctx, sess)
		}

		m.mu.Lock()
		sess.state = StateError
		m.mu.Unlock()

		log.WithError(err).Error("Failed to open stream")

		return StartResponse{
			Repo:    req.Repo,
			Message: fmt.Sprintf("connecting to backend: %v", err),
		}
	}

	// A fresh stream re-delivers the full history, so stale in-memory
	// entries from a previous collection are dropped first.
	m.runs.Clear(req.Repo)

	m.mu.Lock()
	sess.conn = conn
	sess.state = StateStreamingRuns
	m.mu.Unlock()

	if err := m.cache.SetCurrentRepo(ctx, req.Repo); err != nil {
		log.WithError(err).Warn("Failed to record current repo")
	}

	m.persistStatus(ctx, sess, true, false, "")

	log.Info("Collection started")

	m.wg.Add(1)

	go func() {
		defer m.wg.Done()
		m.pump(sess)
	}()

	return StartResponse{Success: true, Repo: req.Repo}
}

// serveFromCache short-circuits a start when the repository already
// has a complete cache: the cached runs are loaded into the run store
// and the final progress callback fires without a socket being dialed.
func (m *manager) serveFromCache(
	ctx context.Context, sess *activeSession,
) (StartResponse, bool) {
	status, err := m.cache.GetStatus(ctx, sess.repo)
	if err != nil {
		m.log.WithError(err).WithField("repo", sess.repo).
			Warn("Cache status check failed, streaming instead")

		return StartResponse{}, false
	}

	if status == nil || !status.IsComplete {
		return StartResponse{}, false
	}

	runs, err := m.cache.LoadRuns(ctx, sess.repo)
	if err != nil {
		m.log.WithError(err).WithField("repo", sess.repo).
			Warn("Cache load failed, streaming instead")

		return StartResponse{}, false
	}

	m.runs.Clear(sess.repo)
	m.runs.Merge(sess.repo, runs)

	if err := m.cache.SetCurrentRepo(ctx, sess.repo); err != nil {
		m.log.WithError(err).Warn("Failed to record current repo")
	}

	m.mu.Lock()
	sess.state = StateComplete
	sess.collected = len(runs)
	sess.total = len(runs)
	m.mu.Unlock()

	m.log.WithFields(logrus.Fields{
		"repo": sess.repo,
		"runs": len(runs),
	}).Info("Served collection from cache")

	m.notify(sess, true)

	return StartResponse{
		Success:    true,
		Cached:     true,
		IsComplete: true,
		Repo:       sess.repo,
		TotalRuns:  len(runs),
	}, true
}

// startFallback collects via the paged HTTP fetcher instead of the
// stream. The fetch runs in the background like the pump, so the
// caller sees the same started/progress/complete shape.
func (m *manager) startFallback(
	ctx context.Context, sess *activeSession,
) StartResponse {
	m.runs.Clear(sess.repo)

	m.mu.Lock()
	sess.state = StateStreamingRuns
	m.mu.Unlock()

	if err := m.cache.SetCurrentRepo(ctx, sess.repo); err != nil {
		m.log.WithError(err).Warn("Failed to record current repo")
	}

	m.persistStatus(ctx, sess, true, false, "")

	m.wg.Add(1)

	go func() {
		defer m.wg.Done()

		bgCtx := context.Background()

		runs, err := m.fetcher.FetchRuns(bgCtx, sess.repo)
		if err != nil {
			m.fail(bgCtx, sess, fmt.Sprintf("fallback fetch: %v", err))

			return
		}

		if len(runs) == 0 {
			m.fail(bgCtx, sess, "fallback fetch returned no runs")

			return
		}

		m.mu.Lock()
		if sess.state.Terminal() {
			// Cancelled while fetching; drop the result.
			m.mu.Unlock()

			return
		}

		sess.total = len(runs)
		m.mu.Unlock()

		m.runs.Merge(sess.repo, runs)

		if err := m.cache.SaveRuns(bgCtx, sess.repo, runs); err != nil {
			m.log.WithError(err).WithField("repo", sess.repo).
				Warn("Failed to persist fetched runs")
		}

		m.mu.Lock()
		sess.collected = m.runs.Len(sess.repo)
		m.mu.Unlock()

		m.notify(sess, false)
		m.finish(bgCtx, sess)
	}()

	return StartResponse{Success: true, Repo: sess.repo}
}

// pump consumes the stream until the socket closes, folding each
// message into the stores. A close mid-stream with data already
// collected is treated as completion; a close with nothing collected
// is an error. There is no automatic retry.
func (m *manager) pump(sess *activeSession) {
	ctx := context.Background()
	log := m.log.WithField("repo", sess.repo)

	for msg := range sess.conn.Messages() {
		m.mu.Lock()
		terminal := sess.state.Terminal()
		m.mu.Unlock()

		// Frames still buffered behind a complete, error, or cancel are
		// dropped: the final callback has fired and the persisted status
		// must not be rewritten.
		if terminal {
			continue
		}

		switch msg.Type {
		case stream.MessageRuns:
			m.mergeBatch(ctx, sess, msg.Runs.Runs)

			m.mu.Lock()
			if msg.Runs.TotalRuns > 0 {
				sess.total = msg.Runs.TotalRuns
			}
			m.mu.Unlock()

			m.persistStatus(ctx, sess, true, false, "")
			m.notify(sess, false)

		case stream.MessagePhaseComplete:
			m.mu.Lock()
			sess.state = StateStreamingJobs
			if msg.PhaseComplete.TotalRuns > 0 {
				sess.total = msg.PhaseComplete.TotalRuns
			}
			m.mu.Unlock()

			log.WithField("runs", msg.PhaseComplete.TotalRuns).
				Info("Run phase complete, collecting jobs")

			m.persistStatus(ctx, sess, true, false, "")

		case stream.MessageJobProgress:
			m.mergeBatch(ctx, sess, msg.JobProgress.Runs)

			m.mu.Lock()
			sess.jobs = msg.JobProgress.JobsCollected
			m.mu.Unlock()

			m.notify(sess, false)

		case stream.MessageComplete:
			m.finish(ctx, sess)

		case stream.MessageError:
			m.fail(ctx, sess, msg.Error.Message)

		case stream.MessageLog:
			log.WithField("backend_level", msg.Log.Level).
				Debug(msg.Log.Message)
		}
	}

	m.mu.Lock()
	state := sess.state
	collected := sess.collected
	m.mu.Unlock()

	if state.Terminal() {
		return
	}

	if collected > 0 {
		log.WithField("collected", collected).
			Warn("Stream closed mid-collection, keeping partial data")
		m.finish(ctx, sess)

		return
	}

	m.fail(ctx, sess, "stream closed before any data arrived")
}

// mergeBatch normalizes one page of raw runs and folds it into both
// stores. Job-phase batches re-deliver known ids with jobs attached,
// which the merge replaces in place.
func (m *manager) mergeBatch(
	ctx context.Context, sess *activeSession, raw []model.RawRun,
) {
	if len(raw) == 0 {
		return
	}

	runs := make([]model.Run, 0, len(raw))
	for i := range raw {
		runs = append(runs, raw[i].Normalize())
	}

	m.runs.Merge(sess.repo, runs)

	if err := m.cache.SaveRuns(ctx, sess.repo, runs); err != nil {
		m.log.WithError(err).WithField("repo", sess.repo).
			Warn("Failed to persist run batch")
	}

	m.mu.Lock()
	sess.collected = m.runs.Len(sess.repo)
	m.mu.Unlock()
}

// finish moves the session to Complete, marks the cache complete, and
// fires the single final progress callback.
func (m *manager) finish(ctx context.Context, sess *activeSession) {
	m.mu.Lock()
	if sess.state.Terminal() {
		m.mu.Unlock()

		return
	}

	sess.state = StateComplete
	collected := sess.collected
	m.mu.Unlock()

	if sess.conn != nil {
		_ = sess.conn.Close()
	}

	m.persistStatus(ctx, sess, false, true, "")

	m.log.WithFields(logrus.Fields{
		"repo": sess.repo,
		"runs": collected,
	}).Info("Collection complete")

	m.notify(sess, true)
}

// fail moves the session to Error. The cache keeps whatever partial
// data was persisted but is not marked complete.
func (m *manager) fail(ctx context.Context, sess *activeSession, reason string) {
	m.mu.Lock()
	if sess.state.Terminal() {
		m.mu.Unlock()

		return
	}

	sess.state = StateError
	m.mu.Unlock()

	if sess.conn != nil {
		_ = sess.conn.Close()
	}

	m.persistStatus(ctx, sess, false, false, reason)

	m.log.WithFields(logrus.Fields{
		"repo":   sess.repo,
		"reason": reason,
	}).Error("Collection failed")

	if sess.progress != nil {
		m.mu.Lock()
		p := Progress{
			Repo:          sess.repo,
			State:         StateError,
			Phase:         phaseFor(sess.state),
			CollectedRuns: sess.collected,
			TotalRuns:     sess.total,
			Message:       reason,
		}
		m.mu.Unlock()

		sess.progress(p)
	}
}

func (m *manager) Cancel(owner string) bool {
	m.mu.Lock()

	sess := m.active
	if sess == nil || sess.state.Terminal() {
		m.mu.Unlock()

		return false
	}

	if owner != "" && sess.owner != "" && owner != sess.owner {
		m.mu.Unlock()

		m.log.WithFields(logrus.Fields{
			"requested_by": owner,
			"owned_by":     sess.owner,
		}).Warn("Refusing cancel from non-owner")

		return false
	}

	sess.state = StateCancelled
	conn := sess.conn
	m.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}

	m.persistStatus(context.Background(), sess, false, false, "")

	m.log.WithField("repo", sess.repo).Info("Collection cancelled")

	return true
}

func (m *manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil {
		return Status{State: StateIdle}
	}

	return Status{
		State:         m.active.state,
		Repo:          m.active.repo,
		Owner:         m.active.owner,
		CollectedRuns: m.active.collected,
		TotalRuns:     m.active.total,
	}
}

func (m *manager) Stop() error {
	m.Cancel("")
	m.wg.Wait()

	return nil
}

// notify fires the progress callback with a freshly aggregated view of
// everything merged so far.
func (m *manager) notify(sess *activeSession, complete bool) {
	if sess.progress == nil {
		return
	}

	m.mu.Lock()
	p := Progress{
		Repo:          sess.repo,
		State:         sess.state,
		Phase:         phaseFor(sess.state),
		CollectedRuns: sess.collected,
		TotalRuns:     sess.total,
		JobsCollected: sess.jobs,
		IsComplete:    complete,
	}
	m.mu.Unlock()

	view := aggregate.Aggregate(m.runs.Snapshot(sess.repo))
	p.View = &view

	sess.progress(p)
}

// persistStatus mirrors the session state into the durable collection
// status row.
func (m *manager) persistStatus(
	ctx context.Context,
	sess *activeSession,
	streaming, complete bool,
	errMsg string,
) {
	m.mu.Lock()
	status := &cachestore.CollectionStatus{
		Repo:          sess.repo,
		IsStreaming:   streaming,
		IsComplete:    complete,
		Phase:         phaseFor(sess.state),
		TotalRuns:     sess.total,
		CollectedRuns: sess.collected,
		Error:         errMsg,
	}
	m.mu.Unlock()

	if err := m.cache.UpsertStatus(ctx, status); err != nil {
		m.log.WithError(err).WithField("repo", sess.repo).
			Warn("Failed to persist collection status")
	}
}

func phaseFor(s State) string {
	if s == StateStreamingJobs {
		return stream.PhaseJobs
	}

	return stream.PhaseRuns
}
