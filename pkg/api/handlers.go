package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/actionsdash/actionsdash/pkg/aggregate"
	"github.com/actionsdash/actionsdash/pkg/filter"
	"github.com/actionsdash/actionsdash/pkg/model"
	"github.com/actionsdash/actionsdash/pkg/session"
	"github.com/actionsdash/actionsdash/pkg/stream"
)

// errorResponse is a standard error payload.
type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON encodes v as JSON and writes it to w.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
	}
}

// repoParam joins the owner and repo path segments into the full slug.
func repoParam(r *http.Request) string {
	return chi.URLParam(r, "owner") + "/" + chi.URLParam(r, "repo")
}

// handleHealth returns server health status.
func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// collectRequest is the body of POST /collect.
type collectRequest struct {
	Repo    string             `json:"repo"`
	Owner   string             `json:"owner,omitempty"`
	Filters stream.DateFilters `json:"filters"`
}

// handleCollect starts a collection session. Busy and cached outcomes
// are structured responses, not errors.
func (s *server) handleCollect(w http.ResponseWriter, r *http.Request) {
	var req collectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid request body"})

		return
	}

	if req.Repo == "" {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"repo is required"})

		return
	}

	// The stream must outlive this request, so the session is started
	// against the server's base context rather than the request's.
	resp := s.sessions.Start(s.baseCtx, session.StartRequest{
		Repo:    req.Repo,
		Owner:   req.Owner,
		Filters: req.Filters,
	}, nil)

	writeJSON(w, http.StatusOK, resp)
}

// handleCollectCancel cancels the active session.
func (s *server) handleCollectCancel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Owner string `json:"owner,omitempty"`
	}

	if r.Body != nil {
		// A missing or empty body cancels unconditionally.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	cancelled := s.sessions.Cancel(req.Owner)

	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": cancelled})
}

// handleStatus reports the live session state together with the
// persisted collection status for the relevant repository.
func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.sessions.Status()

	repo := r.URL.Query().Get("repo")
	if repo == "" {
		repo = st.Repo
	}

	if repo == "" {
		current, err := s.cache.GetCurrentRepo(r.Context())
		if err != nil {
			s.log.WithError(err).Warn("Failed to read current repo")
		}

		repo = current
	}

	resp := map[string]any{"session": st}

	if repo != "" {
		status, err := s.cache.GetStatus(r.Context(), repo)
		if err != nil {
			s.log.WithError(err).WithField("repo", repo).
				Warn("Failed to read collection status")
		} else if status != nil {
			resp["collection"] = status
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleCacheCheck answers whether a repository has usable cached data.
func (s *server) handleCacheCheck(w http.ResponseWriter, r *http.Request) {
	repo := repoParam(r)

	info, err := s.cache.CheckCache(r.Context(), repo)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"checking cache"})

		return
	}

	resp := map[string]any{
		"exists":       info.Exists,
		"total_runs":   info.TotalRuns,
		"last_updated": info.LastUpdated,
		"is_complete":  false,
	}

	status, err := s.cache.GetStatus(r.Context(), repo)
	if err == nil && status != nil {
		resp["is_complete"] = status.IsComplete
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleCacheClear removes one repository's cached and in-memory data.
func (s *server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	repo := repoParam(r)

	if err := s.cache.Clear(r.Context(), repo); err != nil {
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"clearing cache"})

		return
	}

	s.runs.Clear(repo)

	writeJSON(w, http.StatusOK, map[string]bool{"cleared": true})
}

// handleCacheClearAll removes every repository's cached data.
func (s *server) handleCacheClearAll(w http.ResponseWriter, r *http.Request) {
	if err := s.cache.ClearAll(r.Context()); err != nil {
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"clearing cache"})

		return
	}

	s.runs.ClearAll()

	writeJSON(w, http.StatusOK, map[string]bool{"cleared": true})
}

// handleDashboard returns the aggregated view of a repository's runs,
// narrowed by the filter query parameters.
func (s *server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	repo := repoParam(r)

	spec, err := filterSpecFromQuery(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	runs := s.snapshotFor(r.Context(), repo)
	view := aggregate.Aggregate(filter.Apply(runs, spec))

	writeJSON(w, http.StatusOK, view)
}

// handleFilterOptions returns the distinct filter values present in a
// repository's runs, for the dashboard's dropdowns.
func (s *server) handleFilterOptions(w http.ResponseWriter, r *http.Request) {
	runs := s.snapshotFor(r.Context(), repoParam(r))

	workflows := map[string]struct{}{}
	branches := map[string]struct{}{}
	actors := map[string]struct{}{}

	for _, run := range runs {
		if run.WorkflowName != "" {
			workflows[run.WorkflowName] = struct{}{}
		}

		if run.Branch != "" {
			branches[run.Branch] = struct{}{}
		}

		if run.Actor != "" {
			actors[run.Actor] = struct{}{}
		}
	}

	writeJSON(w, http.StatusOK, map[string][]string{
		"workflows": sortedKeys(workflows),
		"branches":  sortedKeys(branches),
		"actors":    sortedKeys(actors),
	})
}

// snapshotFor returns the in-memory runs for a repository, rehydrating
// from the cache after a restart.
func (s *server) snapshotFor(
	ctx context.Context, repo string,
) []model.Run {
	if s.runs.Len(repo) == 0 {
		cached, err := s.cache.LoadRuns(ctx, repo)
		if err != nil {
			s.log.WithError(err).WithField("repo", repo).
				Warn("Failed to rehydrate runs from cache")
		} else if len(cached) > 0 {
			s.runs.Merge(repo, cached)
		}
	}

	return s.runs.Snapshot(repo)
}

// filterSpecFromQuery builds a filter spec from dashboard query
// parameters. Multi-value selections are comma-separated; dates are
// ISO days or RFC3339 instants, both bounds inclusive.
func filterSpecFromQuery(r *http.Request) (filter.Spec, error) {
	q := r.URL.Query()

	spec := filter.Spec{
		Workflows: splitParam(q.Get("workflow")),
		Branches:  splitParam(q.Get("branch")),
		Actors:    splitParam(q.Get("actor")),
	}
	spec.Normalize()

	if v := q.Get("start"); v != "" {
		t, _, err := parseDateParam(v)
		if err != nil {
			return filter.Spec{}, err
		}

		spec.Start = &t
	}

	if v := q.Get("end"); v != "" {
		t, dateOnly, err := parseDateParam(v)
		if err != nil {
			return filter.Spec{}, err
		}

		if dateOnly {
			// An end date covers its whole day.
			t = t.Add(24*time.Hour - time.Nanosecond)
		}

		spec.End = &t
	}

	return spec, nil
}

func splitParam(v string) []string {
	if v == "" {
		return nil
	}

	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))

	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}

	return out
}

// parseDateParam accepts an ISO day or a full RFC3339 instant. The
// boolean reports whether only a day was given.
func parseDateParam(v string) (time.Time, bool, error) {
	if t, err := time.Parse("2006-01-02", v); err == nil {
		return t.UTC(), true, nil
	}

	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("invalid date parameter: %s", v)
	}

	return t.UTC(), false, nil
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}

	sort.Strings(out)

	return out
}
