package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/actionsdash/actionsdash/pkg/aggregate"
	"github.com/actionsdash/actionsdash/pkg/cachestore"
	"github.com/actionsdash/actionsdash/pkg/config"
	"github.com/actionsdash/actionsdash/pkg/model"
	"github.com/actionsdash/actionsdash/pkg/runstore"
	"github.com/actionsdash/actionsdash/pkg/session"
)

// stubManager records start requests and answers with canned
// responses, so handler tests need no live backend.
type stubManager struct {
	started   []session.StartRequest
	cancelled []string

	startResp  session.StartResponse
	cancelResp bool
	status     session.Status
}

var _ session.Manager = (*stubManager)(nil)

func (m *stubManager) Start(
	_ context.Context, req session.StartRequest, _ session.ProgressFunc,
) session.StartResponse {
	m.started = append(m.started, req)

	return m.startResp
}

func (m *stubManager) Cancel(owner string) bool {
	m.cancelled = append(m.cancelled, owner)

	return m.cancelResp
}

func (m *stubManager) Status() session.Status { return m.status }

func (m *stubManager) Stop() error { return nil }

func newTestServer(
	t *testing.T, mgr session.Manager, rateLimit config.RateLimitConfig,
) (*server, *httptest.Server, runstore.Store, cachestore.Store) {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	cache := cachestore.NewStore(log, &config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteDatabaseConfig{Path: ":memory:"},
	})
	require.NoError(t, cache.Start(context.Background()))
	t.Cleanup(func() { _ = cache.Stop() })

	runs := runstore.NewStore(log)

	cfg := &config.Config{}
	cfg.Server.RateLimit = rateLimit

	srv, ok := NewServer(log, cfg, mgr, runs, cache).(*server)
	require.True(t, ok)

	srv.baseCtx = context.Background()

	ts := httptest.NewServer(srv.buildRouter())
	t.Cleanup(ts.Close)

	return srv, ts, runs, cache
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()

	resp, err := http.Get(url)
	require.NoError(t, err)

	defer resp.Body.Close()

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}

	return resp.StatusCode
}

func postJSON(t *testing.T, url string, body, out any) int {
	t.Helper()

	data, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)

	defer resp.Body.Close()

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}

	return resp.StatusCode
}

func doDelete(t *testing.T, url string) int {
	t.Helper()

	req, err := http.NewRequest(http.MethodDelete, url, nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	defer resp.Body.Close()

	return resp.StatusCode
}

func TestHandleHealth(t *testing.T) {
	_, ts, _, _ := newTestServer(t, &stubManager{}, config.RateLimitConfig{})

	var body map[string]string

	code := getJSON(t, ts.URL+"/api/v1/health", &body)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
}

func TestHandleCollect(t *testing.T) {
	mgr := &stubManager{
		startResp: session.StartResponse{Success: true, Repo: "octo/repo"},
	}
	_, ts, _, _ := newTestServer(t, mgr, config.RateLimitConfig{})

	var resp session.StartResponse

	code := postJSON(t, ts.URL+"/api/v1/collect", map[string]any{
		"repo":    "octo/repo",
		"owner":   "tab-1",
		"filters": map[string]string{"start": "2024-01-01"},
	}, &resp)

	assert.Equal(t, http.StatusOK, code)
	assert.True(t, resp.Success)

	require.Len(t, mgr.started, 1)
	assert.Equal(t, "octo/repo", mgr.started[0].Repo)
	assert.Equal(t, "tab-1", mgr.started[0].Owner)
	assert.Equal(t, "2024-01-01", mgr.started[0].Filters.Start)
}

func TestHandleCollect_BusyIsNotAnError(t *testing.T) {
	mgr := &stubManager{
		startResp: session.StartResponse{Busy: true, Repo: "octo/other"},
	}
	_, ts, _, _ := newTestServer(t, mgr, config.RateLimitConfig{})

	var resp session.StartResponse

	code := postJSON(t, ts.URL+"/api/v1/collect",
		map[string]string{"repo": "octo/repo"}, &resp)

	assert.Equal(t, http.StatusOK, code)
	assert.False(t, resp.Success)
	assert.True(t, resp.Busy)
	assert.Equal(t, "octo/other", resp.Repo)
}

func TestHandleCollect_BadRequests(t *testing.T) {
	mgr := &stubManager{}
	_, ts, _, _ := newTestServer(t, mgr, config.RateLimitConfig{})

	code := postJSON(t, ts.URL+"/api/v1/collect", map[string]string{}, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	resp, err := http.Post(ts.URL+"/api/v1/collect", "application/json",
		bytes.NewReader([]byte("{not json")))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	assert.Empty(t, mgr.started)
}

func TestHandleCollectCancel(t *testing.T) {
	mgr := &stubManager{cancelResp: true}
	_, ts, _, _ := newTestServer(t, mgr, config.RateLimitConfig{})

	var body map[string]bool

	code := postJSON(t, ts.URL+"/api/v1/collect/cancel",
		map[string]string{"owner": "tab-1"}, &body)

	assert.Equal(t, http.StatusOK, code)
	assert.True(t, body["cancelled"])
	require.Len(t, mgr.cancelled, 1)
	assert.Equal(t, "tab-1", mgr.cancelled[0])
}

func TestHandleStatus(t *testing.T) {
	mgr := &stubManager{
		status: session.Status{
			State:         session.StateStreamingRuns,
			Repo:          "octo/repo",
			CollectedRuns: 40,
			TotalRuns:     120,
		},
	}
	_, ts, _, cache := newTestServer(t, mgr, config.RateLimitConfig{})

	require.NoError(t, cache.UpsertStatus(context.Background(),
		&cachestore.CollectionStatus{
			Repo: "octo/repo", IsStreaming: true, Phase: "runs",
			TotalRuns: 120, CollectedRuns: 40,
		}))

	var body struct {
		Session    session.Status               `json:"session"`
		Collection *cachestore.CollectionStatus `json:"collection"`
	}

	code := getJSON(t, ts.URL+"/api/v1/status", &body)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, session.StateStreamingRuns, body.Session.State)
	require.NotNil(t, body.Collection)
	assert.True(t, body.Collection.IsStreaming)
	assert.Equal(t, 40, body.Collection.CollectedRuns)
}

func TestHandleCacheCheck(t *testing.T) {
	_, ts, _, cache := newTestServer(t, &stubManager{}, config.RateLimitConfig{})
	ctx := context.Background()

	var body struct {
		Exists     bool `json:"exists"`
		TotalRuns  int  `json:"total_runs"`
		IsComplete bool `json:"is_complete"`
	}

	code := getJSON(t, ts.URL+"/api/v1/cache/octo/repo", &body)
	assert.Equal(t, http.StatusOK, code)
	assert.False(t, body.Exists)

	require.NoError(t, cache.SaveRuns(ctx, "octo/repo",
		[]model.Run{{ID: 1}, {ID: 2}}))
	require.NoError(t, cache.UpsertStatus(ctx, &cachestore.CollectionStatus{
		Repo: "octo/repo", IsComplete: true,
	}))

	code = getJSON(t, ts.URL+"/api/v1/cache/octo/repo", &body)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, body.Exists)
	assert.Equal(t, 2, body.TotalRuns)
	assert.True(t, body.IsComplete)
}

func TestHandleCacheClear(t *testing.T) {
	_, ts, runs, cache := newTestServer(t, &stubManager{}, config.RateLimitConfig{})
	ctx := context.Background()

	require.NoError(t, cache.SaveRuns(ctx, "octo/repo", []model.Run{{ID: 1}}))
	runs.Merge("octo/repo", []model.Run{{ID: 1}})

	code := doDelete(t, ts.URL+"/api/v1/cache/octo/repo")
	assert.Equal(t, http.StatusOK, code)

	count, err := cache.CountRuns(ctx, "octo/repo")
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Zero(t, runs.Len("octo/repo"))
}

func TestHandleCacheClearAll(t *testing.T) {
	_, ts, runs, cache := newTestServer(t, &stubManager{}, config.RateLimitConfig{})
	ctx := context.Background()

	require.NoError(t, cache.SaveRuns(ctx, "octo/alpha", []model.Run{{ID: 1}}))
	require.NoError(t, cache.SaveRuns(ctx, "octo/beta", []model.Run{{ID: 1}}))
	runs.Merge("octo/alpha", []model.Run{{ID: 1}})

	code := doDelete(t, ts.URL+"/api/v1/cache")
	assert.Equal(t, http.StatusOK, code)

	for _, repo := range []string{"octo/alpha", "octo/beta"} {
		count, err := cache.CountRuns(ctx, repo)
		require.NoError(t, err)
		assert.Zero(t, count)
	}

	assert.Zero(t, runs.Len("octo/alpha"))
}

func dashboardRuns() []model.Run {
	day := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	return []model.Run{
		{ID: 1, WorkflowName: "CI", Branch: "main", Actor: "alice",
			Conclusion: model.ConclusionSuccess, CreatedAt: day,
			Duration: 100},
		{ID: 2, WorkflowName: "CI", Branch: "main", Actor: "bob",
			Conclusion: model.ConclusionFailure,
			CreatedAt:  day.Add(time.Hour), Duration: 120},
		{ID: 3, WorkflowName: "Deploy", Branch: "release", Actor: "alice",
			Conclusion: model.ConclusionSuccess,
			CreatedAt:  day.AddDate(0, 0, 5), Duration: 300},
	}
}

func TestHandleDashboard(t *testing.T) {
	_, ts, runs, _ := newTestServer(t, &stubManager{}, config.RateLimitConfig{})

	runs.Merge("octo/repo", dashboardRuns())

	var view aggregate.View

	code := getJSON(t, ts.URL+"/api/v1/dashboard/octo/repo", &view)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 3, view.TotalRuns)

	// Workflow filter.
	code = getJSON(t,
		ts.URL+"/api/v1/dashboard/octo/repo?workflow=CI", &view)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 2, view.TotalRuns)

	// Inclusive end date: runs on the end day itself still count.
	code = getJSON(t,
		ts.URL+"/api/v1/dashboard/octo/repo?start=2024-03-01&end=2024-03-01",
		&view)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 2, view.TotalRuns)

	// Combined filters AND together.
	code = getJSON(t,
		ts.URL+"/api/v1/dashboard/octo/repo?workflow=CI&actor=alice", &view)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, view.TotalRuns)

	// Bad date parameter.
	code = getJSON(t,
		ts.URL+"/api/v1/dashboard/octo/repo?start=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestHandleDashboard_RehydratesFromCache(t *testing.T) {
	_, ts, runs, cache := newTestServer(t, &stubManager{}, config.RateLimitConfig{})

	require.NoError(t, cache.SaveRuns(context.Background(), "octo/repo",
		dashboardRuns()))
	require.Zero(t, runs.Len("octo/repo"))

	var view aggregate.View

	code := getJSON(t, ts.URL+"/api/v1/dashboard/octo/repo", &view)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 3, view.TotalRuns)

	// The rehydrated runs now live in the store.
	assert.Equal(t, 3, runs.Len("octo/repo"))
}

func TestHandleFilterOptions(t *testing.T) {
	_, ts, runs, _ := newTestServer(t, &stubManager{}, config.RateLimitConfig{})

	runs.Merge("octo/repo", dashboardRuns())

	var body map[string][]string

	code := getJSON(t, ts.URL+"/api/v1/dashboard/octo/repo/filters", &body)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, []string{"CI", "Deploy"}, body["workflows"])
	assert.Equal(t, []string{"main", "release"}, body["branches"])
	assert.Equal(t, []string{"alice", "bob"}, body["actors"])
}

func TestRateLimit(t *testing.T) {
	_, ts, _, _ := newTestServer(t, &stubManager{}, config.RateLimitConfig{
		Enabled:           true,
		RequestsPerMinute: 1,
		Burst:             2,
	})

	// The configured burst admits two requests back to back.
	for i := 0; i < 2; i++ {
		code := getJSON(t, ts.URL+"/api/v1/status", nil)
		assert.Equal(t, http.StatusOK, code)
	}

	// The burst is exhausted; the next request is rejected.
	limited := false

	for i := 0; i < 3; i++ {
		if getJSON(t, ts.URL+"/api/v1/status", nil) ==
			http.StatusTooManyRequests {
			limited = true

			break
		}
	}

	assert.True(t, limited, "expected a 429 after the burst")

	// Health stays unthrottled.
	code := getJSON(t, fmt.Sprintf("%s/api/v1/health", ts.URL), nil)
	assert.Equal(t, http.StatusOK, code)
}
