package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/actionsdash/actionsdash/pkg/model"
)

// Fetcher is the non-streaming HTTP fallback: it pages through a
// repository's run history when the backend does not offer a
// WebSocket stream. Requests are individually bounded by the client
// timeout and paced by a shared rate limiter.
type Fetcher interface {
	FetchRuns(ctx context.Context, repo string) ([]model.Run, error)
}

// Compile-time interface check.
var _ Fetcher = (*fetcher)(nil)

type fetcher struct {
	log         logrus.FieldLogger
	baseURL     string
	client      *http.Client
	limiter     *rate.Limiter
	concurrency int
}

// NewFetcher creates the fallback fetcher. requestTimeout bounds each
// page request; requestsPerMinute paces them.
func NewFetcher(
	log logrus.FieldLogger,
	baseURL string,
	requestTimeout time.Duration,
	requestsPerMinute int,
	concurrency int,
) Fetcher {
	rps := rate.Limit(float64(requestsPerMinute) / 60.0)

	return &fetcher{
		log:         log.WithField("component", "fetcher"),
		baseURL:     baseURL,
		client:      &http.Client{Timeout: requestTimeout},
		limiter:     rate.NewLimiter(rps, concurrency),
		concurrency: concurrency,
	}
}

// runsPage is the fallback endpoint's page shape.
type runsPage struct {
	Runs       []model.RawRun `json:"runs"`
	Page       int            `json:"page"`
	TotalPages int            `json:"totalPages"`
	TotalRuns  int            `json:"totalRuns"`
}

// FetchRuns pages through the repository's full history. The first
// page is fetched alone to learn the page count; the remainder are
// fetched with bounded concurrency.
func (f *fetcher) FetchRuns(
	ctx context.Context, repo string,
) ([]model.Run, error) {
	first, err := f.fetchPage(ctx, repo, 1)
	if err != nil {
		return nil, err
	}

	pages := make(map[int][]model.RawRun, first.TotalPages)
	pages[1] = first.Runs

	if first.TotalPages > 1 {
		var mu sync.Mutex

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(f.concurrency)

		for page := 2; page <= first.TotalPages; page++ {
			page := page
			g.Go(func() error {
				p, err := f.fetchPage(gctx, repo, page)
				if err != nil {
					return err
				}

				mu.Lock()
				pages[page] = p.Runs
				mu.Unlock()

				return nil
			})
		}

		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	pageNums := make([]int, 0, len(pages))
	for n := range pages {
		pageNums = append(pageNums, n)
	}

	sort.Ints(pageNums)

	runs := make([]model.Run, 0, first.TotalRuns)

	for _, n := range pageNums {
		for i := range pages[n] {
			runs = append(runs, pages[n][i].Normalize())
		}
	}

	f.log.WithFields(logrus.Fields{
		"repo":  repo,
		"pages": len(pageNums),
		"runs":  len(runs),
	}).Debug("Fallback fetch finished")

	return runs, nil
}

func (f *fetcher) fetchPage(
	ctx context.Context, repo string, page int,
) (*runsPage, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for rate limiter: %w", err)
	}

	endpoint := fmt.Sprintf(
		"%s/api/repos/%s/runs?page=%d",
		f.baseURL, url.PathEscape(repo), page,
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("building page request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching page %d: %w", page, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf(
			"fetching page %d: unexpected status %d", page, resp.StatusCode,
		)
	}

	var p runsPage
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("decoding page %d: %w", page, err)
	}

	return &p, nil
}
