package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/actionsdash/actionsdash/pkg/aggregate"
	"github.com/actionsdash/actionsdash/pkg/cachestore"
	"github.com/actionsdash/actionsdash/pkg/filter"
	"github.com/actionsdash/actionsdash/pkg/runstore"
	"github.com/actionsdash/actionsdash/pkg/session"
	"github.com/actionsdash/actionsdash/pkg/stream"
)

var (
	collectRepo  string
	collectStart string
	collectEnd   string
	collectJSON  bool
)

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Collect a repository's run history and print a summary",
	Long: `Stream one repository's workflow-run history to completion, persist
it to the local cache, and print an aggregated summary.`,
	RunE: runCollect,
}

func init() {
	collectCmd.Flags().StringVar(&collectRepo, "repo", "",
		"repository slug (owner/name)")
	collectCmd.Flags().StringVar(&collectStart, "start", "",
		"start date (YYYY-MM-DD), applied to the summary only")
	collectCmd.Flags().StringVar(&collectEnd, "end", "",
		"end date (YYYY-MM-DD), applied to the summary only")
	collectCmd.Flags().BoolVar(&collectJSON, "json", false,
		"print the full aggregated view as JSON")

	_ = collectCmd.MarkFlagRequired("repo")

	rootCmd.AddCommand(collectCmd)
}

func runCollect(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cache := cachestore.NewStore(log, &cfg.Cache.Database)
	if err := cache.Start(ctx); err != nil {
		return fmt.Errorf("starting cache store: %w", err)
	}

	defer func() {
		if err := cache.Stop(); err != nil {
			log.WithError(err).Warn("Cache store stop error")
		}
	}()

	runs := runstore.NewStore(log)
	dialer := stream.NewDialer(log, cfg.Backend.StreamURL)
	sessions := session.NewManager(log, dialer, newFetcher(cfg), runs, cache)

	done := make(chan session.Progress, 1)

	resp := sessions.Start(ctx, session.StartRequest{
		Repo:  collectRepo,
		Owner: "cli",
		Filters: stream.DateFilters{
			Start: collectStart,
			End:   collectEnd,
		},
	}, func(p session.Progress) {
		switch {
		case p.IsComplete || p.State == session.StateError:
			select {
			case done <- p:
			default:
			}
		default:
			log.WithField("collected", p.CollectedRuns).
				WithField("total", p.TotalRuns).
				WithField("phase", p.Phase).
				Info("Collecting")
		}
	})

	if !resp.Success {
		return fmt.Errorf("starting collection: %s", resp.Message)
	}

	if resp.Cached {
		log.WithField("runs", resp.TotalRuns).
			Info("Serving from complete cache")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var final session.Progress

	select {
	case final = <-done:
	case sig := <-sigCh:
		log.WithField("signal", sig).Info("Cancelling collection")
		sessions.Cancel("cli")

		return fmt.Errorf("collection cancelled")
	}

	if final.State == session.StateError {
		return fmt.Errorf("collection failed: %s", final.Message)
	}

	// Date bounds never narrow collection; they are applied here, on
	// the collected set.
	spec, err := summaryFilter()
	if err != nil {
		return err
	}

	view := aggregate.Aggregate(
		filter.Apply(runs.Snapshot(collectRepo), spec))

	if collectJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(view)
	}

	printSummary(collectRepo, &view)

	return nil
}

// summaryFilter builds the date-bound filter from the collect flags.
func summaryFilter() (filter.Spec, error) {
	spec := filter.NewSpec()

	if collectStart != "" {
		t, err := time.Parse("2006-01-02", collectStart)
		if err != nil {
			return filter.Spec{}, fmt.Errorf("parsing --start: %w", err)
		}

		spec.Start = &t
	}

	if collectEnd != "" {
		t, err := time.Parse("2006-01-02", collectEnd)
		if err != nil {
			return filter.Spec{}, fmt.Errorf("parsing --end: %w", err)
		}

		// The end date covers its whole day.
		t = t.Add(24*time.Hour - time.Nanosecond)
		spec.End = &t
	}

	return spec, nil
}

// printSummary writes a human-readable digest of the aggregated view.
func printSummary(repo string, view *aggregate.View) {
	fmt.Printf("\n%s: %d runs\n\n", repo, view.TotalRuns)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)

	fmt.Fprintf(w, "success rate:\t%.1f%%\n", view.SuccessRate*100)
	fmt.Fprintf(w, "failure rate:\t%.1f%%\n", view.FailureRate*100)
	fmt.Fprintf(w, "avg duration:\t%.1fs\n", view.AvgDuration)
	fmt.Fprintf(w, "median duration:\t%.1fs\n", view.MedianDuration)
	_ = w.Flush()

	if len(view.TopWorkflows) > 0 {
		fmt.Printf("\nworkflows:\n")

		w = tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintf(w, "  name\truns\tfailures\tmedian\n")

		for _, g := range view.TopWorkflows {
			fmt.Fprintf(w, "  %s\t%d\t%d\t%.1fs\n",
				g.Name, g.Count, g.Failures, g.MedianDuration)
		}

		_ = w.Flush()
	}

	if len(view.Spikes) > 0 {
		fmt.Printf("\nanomalies:\n")

		for _, spike := range view.Spikes {
			fmt.Printf("  %s %s: %s\n",
				spike.Date.Format("2006-01-02"), spike.Type, spike.Detail)
		}
	}

	if len(view.Worsening) > 0 {
		fmt.Printf("\nworsening points:\n")

		for _, p := range view.Worsening {
			fmt.Printf("  %s %s: %.2fx\n",
				p.At.Format("2006-01-02"), p.Metric, p.Severity)
		}
	}
}
