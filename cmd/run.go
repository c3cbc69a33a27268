package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/deal-enrich/internal/batch"
	"github.com/sells-group/deal-enrich/internal/checkpoint"
	"github.com/sells-group/deal-enrich/internal/fetcher"
	"github.com/sells-group/deal-enrich/internal/input"
	"github.com/sells-group/deal-enrich/internal/metrics"
	"github.com/sells-group/deal-enrich/internal/model"
	"github.com/sells-group/deal-enrich/internal/sink"
)

var (
	runInput       string
	runSource      string
	runSheet       string
	runFresh       bool
	runLimit       int
	runOffline     bool
	runMetricsAddr string
)

// progressEvery controls how often progress is logged.
const progressEvery = 25

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Enrich a deal feed, resuming from the checkpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		mode := "run"
		if runOffline {
			mode = "offline"
		}
		if err := cfg.Validate(mode); err != nil {
			return err
		}

		path, err := fetcher.Resolve(ctx, runInput, cfg.Fetch.Dir, fetcher.Options{
			UserAgent:     cfg.Fetch.UserAgent,
			Timeout:       time.Duration(cfg.Fetch.TimeoutSecs) * time.Second,
			RatePerSecond: cfg.Fetch.RatePerSecond,
		})
		if err != nil {
			return eris.Wrap(err, "resolve input")
		}
		source := runSource
		if source == "" {
			source = sourceFromPath(path)
		}

		deals, report, err := input.ReadFile(ctx, path, input.Options{Source: source, Sheet: runSheet})
		if err != nil {
			return eris.Wrap(err, "read input")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		cp, err := checkpoint.Load(ctx, st, source)
		if err != nil {
			return err
		}

		remote, err := initRemote(ctx)
		if err != nil {
			return err
		}
		writer, schema, err := sink.Open(sink.Options{
			Dir:     cfg.Output.Dir,
			Source:  source,
			Remote:  remote,
			Retry:   sinkPolicy(cfg.Sink).Retry(),
			Breaker: sinkPolicy(cfg.Sink).Breaker(),
		})
		if err != nil {
			return err
		}
		defer writer.Close() //nolint:errcheck

		orch, err := initOrchestrator(runOffline)
		if err != nil {
			return err
		}

		driver := batch.New(batch.Config{
			Source:     source,
			Input:      runInput,
			Limit:      runLimit,
			OnProgress: logProgress,
		}, orch, writer, cp, st, schema)

		summary, runErr := runWithMetrics(ctx, runMetricsAddr, func(ctx context.Context) (model.Summary, error) {
			return driver.Run(ctx, deals, runFresh)
		})

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(struct {
			Source  string        `json:"source"`
			Input   input.Report  `json:"input"`
			Summary model.Summary `json:"summary"`
		}{source, report, summary}); err != nil {
			return err
		}
		return runErr
	},
}

func init() {
	runCmd.Flags().StringVar(&runInput, "input", "", "feed file path or http(s)/ftp URL (required)")
	runCmd.Flags().StringVar(&runSource, "source", "", "source tag naming the output files and checkpoint (default: input file name)")
	runCmd.Flags().StringVar(&runSheet, "sheet", "", "worksheet to read from an xlsx feed (default: first)")
	runCmd.Flags().BoolVar(&runFresh, "fresh", false, "clear the checkpoint and re-enrich every record")
	runCmd.Flags().IntVar(&runLimit, "limit", 0, "max records to enrich this run (0 = no limit)")
	runCmd.Flags().BoolVar(&runOffline, "offline", false, "use canned inference responses instead of the API")
	runCmd.Flags().StringVar(&runMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running (e.g. :9090)")
	_ = runCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(runCmd)
}

// sourceFromPath derives a source tag from a feed file name.
func sourceFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func logProgress(p batch.Progress) {
	if p.Index%progressEvery != 0 && p.Index != p.Total {
		return
	}
	zap.L().Info("run: progress",
		zap.Int("index", p.Index),
		zap.Int("total", p.Total),
		zap.String("deal_id", p.DealID),
		zap.Duration("elapsed", p.Elapsed),
	)
}

// runWithMetrics runs fn, serving /metrics on addr for its duration when
// addr is set. A failing metrics listener cancels fn.
func runWithMetrics(ctx context.Context, addr string, fn func(context.Context) (model.Summary, error)) (model.Summary, error) {
	if addr == "" {
		return fn(ctx)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	g.Go(func() error {
		zap.L().Info("run: serving metrics", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "metrics listen")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		return srv.Shutdown(shutdownCtx)
	})

	var summary model.Summary
	g.Go(func() error {
		defer cancel()
		var err error
		summary, err = fn(gctx)
		return err
	})

	err := g.Wait()
	return summary, err
}
