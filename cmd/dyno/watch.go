package main

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/willibrandon/dyno/pkg/heapfile"
	"github.com/willibrandon/dyno/pkg/metrics"
	"github.com/willibrandon/dyno/pkg/watch"
)

func newWatchCmd() *cobra.Command {
	var (
		metricsAddr string
		debounce    time.Duration
		verbose     bool
	)
	cmd := &cobra.Command{
		Use:   "watch [file]",
		Short: "Follow a snapshot file as the tracker rewrites it",
		Long: `The watch command prints a line each time the snapshot file changes.
With --metrics-addr it also serves the live totals as Prometheus metrics.

Example:
  dyno watch
  dyno watch mem.txt --metrics-addr :9102`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := heapfile.DefaultPath
			if len(args) == 1 {
				path = args[0]
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return runWatch(ctx, cmd.OutOrStdout(), path, metricsAddr, debounce, verbose)
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	cmd.Flags().DurationVar(&debounce, "debounce", watch.DefaultDebounce, "Quiet period before reading a changed file")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Print every allocation on each update")
	return cmd
}

func runWatch(ctx context.Context, w io.Writer, path, metricsAddr string, debounce time.Duration, verbose bool) error {
	watcher, err := watch.New(path, debounce)
	if err != nil {
		return err
	}

	var collector *metrics.Collector
	if metricsAddr != "" {
		reg := prometheus.NewRegistry()
		if collector, err = metrics.NewCollector(reg); err != nil {
			return err
		}
		ln, err := net.Listen("tcp", metricsAddr)
		if err != nil {
			return err
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler(reg))
		srv := &http.Server{Handler: mux}
		go func() {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("metrics server stopped")
			}
		}()
		defer srv.Close()
		logger.Info().Str("addr", ln.Addr().String()).Msg("serving metrics")
	}

	done := make(chan error, 1)
	go func() { done <- watcher.Run(ctx) }()

	printInfo(w, "watching %s\n", watcher.Path())
	for u := range watcher.Updates() {
		if u.Err != nil {
			logger.Warn().Err(u.Err).Str("file", watcher.Path()).Msg("unreadable snapshot")
			continue
		}
		if collector != nil {
			collector.ObserveSnapshot(u.Records)
		}
		s := summarize(path, u.Records)
		printInfo(w, "%s  %d live allocations, %d bytes\n", u.Time.Format(time.RFC3339), s.Count, s.Bytes)
		if verbose {
			for _, a := range s.Allocations {
				printInfo(w, "    %s %d\n", a.Address, a.Size)
			}
		}
	}
	return <-done
}
