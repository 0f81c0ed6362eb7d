package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/willibrandon/dyno/pkg/debugger"
	"github.com/willibrandon/dyno/pkg/recorder"
	"github.com/willibrandon/dyno/pkg/replay"
)

type replayFlags struct {
	breaks    []string
	renderAt  int
	cacheSize int
}

func newReplayCmd() *cobra.Command {
	var f replayFlags
	cmd := &cobra.Command{
		Use:   "replay <journal>",
		Short: "Step through a recorded journal",
		Long: `The replay command loads an event journal and rebuilds the live set at
any event. Without --render-at it starts an interactive session with
step, back, continue, goto, break, info and render commands.

Example:
  dyno replay heap.journal --break size>=1024
  dyno replay heap.journal --render-at 41`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd.InOrStdin(), cmd.OutOrStdout(), args[0], f)
		},
	}
	cmd.Flags().StringArrayVarP(&f.breaks, "break", "b", nil, "Breakpoint to set before starting (repeatable)")
	cmd.Flags().IntVar(&f.renderAt, "render-at", -2, "Print the snapshot after this event index and exit (-1 for the start)")
	cmd.Flags().IntVar(&f.cacheSize, "cache-size", replay.DefaultCacheSize, "Number of rebuilt states to keep")
	return cmd
}

func runReplay(in io.Reader, w io.Writer, path string, f replayFlags) error {
	events, err := recorder.ReadJournal(path)
	if err != nil {
		return err
	}
	logger.Debug().Str("journal", path).Int("events", len(events)).Msg("loaded journal")

	r, err := replay.NewBasicReplayerWithCache(f.cacheSize)
	if err != nil {
		return err
	}
	if err := r.LoadEvents(events); err != nil {
		return err
	}

	if f.renderAt >= -1 {
		if err := r.ReplayToEventIndex(f.renderAt); err != nil {
			return err
		}
		_, err := w.Write(r.Render())
		return err
	}

	cli := debugger.NewCLI(r, w)
	for _, cond := range f.breaks {
		bp, err := cli.Breakpoints().AddBreakpoint(cond)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "Breakpoint %s set\n", bp)
	}
	return cli.Start(in)
}
