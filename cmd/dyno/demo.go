package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/willibrandon/dyno/pkg/instrumentation"
	"github.com/willibrandon/dyno/pkg/tracker"
)

type demoFlags struct {
	file       string
	journal    string
	compress   bool
	backend    string
	checkpoint int
}

func newDemoCmd() *cobra.Command {
	var f demoFlags
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Allocate and free a few blocks through a tracker",
		Long: `The demo command allocates 16 and 32 bytes and frees both, printing the
snapshot file after each step. Settings start from the DYNO_* environment
variables; flags override them.

Example:
  dyno demo --file /tmp/mem.txt --journal /tmp/heap.journal
  dyno replay /tmp/heap.journal`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := instrumentation.LoadOptionsFromEnvironment()
			opts.Enabled = true
			flags := cmd.Flags()
			if flags.Changed("file") || opts.MemFile == "" {
				opts.MemFile = f.file
			}
			if flags.Changed("journal") {
				opts.Journal = f.journal
			}
			if flags.Changed("compress") {
				opts.JournalCompress = f.compress
			}
			if flags.Changed("backend") {
				opts.Backend = f.backend
			}
			if flags.Changed("checkpoint-interval") {
				opts.CheckpointInterval = f.checkpoint
			}
			return runDemo(cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().StringVar(&f.file, "file", "mem.txt", "Snapshot file to write")
	cmd.Flags().StringVar(&f.journal, "journal", "", "Also journal every event to this file")
	cmd.Flags().BoolVar(&f.compress, "compress", false, "Compress the journal with zstd")
	cmd.Flags().StringVar(&f.backend, "backend", "manual", "Allocator backend: manual, mmap or go")
	cmd.Flags().IntVar(&f.checkpoint, "checkpoint-interval", 0, "Journal the full live set every N operations")
	return cmd
}

func runDemo(w io.Writer, opts instrumentation.Options) error {
	trackerOpts, err := opts.TrackerOptions()
	if err != nil {
		return err
	}
	trackerOpts = append(trackerOpts,
		tracker.WithLogger(logger),
		tracker.WithErrorHandler(func(err error) {
			logger.Warn().Err(err).Msg("tracking degraded")
		}),
	)

	t, err := tracker.New(trackerOpts...)
	if err != nil {
		return err
	}
	defer t.Close()

	step := func(what string) error {
		printInfo(w, "%s\n", what)
		data, err := os.ReadFile(t.Path())
		if err != nil {
			return err
		}
		printInfo(w, "%s", data)
		return nil
	}

	first, err := t.Allocate(16)
	if err != nil {
		return err
	}
	if err := step(fmt.Sprintf("allocated 16 bytes at %#x", tracker.Address(first))); err != nil {
		return err
	}

	second, err := t.Allocate(32)
	if err != nil {
		return err
	}
	if err := step(fmt.Sprintf("allocated 32 bytes at %#x", tracker.Address(second))); err != nil {
		return err
	}

	if err := t.Free(first); err != nil {
		return err
	}
	if err := step("freed the 16-byte block"); err != nil {
		return err
	}

	if err := t.Free(second); err != nil {
		return err
	}
	if err := step("freed the 32-byte block"); err != nil {
		return err
	}

	if opts.Journal != "" {
		printInfo(w, "journal written to %s\n", opts.Journal)
	}
	return t.Close()
}
