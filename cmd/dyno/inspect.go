package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/willibrandon/dyno/pkg/debugger"
	"github.com/willibrandon/dyno/pkg/heapfile"
)

type inspectFlags struct {
	steps   int
	memFile string
	workDir string
	dlv     string
	entry   string
	output  string
	timeout time.Duration
}

func newInspectCmd() *cobra.Command {
	var f inspectFlags
	cmd := &cobra.Command{
		Use:   "inspect <binary> [-- args...]",
		Short: "Step a program under Delve and show its stack and heap",
		Long: `The inspect command runs a program built with dyno tracking under a
headless Delve server, stops at its entry function and then steps over
--steps source lines. At every stop it prints the stack of the current
goroutine together with the live allocations from the program's
snapshot file.

Requires dlv on PATH (or --dlv).

Example:
  dyno inspect ./myprog --steps 20
  dyno inspect ./myprog -o json -- -input data.bin`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return runInspect(ctx, cmd.OutOrStdout(), args[0], args[1:], f)
		},
	}
	cmd.Flags().IntVar(&f.steps, "steps", 10, "Number of source lines to step after the entry breakpoint")
	cmd.Flags().StringVar(&f.memFile, "mem-file", heapfile.DefaultPath, "Snapshot file of the target, relative to --wd")
	cmd.Flags().StringVar(&f.workDir, "wd", "", "Working directory of the target")
	cmd.Flags().StringVar(&f.dlv, "dlv", "dlv", "Path to the dlv executable")
	cmd.Flags().StringVar(&f.entry, "entry", "main.main", "Function to stop at first")
	cmd.Flags().StringVarP(&f.output, "output", "o", "text", "Output format: text, json or yaml")
	cmd.Flags().DurationVar(&f.timeout, "connect-timeout", 10*time.Second, "How long to wait for Delve to start")
	return cmd
}

func runInspect(ctx context.Context, w io.Writer, target string, args []string, f inspectFlags) error {
	if err := checkFormat(f.output); err != nil {
		return err
	}
	launchCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	insp, err := debugger.Launch(launchCtx, target, debugger.InspectorOptions{
		Dlv:     f.dlv,
		Args:    args,
		WorkDir: f.workDir,
		MemFile: f.memFile,
		Logger:  &logger,
	})
	if err != nil {
		return err
	}
	defer insp.Close()

	if _, err := insp.SetFunctionBreakpoint(f.entry); err != nil {
		return err
	}

	state, err := insp.Continue()
	if err != nil {
		return err
	}
	var states []*debugger.ProgramState
	for i := 0; ; i++ {
		states = append(states, state)
		if f.output == "text" {
			printProgramState(w, i, state)
		}
		if state.ExecState == debugger.StateExited || i >= f.steps || ctx.Err() != nil {
			break
		}
		if state, err = insp.Next(); err != nil {
			return err
		}
	}

	if done, err := printStructured(w, f.output, states); done {
		return err
	}
	return nil
}

func printProgramState(w io.Writer, stop int, s *debugger.ProgramState) {
	if s.ExecState == debugger.StateExited {
		printInfo(w, "[%d] exited with status %d\n", stop, s.ExitStatus)
	} else {
		printInfo(w, "[%d] %s at %s:%d (%s)\n", stop, s.ExecState, s.File, s.Line, s.Function)
		for i, fr := range s.Frames {
			printInfo(w, "    #%d %s\n        %s:%d\n", i, fr.Function, fr.File, fr.Line)
			for _, v := range fr.Locals {
				printInfo(w, "        %s %s = %s\n", v.Name, v.Type, v.Value)
			}
		}
	}
	if s.HeapError != "" {
		printInfo(w, "    heap: %s\n", s.HeapError)
		return
	}
	var total uint64
	for _, r := range s.Heap {
		total += r.Size
	}
	printInfo(w, "    heap: %d live allocations, %d bytes\n", len(s.Heap), total)
	for _, r := range s.Heap {
		printInfo(w, "      %#x %d\n", r.Address, r.Size)
	}
}
