package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/willibrandon/dyno/pkg/version"
)

var (
	// Global flags
	logLevel string
	quiet    bool
	noColor  bool

	logger = zerolog.Nop()
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dyno",
		Short: "Track, view and replay heap allocations",
		Long: `dyno works with the snapshot file written by a dyno tracker, which holds
the live set of tracked allocations as a JSON array, and with the optional
event journal that records every allocation and free.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogger(cmd.ErrOrStderr())
		},
	}

	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress all output except errors")
	cmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored log output")

	cmd.AddCommand(
		newShowCmd(),
		newWatchCmd(),
		newDemoCmd(),
		newReplayCmd(),
		newInspectCmd(),
		newVersionCmd(),
	)
	return cmd
}

func execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func setupLogger(w io.Writer) error {
	level, err := zerolog.ParseLevel(strings.ToLower(logLevel))
	if err != nil {
		return fmt.Errorf("invalid --log-level %q", logLevel)
	}

	color := !noColor
	if f, ok := w.(*os.File); !ok || !(isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
		color = false
	}

	logger = zerolog.New(zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.RFC3339,
		NoColor:    !color,
	}).Level(level).With().Timestamp().Logger()
	return nil
}

// Helper functions for output

// printInfo prints an info message if not in quiet mode
func printInfo(w io.Writer, format string, args ...interface{}) {
	if !quiet {
		fmt.Fprintf(w, format, args...)
	}
}

// printJSON outputs data as JSON
func printJSON(w io.Writer, v interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// printYAML outputs data as YAML
func printYAML(w io.Writer, v interface{}) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(v); err != nil {
		return err
	}
	return encoder.Close()
}

func checkFormat(format string) error {
	switch format {
	case "text", "", "json", "yaml", "yml":
		return nil
	}
	return fmt.Errorf("unknown output format %q (want text, json or yaml)", format)
}

// printStructured writes v in the named format, reporting whether it did.
// Text output is left to the caller.
func printStructured(w io.Writer, format string, v interface{}) (bool, error) {
	switch format {
	case "json":
		return true, printJSON(w, v)
	case "yaml", "yml":
		return true, printYAML(w, v)
	case "text", "":
		return false, nil
	}
	return true, checkFormat(format)
}
