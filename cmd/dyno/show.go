package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/willibrandon/dyno/pkg/heapfile"
	"github.com/willibrandon/dyno/pkg/registry"
)

// allocation is a record as printed by show and watch, with the address in
// the same hex form the snapshot file uses.
type allocation struct {
	Address string `json:"address" yaml:"address"`
	Size    uint64 `json:"size" yaml:"size"`
}

type heapSummary struct {
	File        string       `json:"file" yaml:"file"`
	Count       int          `json:"count" yaml:"count"`
	Bytes       uint64       `json:"bytes" yaml:"bytes"`
	Allocations []allocation `json:"allocations" yaml:"allocations"`
}

func summarize(path string, recs []registry.Record) heapSummary {
	v := registry.ViewOf(recs)
	s := heapSummary{
		File:        path,
		Count:       v.Len(),
		Bytes:       v.Bytes(),
		Allocations: make([]allocation, 0, v.Len()),
	}
	for _, r := range recs {
		s.Allocations = append(s.Allocations, allocation{Address: fmt.Sprintf("%#x", r.Address), Size: r.Size})
	}
	return s
}

func newShowCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "show [file]",
		Short: "Print the live allocations in a snapshot file",
		Long: `The show command reads a snapshot file (mem.txt by default) and prints
the allocations it lists along with their count and total size.

Example:
  dyno show
  dyno show build/mem.txt -o yaml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := heapfile.DefaultPath
			if len(args) == 1 {
				path = args[0]
			}
			return runShow(cmd.OutOrStdout(), path, output)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "text", "Output format: text, json or yaml")
	return cmd
}

func runShow(w io.Writer, path, output string) error {
	logger.Debug().Str("file", path).Msg("reading snapshot")
	recs, err := heapfile.ReadFile(path)
	if err != nil {
		return err
	}

	s := summarize(path, recs)
	if done, err := printStructured(w, output, s); done {
		return err
	}
	printSummary(w, s)
	return nil
}

func printSummary(w io.Writer, s heapSummary) {
	printInfo(w, "%s: %d live allocations, %d bytes\n", s.File, s.Count, s.Bytes)
	if s.Count == 0 || quiet {
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "ADDRESS\tSIZE\t")
	for _, a := range s.Allocations {
		fmt.Fprintf(tw, "%s\t%d\t\n", a.Address, a.Size)
	}
	tw.Flush()
}
