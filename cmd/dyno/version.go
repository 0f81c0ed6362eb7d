package main

import (
	"github.com/spf13/cobra"

	"github.com/willibrandon/dyno/pkg/version"
)

func newVersionCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := version.Get()
			if done, err := printStructured(cmd.OutOrStdout(), output, info); done {
				return err
			}
			printInfo(cmd.OutOrStdout(), "%s\n", info)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "text", "Output format: text, json or yaml")
	return cmd
}
