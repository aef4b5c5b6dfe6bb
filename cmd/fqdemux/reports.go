package main

import (
	"github.com/spf13/cobra"

	"github.com/vertti/fastqdemux/internal/report"
)

func newReportsCommand() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "reports [flags] sample_stats...",
		Short: "Merge the sample_stats reports of several lanes",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return report.Merge(args, dir)
		},
	}
	cmd.Flags().StringVarP(&dir, "output", "o", ".", "directory for the merged reports")
	return cmd
}
