package cmd

import (
	"github.com/spf13/cobra"
)

// Coverage is the attackmap coverage commandline subcommand.
func Coverage() *cobra.Command {
	flags := &engineFlags{}
	coverageCommand := &cobra.Command{
		Use:   "coverage <case-id>",
		Short: "Report ATT&CK coverage statistics for a case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, cleanup, err := flags.newEngine()
			if err != nil {
				return err
			}
			defer cleanup()

			report, err := engine.CoverageStatistics(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printJSON(report)
			return nil
		},
	}
	flags.register(coverageCommand)
	return coverageCommand
}

// Summary is the attackmap summary commandline subcommand.
func Summary() *cobra.Command {
	flags := &engineFlags{}
	var top int
	summaryCommand := &cobra.Command{
		Use:   "summary <case-id>",
		Short: "Summarize a case with its highest-confidence matches",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, cleanup, err := flags.newEngine()
			if err != nil {
				return err
			}
			defer cleanup()

			summary, err := engine.Summary(cmd.Context(), args[0], top)
			if err != nil {
				return err
			}
			printJSON(summary)
			return nil
		},
	}
	flags.register(summaryCommand)
	summaryCommand.Flags().IntVar(&top, "top", 5, "number of top matches to include")
	return summaryCommand
}
