package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/caseforge/attackmap/render"
)

// Dashboards is the attackmap dashboards commandline subcommand.
func Dashboards() *cobra.Command {
	flags := &engineFlags{}
	var formats []string
	dashboardsCommand := &cobra.Command{
		Use:   "dashboards <case-id>",
		Short: "Write dashboard documents for a case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, cleanup, err := flags.newEngine()
			if err != nil {
				return err
			}
			defer cleanup()

			paths, err := engine.GenerateDashboards(cmd.Context(), args[0], formats)
			if err != nil {
				return err
			}
			for _, format := range render.AllFormats() {
				if path, ok := paths[format]; ok {
					fmt.Printf("%s\t%s\n", format, path)
				}
			}
			return nil
		},
	}
	flags.register(dashboardsCommand)
	dashboardsCommand.Flags().StringSliceVar(&formats, "format", nil,
		"dashboard formats to write (default: all of splunk, elastic, navigator)")
	return dashboardsCommand
}
