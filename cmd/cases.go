package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Cases is the attackmap cases commandline subcommand.
func Cases() *cobra.Command {
	flags := &engineFlags{}
	casesCommand := &cobra.Command{
		Use:   "cases",
		Short: "Manage stored case mappings",
	}
	flags.register(casesCommand)
	casesCommand.AddCommand(listCommand(flags), matchesCommand(flags), clearCommand(flags))
	return casesCommand
}

func listCommand(flags *engineFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all case ids with stored matches",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, cleanup, err := flags.newEngine()
			if err != nil {
				return err
			}
			defer cleanup()

			cases, err := engine.Cases(cmd.Context())
			if err != nil {
				return err
			}
			printJSON(cases)
			return nil
		},
	}
}

func matchesCommand(flags *engineFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "matches <case-id>",
		Short: "Show the stored matches for a case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, cleanup, err := flags.newEngine()
			if err != nil {
				return err
			}
			defer cleanup()

			matches, err := engine.Matches(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printJSON(matches)
			return nil
		},
	}
}

func clearCommand(flags *engineFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "clear <case-id>",
		Short: "Delete all stored matches for a case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, cleanup, err := flags.newEngine()
			if err != nil {
				return err
			}
			defer cleanup()

			if err := engine.ClearCase(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("cleared %s\n", args[0])
			return nil
		},
	}
}
