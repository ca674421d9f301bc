package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Catalog is the attackmap catalog commandline subcommand.
func Catalog() *cobra.Command {
	flags := &engineFlags{}
	catalogCommand := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect and refresh the ATT&CK technique catalog",
	}
	flags.register(catalogCommand)
	catalogCommand.AddCommand(catalogStatusCommand(flags), catalogRefreshCommand(flags))
	return catalogCommand
}

func catalogStatusCommand(flags *engineFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show catalog version, size, and cache health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, cleanup, err := flags.newEngine()
			if err != nil {
				return err
			}
			defer cleanup()

			cat := engine.Catalog()
			status := map[string]any{
				"version":    cat.Version,
				"techniques": cat.Len(),
			}
			if health, ok := engine.CatalogHealth(); ok {
				status["health"] = health
			}
			printJSON(status)
			return nil
		},
	}
}

func catalogRefreshCommand(flags *engineFlags) *cobra.Command {
	var force bool
	refreshCommand := &cobra.Command{
		Use:   "refresh",
		Short: "Fetch the latest catalog snapshot into the cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, cleanup, err := flags.newEngine()
			if err != nil {
				return err
			}
			defer cleanup()

			if err := engine.RefreshCatalog(cmd.Context(), force); err != nil {
				return err
			}
			cat := engine.Catalog()
			fmt.Printf("catalog %s with %d techniques\n", cat.Version, cat.Len())
			return nil
		},
	}
	refreshCommand.Flags().BoolVar(&force, "force", false, "refresh even if the cache is still fresh")
	return refreshCommand
}
