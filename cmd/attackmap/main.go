// Package main implements the attackmap command line tool with various
// subcommands that map forensic artifacts to MITRE ATT&CK techniques.
//     catalog     Inspect and refresh the technique catalog
//     map         Map forensic observations to techniques
//     coverage    Report coverage statistics for a case
//     summary     Summarize a case with its top matches
//     dashboards  Write dashboard documents for a case
//     cases       Manage stored case mappings
//
// Usage
//
// Refresh the catalog cache
//     attackmap catalog refresh --force
// Map observations and inspect the case
//     attackmap map incident-42 observations.json
//     attackmap coverage incident-42
//     attackmap summary incident-42 --top 3
// Write dashboards
//     attackmap dashboards incident-42 --format splunk,navigator
// Clean up
//     attackmap cases clear incident-42
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/caseforge/attackmap/cmd"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "attackmap",
		Short: "Map forensic artifacts to MITRE ATT&CK techniques",
	}
	rootCmd.AddCommand(cmd.Catalog(), cmd.Map(), cmd.Coverage(), cmd.Summary(),
		cmd.Dashboards(), cmd.Cases())
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("Error:", err)
		os.Exit(1)
	}
}
