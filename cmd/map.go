package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/caseforge/attackmap/mapper"
)

// Map is the attackmap map commandline subcommand.
func Map() *cobra.Command {
	flags := &engineFlags{}
	mapCommand := &cobra.Command{
		Use:   "map <case-id> <observations.json>",
		Short: "Map forensic observations to ATT&CK techniques",
		Long: `Map reads a JSON array of observations and appends the scored technique
matches to the case. Each observation carries an artifact_type plus optional
context and data fields:

    [
      {"artifact_type": "lsass_dump"},
      {"artifact_type": "prefetch",
       "context": "PSEXEC.EXE-1A2B3C4D.pf",
       "data": {"filename": "psexec.exe"}}
    ]

The resulting matches are printed as JSON.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			caseID := args[0]
			observations, err := readObservations(args[1])
			if err != nil {
				return err
			}

			engine, cleanup, err := flags.newEngine()
			if err != nil {
				return err
			}
			defer cleanup()

			matches, err := engine.MapArtifacts(cmd.Context(), caseID, observations)
			if err != nil {
				return err
			}
			printJSON(matches)
			return nil
		},
	}
	flags.register(mapCommand)
	return mapCommand
}

func readObservations(path string) ([]mapper.Observation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var observations []mapper.Observation
	if err := json.Unmarshal(data, &observations); err != nil {
		return nil, fmt.Errorf("failed to parse observations: %w", err)
	}
	return observations, nil
}
