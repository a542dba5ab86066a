/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/friendsincode/radiorelay/internal/stations"
)

var (
	stationsFile string
	stationsJSON bool
)

var stationsCmd = &cobra.Command{
	Use:   "stations",
	Short: "List the station directory",
	Long: `List the stations the relay can play.

Without --file the built-in directory is shown. With --file the YAML
directory is loaded and validated exactly as "serve" would load it.

Examples:
  radiorelay stations
  radiorelay stations --file stations.yaml --json
`,
	RunE: runStations,
}

func init() {
	stationsCmd.Flags().StringVarP(&stationsFile, "file", "f", "", "YAML station directory (default: $RELAY_STATIONS_FILE or built-in list)")
	stationsCmd.Flags().BoolVar(&stationsJSON, "json", false, "Print JSON instead of a table")
	rootCmd.AddCommand(stationsCmd)
}

func runStations(cmd *cobra.Command, args []string) error {
	path := stationsFile
	if path == "" && !cmd.Flags().Changed("file") {
		if err := loadConfig(); err != nil {
			return err
		}
		path = cfg.StationsFile
	}

	dir := stations.NewBuiltinDirectory()
	if path != "" {
		loaded, err := stations.LoadFile(path)
		if err != nil {
			return err
		}
		dir = loaded
	}

	out := cmd.OutOrStdout()
	if stationsJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"default":  dir.Default().ID,
			"stations": dir.List(),
		})
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tGENRE\tURL")
	for _, st := range dir.List() {
		id := st.ID
		if id == dir.Default().ID {
			id += " *"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", id, st.Name, st.Genre, st.URL)
	}
	return tw.Flush()
}
