package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

type sourcesOptions struct {
	jsonOutput bool
}

func newSourcesCmd(root *rootFlags) *cobra.Command {
	opts := &sourcesOptions{}

	cmd := &cobra.Command{
		Use:   "sources",
		Short: "List configured data sources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, closeDeps, err := root.build(cmd.Context())
			if err != nil {
				return err
			}
			defer closeDeps()
			entries := a.Catalog.Entries()
			if opts.jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tID FIELD\tSELECTABLE\tSURFACE")
			for _, e := range entries {
				surface := "-"
				if s, ok := a.Host.SurfaceFor(e.ID); ok {
					surface = s.ID
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\n", e.ID, e.Name, e.IDField, e.Selectable, surface)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output in JSON format")

	return cmd
}
