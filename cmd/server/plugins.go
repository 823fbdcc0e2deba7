package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vidlens/engine/internal/plugins"
)

func newPluginsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "plugins",
		Short: "List registered job types",
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := plugins.Register()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tSTEPS\tPARAMETERS")
			for _, d := range registry.Describe() {
				names := ""
				for i, p := range d.Parameters {
					if i > 0 {
						names += ","
					}
					names += p.Name
				}
				fmt.Fprintf(w, "%s\t%d\t%s\n", d.Name, d.Steps, names)
			}
			return w.Flush()
		},
	}
}
