package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newReconcileCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Mark open jobs the queue no longer holds as unknown",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := newComponents(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			marked, err := c.reconcile(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d job(s) marked unknown\n", marked)
			return nil
		},
	}
}
