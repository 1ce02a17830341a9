package main

import (
	"encoding/json"
	"github.com/ariefcatur/go-checkout-saga/internal/reconcile"
	"github.com/spf13/cobra"
	"os"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "run <job>",
		Short:     "Run one job once and print its report",
		Long:      "Jobs: " + reconcile.JobSync + ", " + reconcile.JobReconcile + ", " + reconcile.JobRetryFailed,
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{reconcile.JobSync, reconcile.JobReconcile, reconcile.JobRetryFailed},
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := newDeps(cmd.Context())
			if err != nil {
				return err
			}
			defer d.close()

			rep, err := d.jobs.Run(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(rep)
		},
	}
}
