package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ford-at-home/storygen/store"
)

func newSweepCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one expiry and purge pass",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRuntime(cmd, func(rt *runtime) error {
				sweeper := store.NewSweeper(rt.store,
					store.WithSweepTimeout(a.cfg.Sweeper.Timeout),
					store.WithSweepLogger(a.logger),
				)
				res, err := sweeper.Sweep(cmd.Context())
				if err != nil {
					return err
				}
				return a.print(cmd.OutOrStdout(), res, func(w io.Writer) {
					fmt.Fprintf(w, "expired %d, purged %d in %s\n", res.Expired, res.Purged, res.Duration)
				})
			})
		},
	}
}
