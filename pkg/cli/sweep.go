package cli

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

func newSweepCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one firm maintenance sweep and print the report",
		Long: `Expire ended trials, remove expired invitations, recompute every live
firm's seat and storage ceilings and notify admins of firms that are over
their seat count.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			db, err := openDatabase(ctx, opts.cfg, opts.logger, false)
			if err != nil {
				return err
			}
			defer db.Close()

			svc, err := newServices(ctx, opts.cfg, db, opts.logger, nil)
			if err != nil {
				return err
			}
			report, err := svc.sweeper.RunOnce(ctx)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
}
