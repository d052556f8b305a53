package cli

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/platinummonkey/caseload/pkg/firms"
)

func newFirmCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "firm",
		Short: "Operator firm operations",
	}

	var firmID, status string
	setStatus := &cobra.Command{
		Use:   "status",
		Short: "Set a firm's subscription status",
		Long: `Set a firm's subscription status to any valid value, including
statuses a firm cannot choose for itself such as lifting read_only or
expired back to active.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if firmID == "" {
				return errors.New("--firm is required")
			}
			next := firms.SubscriptionStatus(status)
			if !next.IsValid() {
				return fmt.Errorf("%w: %q", firms.ErrInvalidStatus, status)
			}

			ctx := cmd.Context()
			db, err := openDatabase(ctx, opts.cfg, opts.logger, false)
			if err != nil {
				return err
			}
			defer db.Close()

			svc := firms.NewPostgresService(db, nil, opts.cfg.FirmLimits(), opts.logger)
			firm, err := svc.GetFirm(ctx, firmID)
			if err != nil {
				return err
			}
			if err := svc.SetSubscriptionStatus(ctx, firmID, next); err != nil {
				return err
			}
			opts.logger.WithFields(logrus.Fields{
				"firm_id":  firmID,
				"previous": firm.Status,
				"status":   next,
			}).Info("subscription status set by operator")

			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s -> %s\n", firmID, firm.Status, next)
			return nil
		},
	}
	setStatus.Flags().StringVar(&firmID, "firm", "", "Firm id")
	setStatus.Flags().StringVar(&status, "status", "", "trial, active, past_due, canceled, expired or read_only")

	cmd.AddCommand(setStatus)
	return cmd
}
