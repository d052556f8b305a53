package cli

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/platinummonkey/caseload/pkg/firms"
)

func newUserCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "User account operations",
	}

	var email, name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Register a user account",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			db, err := openDatabase(ctx, opts.cfg, opts.logger, false)
			if err != nil {
				return err
			}
			defer db.Close()

			svc := firms.NewPostgresService(db, nil, opts.cfg.FirmLimits(), opts.logger)
			user, err := svc.CreateUser(ctx, email, name)
			if err != nil {
				return err
			}
			opts.logger.WithField("user_id", user.ID).Info("user created")

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(user)
		},
	}
	create.Flags().StringVar(&email, "email", "", "Email address")
	create.Flags().StringVar(&name, "name", "", "Full name")
	_ = create.MarkFlagRequired("email")

	cmd.AddCommand(create)
	return cmd
}
