package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/platinummonkey/caseload/pkg/auth"
)

func newTokenCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Bearer token operations",
	}

	var (
		userID string
		ttl    time.Duration
	)
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Mint a bearer token for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return errors.New("--user is required")
			}
			if ttl <= 0 {
				ttl = opts.cfg.Auth.TokenTTL
			}

			tokens := auth.NewTokenManager([]byte(opts.cfg.Auth.JWTSecret), opts.cfg.Auth.Issuer, ttl)
			token, expiresAt, err := tokens.Issue(userID)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires at %s\n", expiresAt.UTC().Format(time.RFC3339))
			return nil
		},
	}
	issue.Flags().StringVar(&userID, "user", "", "User id the token authenticates")
	issue.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (defaults to the configured TTL)")

	cmd.AddCommand(issue)
	return cmd
}
