package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/platinummonkey/caseload/pkg/config"
	"github.com/platinummonkey/caseload/pkg/observability"
)

// Version is reported by the health endpoint. Set at build time with
// -ldflags "-X github.com/platinummonkey/caseload/pkg/cli.Version=..."
var Version = "dev"

// rootOptions carries what PersistentPreRunE loads for the subcommands
type rootOptions struct {
	envFile string
	cfg     *config.Config
	logger  *logrus.Logger
}

// NewRootCommand creates the root command
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "caseload",
		Short:         "Caseload - practice management for law firms",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load()
		},
	}
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "Optional dotenv file loaded before the environment is read")

	root.AddCommand(
		newServeCommand(opts),
		newMigrateCommand(opts),
		newSweepCommand(opts),
		newTokenCommand(opts),
		newUserCommand(opts),
		newFirmCommand(opts),
	)
	return root
}

func (o *rootOptions) load() error {
	if o.envFile != "" {
		if err := godotenv.Load(o.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", o.envFile, err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	o.cfg = cfg
	o.logger = observability.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat, os.Stderr)
	observability.SetFallbackLogger(o.logger)
	return nil
}
