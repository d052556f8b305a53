package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/caseload/pkg/billing"
)

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	var (
		catalogPath string
		skipSeed    bool
	)

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply schema migrations and seed the plan catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			db, err := openDatabase(ctx, opts.cfg, opts.logger, true)
			if err != nil {
				return err
			}
			defer db.Close()

			if skipSeed {
				fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
				return nil
			}

			file, err := loadCatalog(catalogPath)
			if err != nil {
				return err
			}
			if err := billing.NewCatalog(db, opts.cfg.Limits.CatalogTTL).Seed(ctx, file); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrations applied, catalog seeded with %d plans and %d add-ons\n",
				len(file.Plans), len(file.AddOns))
			return nil
		},
	}
	cmd.Flags().StringVar(&catalogPath, "catalog", "", "YAML file with plans and add-ons (defaults to the built-in catalog)")
	cmd.Flags().BoolVar(&skipSeed, "skip-seed", false, "Only apply migrations")
	return cmd
}

// loadCatalog reads a catalog YAML file, or returns the built-in catalog
// when path is empty
func loadCatalog(path string) (billing.CatalogFile, error) {
	if path == "" {
		return billing.DefaultCatalog(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return billing.CatalogFile{}, fmt.Errorf("failed to read catalog: %w", err)
	}
	var file billing.CatalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return billing.CatalogFile{}, fmt.Errorf("failed to parse catalog %s: %w", path, err)
	}
	if len(file.Plans) == 0 {
		return billing.CatalogFile{}, fmt.Errorf("catalog %s defines no plans", path)
	}
	return file, nil
}
