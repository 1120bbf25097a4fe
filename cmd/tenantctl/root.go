package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"tenantcore/internal/app"
	"tenantcore/internal/config"
	"tenantcore/internal/logger"
	"tenantcore/internal/metrics"
)

type rootOptions struct {
	configPath string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "tenantctl",
		Short: "Operate a tenantcore deployment",
		Long: `tenantctl runs operator tasks against the tenantcore database and cache.

Examples:
  # Apply pending migrations
  tenantctl migrate up

  # Create the first platform admin
  tenantctl bootstrap-admin --email ops@example.com --name "Ops"

  # List suspended tenants
  tenantctl tenants list --status suspended
`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("load .env: %w", err)
			}
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", os.Getenv("CONFIG_PATH"), "path to the YAML config file")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log at debug level")

	cmd.AddCommand(
		newMigrateCmd(opts),
		newBootstrapAdminCmd(opts),
		newTenantsCmd(opts),
		newWhoamiCmd(opts),
	)
	return cmd
}

func (o *rootOptions) load() (*config.Config, logger.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	level := "warn"
	if o.verbose {
		level = "debug"
	}
	log, err := logger.NewLogger("development", level, "tenantctl")
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

// connect wires the full core. Callers must Close the returned app.
func (o *rootOptions) connect(ctx context.Context) (*app.App, error) {
	cfg, log, err := o.load()
	if err != nil {
		return nil, err
	}
	return app.Build(ctx, cfg, log, metrics.New(prometheus.NewRegistry()))
}
