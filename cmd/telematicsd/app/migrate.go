package app

import (
	"context"

	"github.com/spf13/cobra"

	"fleet-monitor/telematics/internal/config"
	"fleet-monitor/telematics/internal/log"
	"fleet-monitor/telematics/internal/store"
)

func newMigrateCommand(ctx context.Context, opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the Postgres schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.ConfigFile)
			if err != nil {
				return err
			}

			pg, err := store.NewPostgresStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer pg.Close()

			if err := pg.Migrate(ctx); err != nil {
				return err
			}
			log.Std().Info("schema is up to date", "migrations", len(store.Schema))
			return nil
		},
	}
}
