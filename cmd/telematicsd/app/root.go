package app

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"fleet-monitor/telematics/internal/log"
)

// Options are the flags shared by every subcommand.
type Options struct {
	ConfigFile string
	Log        *log.Options
}

func NewOptions() *Options {
	return &Options{Log: log.NewOptions()}
}

func (o *Options) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.ConfigFile, "config", o.ConfigFile, "Optional config file; environment variables take precedence.")
	o.Log.AddFlags(fs)
}

func NewRootCommand(ctx context.Context) *cobra.Command {
	opts := NewOptions()
	cmd := &cobra.Command{
		Use:          "telematicsd",
		Short:        "Vehicle telematics backend",
		Long:         "telematicsd ingests controller telemetry, queues commands for vehicles and serves the fleet management API.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if errs := opts.Log.Validate(); len(errs) > 0 {
				return errs[0]
			}
			log.Init(opts.Log)
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = log.Sync()
		},
	}
	opts.AddFlags(cmd.PersistentFlags())

	cmd.AddCommand(
		newServeCommand(ctx, opts),
		newMigrateCommand(ctx, opts),
		newCommandsCommand(ctx, opts),
	)
	return cmd
}
