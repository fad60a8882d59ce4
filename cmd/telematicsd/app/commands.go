package app

import (
	"context"
	"fmt"
	"time"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"fleet-monitor/telematics/internal/command"
	"fleet-monitor/telematics/internal/config"
	"fleet-monitor/telematics/internal/domain"
	"fleet-monitor/telematics/internal/log"
	"fleet-monitor/telematics/internal/store"
)

// operator is the identity used for read-only inspection from the shell.
var operator = domain.Identity{UserID: "telematicsd-cli", Role: domain.RoleSuperAdmin}

func newCommandsCommand(ctx context.Context, opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "commands",
		Short: "Inspect the controller command queue",
	}

	var (
		sortField string
		sortDir   string
		limit     int
		offset    int
	)
	list := &cobra.Command{
		Use:   "list PLATE",
		Short: "List the commands of a vehicle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sort, err := domain.ParseSort(sortField, sortDir)
			if err != nil {
				return err
			}
			return withQueue(ctx, opts, func(q *command.Queue) error {
				page := domain.Page{Offset: offset, Limit: limit}.Normalize()
				cmds, total, err := q.List(ctx, operator, args[0], domain.CommandQuery{Sort: sort, Page: page})
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), commandTable(cmds))
				fmt.Fprintf(cmd.OutOrStdout(), "\n%d of %d command(s)\n", len(cmds), total)
				return nil
			})
		},
	}
	list.Flags().StringVar(&sortField, "sort", "created_at", "Sort field: created_at, updated_at, code or is_executed.")
	list.Flags().StringVar(&sortDir, "dir", "desc", "Sort direction: asc or desc.")
	list.Flags().IntVar(&limit, "limit", domain.DefaultPageLimit, "Maximum rows to show.")
	list.Flags().IntVar(&offset, "offset", 0, "Rows to skip.")

	pending := &cobra.Command{
		Use:   "pending PLATE",
		Short: "Count commands the vehicle has not picked up yet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQueue(ctx, opts, func(q *command.Queue) error {
				n, err := q.PendingCount(ctx, operator, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d pending\n", args[0], n)
				return nil
			})
		},
	}

	cmd.AddCommand(list, pending)
	return cmd
}

func withQueue(ctx context.Context, opts *Options, fn func(q *command.Queue) error) error {
	cfg, err := config.Load(opts.ConfigFile)
	if err != nil {
		return err
	}
	pg, err := store.NewPostgresStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer pg.Close()

	return fn(command.NewQueue(pg, nil, log.Std()))
}

func commandTable(cmds []domain.ControllerCommand) *uitable.Table {
	table := uitable.New()
	table.MaxColWidth = 48
	table.AddRow("ID", "CODE", "EXECUTED", "CREATED BY", "CREATED", "UPDATED")
	for _, c := range cmds {
		table.AddRow(c.ID, c.Code, c.IsExecuted, c.CreatedBy,
			c.CreatedAt.Format(time.RFC3339), c.UpdatedAt.Format(time.RFC3339))
	}
	return table
}
