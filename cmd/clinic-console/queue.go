package main

import (
	"context"
	"errors"
	"fmt"

	"qms/clinic-console/internal/presentation"

	"github.com/spf13/cobra"
)

func queueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Queue-wide views and maintenance",
	}

	todayCmd := &cobra.Command{
		Use:   "today",
		Short: "List today's tickets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			departmentID, _ := cmd.Flags().GetInt64("department")
			return withApp(cmd, func(ctx context.Context, a *app) error {
				tickets, err := a.client.TodayTickets(ctx, departmentID)
				if err != nil {
					return err
				}
				views := make([]presentation.TicketView, 0, len(tickets))
				for _, ticket := range tickets {
					views = append(views, presentation.Build(ticket, nil, false))
				}
				return printTickets(cmd, views)
			})
		},
	}
	todayCmd.Flags().Int64("department", 0, "Only this department")
	cmd.AddCommand(todayCmd)

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show queue counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			date, _ := cmd.Flags().GetString("date")
			return withApp(cmd, func(ctx context.Context, a *app) error {
				stats, err := a.client.Stats(ctx, date)
				if err != nil {
					return err
				}
				return printStats(cmd, stats)
			})
		},
	}
	statsCmd.Flags().String("date", "", "Day as YYYY-MM-DD, defaults to today")
	cmd.AddCommand(statsCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "display",
		Short: "Show what the waiting-room screens show",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				display, err := a.client.Display(ctx)
				if err != nil {
					return err
				}
				return printBoard(cmd, presentation.Board(display))
			})
		},
	})

	resetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Reset queue numbering",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			departmentID, _ := cmd.Flags().GetInt64("department")
			confirmed, _ := cmd.Flags().GetBool("yes")
			if !confirmed {
				return errors.New("refusing to reset without --yes")
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if err := a.client.ResetQueue(ctx, departmentID); err != nil {
					return err
				}
				scope := "all departments"
				if departmentID > 0 {
					scope = fmt.Sprintf("department %d", departmentID)
				}
				a.logger.Info().Int64("department_id", departmentID).Msg("queue reset")
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "queue reset for %s\n", scope)
				return err
			})
		},
	}
	resetCmd.Flags().Int64("department", 0, "Only this department")
	resetCmd.Flags().Bool("yes", false, "Confirm the reset")
	cmd.AddCommand(resetCmd)

	return cmd
}

func departmentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "departments",
		Short: "List departments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				departments, err := a.client.ListDepartments(ctx)
				if err != nil {
					return err
				}
				return printDepartments(cmd, departments)
			})
		},
	}
}
