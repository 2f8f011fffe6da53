package main

import (
	"context"
	"fmt"
	"strconv"

	"qms/clinic-console/internal/presentation"
	"qms/clinic-console/internal/queue"

	"github.com/spf13/cobra"
)

func ticketCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ticket",
		Short: "Inspect and act on a single ticket",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Show a ticket and the actions it allows",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				ticket, err := a.client.GetTicket(ctx, id)
				if err != nil {
					return err
				}
				return printTicket(cmd, presentation.Build(ticket, nil, false))
			})
		},
	})

	takeCmd := &cobra.Command{
		Use:   "take",
		Short: "Take a new ticket for a department",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			departmentID, _ := cmd.Flags().GetInt64("department")
			return withApp(cmd, func(ctx context.Context, a *app) error {
				ticket, err := a.dispatcher.Take(ctx, departmentID)
				if err != nil {
					return err
				}
				return printTicket(cmd, presentation.Build(ticket, nil, false))
			})
		},
	}
	takeCmd.Flags().Int64("department", 0, "Department id")
	_ = takeCmd.MarkFlagRequired("department")
	cmd.AddCommand(takeCmd)

	for _, action := range []queue.Action{queue.ActionCall, queue.ActionRecall, queue.ActionStart} {
		cmd.AddCommand(actionCmd(action, false))
	}
	for _, action := range []queue.Action{queue.ActionComplete, queue.ActionSkip, queue.ActionCancel} {
		cmd.AddCommand(actionCmd(action, true))
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "assign <id> <patient-id>",
		Short: "Assign a patient to a ticket, replacing any earlier one",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			patientID, err := parseID(args[1])
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				current, err := a.client.GetTicket(ctx, id)
				if err != nil {
					return err
				}
				ticket, err := a.dispatcher.AssignPatient(ctx, current, patientID)
				if err != nil {
					return err
				}
				return printTicket(cmd, presentation.Build(ticket, nil, false))
			})
		},
	})
	return cmd
}

// actionCmd reads the ticket from the backend and dispatches against that
// copy, so the lifecycle check always runs on the current status.
func actionCmd(action queue.Action, withNote bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:   string(action) + " <id>",
		Short: fmt.Sprintf("%s (%s) a ticket", action, presentation.Label(action)),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			note := ""
			if withNote {
				note, _ = cmd.Flags().GetString("note")
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				current, err := a.client.GetTicket(ctx, id)
				if err != nil {
					return err
				}
				ticket, err := a.dispatcher.Dispatch(ctx, current, action, note)
				if err != nil {
					return err
				}
				return printTicket(cmd, presentation.Build(ticket, nil, false))
			})
		},
	}
	if withNote {
		cmd.Flags().String("note", "", "Note stored with the ticket")
	}
	return cmd
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return id, nil
}

func withApp(cmd *cobra.Command, run func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, journalFallbackNop)
	if err != nil {
		return err
	}
	defer a.close()
	return run(ctx, a)
}
