package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"qms/clinic-console/internal/apiclient"
	"qms/clinic-console/internal/dispatcher"
	"qms/clinic-console/internal/models"
	"qms/clinic-console/internal/presentation"

	"github.com/spf13/cobra"
)

func wantJSON(cmd *cobra.Command) bool {
	asJSON, _ := cmd.Flags().GetBool("json")
	return asJSON
}

func printJSON(cmd *cobra.Command, value interface{}) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

func printTicket(cmd *cobra.Command, view presentation.TicketView) error {
	if wantJSON(cmd) {
		return printJSON(cmd, view)
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Ticket\t%s (#%d)\n", view.QueueCode, view.ID)
	fmt.Fprintf(w, "Status\t%s\n", view.StatusLabel)
	if view.Department != "" {
		fmt.Fprintf(w, "Department\t%s\n", view.Department)
	}
	if view.Patient != "" {
		fmt.Fprintf(w, "Patient\t%s\n", view.Patient)
	}
	if view.Counter != "" {
		fmt.Fprintf(w, "Counter\t%s\n", view.Counter)
	}
	if view.WaitLabel != "" {
		fmt.Fprintf(w, "Wait\t%s\n", view.WaitLabel)
	}
	fmt.Fprintf(w, "Actions\t%s\n", affordanceList(view.Actions))
	if len(view.SecondaryActions) > 0 {
		fmt.Fprintf(w, "More\t%s\n", affordanceList(view.SecondaryActions))
	}
	return w.Flush()
}

func printTickets(cmd *cobra.Command, views []presentation.TicketView) error {
	if wantJSON(cmd) {
		return printJSON(cmd, views)
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCODE\tSTATUS\tCOUNTER\tWAIT\tACTIONS")
	for _, view := range views {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n", view.ID, view.QueueCode, view.StatusLabel, dash(view.Counter), dash(view.WaitLabel), affordanceList(view.Actions))
	}
	return w.Flush()
}

func printStats(cmd *cobra.Command, stats models.QueueStats) error {
	if wantJSON(cmd) {
		return printJSON(cmd, stats)
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Total\t%d\n", stats.Total)
	fmt.Fprintf(w, "Menunggu\t%d\n", stats.Waiting)
	fmt.Fprintf(w, "Dipanggil\t%d\n", stats.Called)
	fmt.Fprintf(w, "Dilayani\t%d\n", stats.InService)
	fmt.Fprintf(w, "Selesai\t%d\n", stats.Completed)
	fmt.Fprintf(w, "Dilewati\t%d\n", stats.Skipped)
	fmt.Fprintf(w, "Dibatalkan\t%d\n", stats.Cancelled)
	fmt.Fprintf(w, "Rata-rata tunggu\t%.1f menit\n", stats.AverageWaitMinutes)
	return w.Flush()
}

func printBoard(cmd *cobra.Command, board presentation.BoardView) error {
	if wantJSON(cmd) {
		return printJSON(cmd, board)
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "DEPARTMENT\tNOW\tCOUNTER\tNEXT")
	for _, lane := range board.Lanes {
		now, counter := "-", "-"
		if lane.Current != nil {
			now, counter = lane.Current.QueueCode, dash(lane.Current.Counter)
		}
		next := make([]string, 0, len(lane.Next))
		for _, ticket := range lane.Next {
			next = append(next, ticket.QueueCode)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", lane.Department, now, counter, dash(strings.Join(next, " ")))
	}
	return w.Flush()
}

func printDepartments(cmd *cobra.Command, departments []models.Department) error {
	if wantJSON(cmd) {
		return printJSON(cmd, departments)
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCODE\tNAME\tACTIVE")
	for _, d := range departments {
		fmt.Fprintf(w, "%d\t%s\t%s\t%t\n", d.ID, d.Code, d.Name, d.IsActive)
	}
	return w.Flush()
}

func affordanceList(affordances []presentation.Affordance) string {
	if len(affordances) == 0 {
		return "-"
	}
	names := make([]string, 0, len(affordances))
	for _, a := range affordances {
		names = append(names, fmt.Sprintf("%s (%s)", a.Action, a.Label))
	}
	return strings.Join(names, ", ")
}

func dash(value string) string {
	if value == "" {
		return "-"
	}
	return value
}

// describe turns command errors into operator-facing text.
func describe(err error) string {
	var stale *dispatcher.StaleStateError
	if errors.As(err, &stale) {
		view := presentation.Build(stale.Current, nil, false)
		return fmt.Sprintf("ticket %s is already %s; available now: %s", view.QueueCode, view.StatusLabel, affordanceList(view.Actions))
	}
	if apiclient.IsRetryable(err) {
		return err.Error() + " (backend unavailable, try again)"
	}
	return err.Error()
}
