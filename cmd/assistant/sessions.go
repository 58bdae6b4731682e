package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"gwi.com/venture-assistant/internal/chat"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved chats grouped by recency",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a saved chat",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

func init() {
	addKindFlag(listCmd)
	addKindFlag(deleteCmd)
	rootCmd.AddCommand(listCmd, deleteCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	kind, err := selectedKind()
	if err != nil {
		return err
	}
	a, err := newApp()
	if err != nil {
		return err
	}
	r := newREPL(cmd.OutOrStdout())
	coord, err := a.coordinator(kind, r)
	if err != nil {
		return err
	}
	if err := coord.Refresh(cmd.Context()); err != nil {
		return fmt.Errorf("failed to list chats: %s", describe(err))
	}
	if len(coord.Projector().Items()) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "No %s chats yet.\n", kind)
		return nil
	}
	printGroups(cmd.OutOrStdout(), coord.Projector().Groups(time.Now()), "")
	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	kind, err := selectedKind()
	if err != nil {
		return err
	}
	a, err := newApp()
	if err != nil {
		return err
	}
	r := newREPL(cmd.OutOrStdout())
	coord, err := a.coordinator(kind, r)
	if err != nil {
		return err
	}
	if err := coord.Delete(cmd.Context(), args[0]); err != nil {
		return fmt.Errorf("failed to delete chat: %s", describe(err))
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Deleted.")
	return nil
}

// printGroups prints the non-empty buckets with running numbers and returns
// the ids in that numbering.
func printGroups(out io.Writer, groups []chat.Group, active string) []string {
	var ids []string
	for _, g := range groups {
		if len(g.Items) == 0 {
			continue
		}
		fmt.Fprintln(out, g.Bucket)
		for _, s := range g.Items {
			ids = append(ids, s.ID)
			marker := " "
			if s.ID == active {
				marker = "*"
			}
			title := s.Title
			if title == "" {
				title = "Untitled chat"
			}
			fmt.Fprintf(out, " %s%2d. %s  (%d messages, %s)\n", marker, len(ids), title, s.MessageCount, s.ID)
		}
	}
	if len(ids) == 0 {
		fmt.Fprintln(out, "No chats yet.")
	}
	return ids
}

var summaryMonths = []int{12, 24, 36}

func printMetadata(out io.Writer, md chat.Metadata) {
	if matches, err := md.MatchedInvestors(); err == nil && len(matches) > 0 {
		fmt.Fprintln(out, "Matched investors:")
		for _, inv := range matches {
			fmt.Fprintf(out, "  - %s (tickets %.0f-%.0f)", inv.Name, inv.TicketMin, inv.TicketMax)
			if inv.Website != "" {
				fmt.Fprintf(out, " %s", inv.Website)
			}
			fmt.Fprintln(out)
		}
	} else if md.NoMatchesFound() {
		fmt.Fprintln(out, "No matching investors yet.")
	}

	if rows, err := md.Projections(); err == nil && len(rows) > 0 {
		fmt.Fprintln(out, "Projection:")
		for _, p := range rows {
			for _, m := range summaryMonths {
				if p.Month == m {
					fmt.Fprintf(out, "  month %2d: revenue %.2f, expenses %.2f, cash %.2f, customers %d\n",
						p.Month, p.Revenue, p.TotalExpenses, p.Cash, p.Customers)
				}
			}
		}
	}
	for _, w := range md.Warnings() {
		fmt.Fprintln(out, "  ! "+w)
	}
}
