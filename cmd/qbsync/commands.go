package main

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/code-and-effect/effective-qb-sync/internal/service"
)

func newTicketsCmd(dbPath *string) *cobra.Command {
	ticketsCmd := &cobra.Command{
		Use:   "tickets",
		Short: "Inspect Web Connector sessions",
	}

	var limit int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recent tickets, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, cleanup, err := openStore(*dbPath)
			if err != nil {
				return err
			}
			defer cleanup()

			tickets, err := store.ListTickets(cmd.Context(), limit)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATE\tUSERNAME\tPERCENT\tUPDATED\tLAST ERROR")
			for _, t := range tickets {
				fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\t%s\n",
					t.ID, t.State, t.Username, t.Percent,
					t.UpdatedAt.Format("2006-01-02 15:04:05"), t.LastError)
			}
			return w.Flush()
		},
	}
	listCmd.Flags().IntVar(&limit, "limit", 50, "maximum tickets to list")

	showCmd := &cobra.Command{
		Use:   "show <ticket-id>",
		Short: "Show one ticket with its full log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid ticket id %q", args[0])
			}

			store, cleanup, err := openStore(*dbPath)
			if err != nil {
				return err
			}
			defer cleanup()

			t, err := store.TicketByID(cmd.Context(), id)
			if err != nil {
				return err
			}

			fmt.Printf("Ticket %d\n", t.ID)
			fmt.Printf("  State:        %s\n", t.State)
			fmt.Printf("  Username:     %s\n", t.Username)
			fmt.Printf("  Company file: %s\n", t.CompanyFileName)
			fmt.Printf("  Country:      %s\n", t.Country)
			fmt.Printf("  qbXML:        %s.%s\n", t.QBXMLMajorVersion, t.QBXMLMinorVersion)
			fmt.Printf("  Percent:      %d\n", t.Percent)
			fmt.Printf("  Created:      %s\n", t.CreatedAt.Format(time.RFC3339))
			fmt.Printf("  Updated:      %s\n", t.UpdatedAt.Format(time.RFC3339))
			if t.LastError != "" {
				fmt.Printf("  Last error:   %s\n", t.LastError)
			}
			if t.ConnectionErrorHResult != "" || t.ConnectionErrorMessage != "" {
				fmt.Printf("  Connection error: %s %s\n", t.ConnectionErrorHResult, t.ConnectionErrorMessage)
			}
			if t.CurrentRequestID != nil {
				fmt.Printf("  Current request: %d\n", *t.CurrentRequestID)
			}

			logs, err := store.Logs(cmd.Context(), t.ID)
			if err != nil {
				return err
			}
			fmt.Println("Log:")
			for _, l := range logs {
				fmt.Printf("  %s  %s\n", l.CreatedAt.Format("2006-01-02 15:04:05"), l.Message)
			}
			return nil
		},
	}

	ticketsCmd.AddCommand(listCmd, showCmd)
	return ticketsCmd
}

func newSweepCmd(dbPath *string) *cobra.Command {
	var before string

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Mark unsynchronized orders as synchronized without sending them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, cleanup, err := openStore(*dbPath)
			if err != nil {
				return err
			}
			defer cleanup()

			var cutoff *time.Time
			if before != "" {
				t, err := time.Parse("2006-01-02", before)
				if err != nil {
					return fmt.Errorf("invalid --before date %q (want YYYY-MM-DD)", before)
				}
				cutoff = &t
			}

			sweeper := service.NewSweeper(store, service.NewDiscovery(store), nil)
			n, err := sweeper.MarkAllSynced(cmd.Context(), cutoff)
			if err != nil {
				return err
			}
			fmt.Printf("Swept %d orders\n", n)
			return nil
		},
	}
	cmd.Flags().StringVar(&before, "before", "", "only sweep orders purchased before this date (YYYY-MM-DD)")
	return cmd
}

func newOrdersCmd(dbPath *string) *cobra.Command {
	ordersCmd := &cobra.Command{
		Use:   "orders",
		Short: "Manage orders awaiting synchronization",
	}

	skipCmd := &cobra.Command{
		Use:   "skip <order-id>",
		Short: "Mark one order as synchronized without sending it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orderID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid order id %q", args[0])
			}

			store, cleanup, err := openStore(*dbPath)
			if err != nil {
				return err
			}
			defer cleanup()

			sweeper := service.NewSweeper(store, service.NewDiscovery(store), nil)
			if err := sweeper.SkipOrder(cmd.Context(), orderID); err != nil {
				return err
			}
			fmt.Printf("Order %d skipped\n", orderID)
			return nil
		},
	}

	pendingCmd := &cobra.Command{
		Use:   "pending",
		Short: "List orders awaiting synchronization",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, cleanup, err := openStore(*dbPath)
			if err != nil {
				return err
			}
			defer cleanup()

			orders, err := store.PurchasedUnsynced(cmd.Context(), nil, nil)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tORDER\tNAME\tPURCHASED\tLINES\tUNMAPPED LINES")
			for _, o := range orders {
				unmapped := 0
				for _, l := range o.Lines {
					if l.QBItemName == "" {
						unmapped++
					}
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%d\n",
					o.ID, o.PublicID, o.FullName(),
					o.PurchasedAt.Format("2006-01-02"), len(o.Lines), unmapped)
			}
			return w.Flush()
		},
	}

	ordersCmd.AddCommand(skipCmd, pendingCmd)
	return ordersCmd
}

func newItemsCmd(dbPath *string) *cobra.Command {
	itemsCmd := &cobra.Command{
		Use:   "items",
		Short: "Manage order-line to QuickBooks item-name mappings",
	}

	setCmd := &cobra.Command{
		Use:   "set <order-line-id> <quickbooks-item-name>",
		Short: "Set the QuickBooks item name for an order line",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			lineID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid order line id %q", args[0])
			}

			store, cleanup, err := openStore(*dbPath)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := store.SetName(cmd.Context(), lineID, args[1]); err != nil {
				return err
			}
			fmt.Printf("Order line %d mapped to %q\n", lineID, args[1])
			return nil
		},
	}

	itemsCmd.AddCommand(setCmd)
	return itemsCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the CLI version",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			fmt.Printf("qbsync version %s (commit: %s)\n", version, commit)
			return nil
		},
	}
}
