package cmd

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newHistoryCmd() *cobra.Command {
	var (
		email string
		limit int
	)

	c := &cobra.Command{
		Use:   "history",
		Short: "List recorded bookings and their payment outcomes",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := openApp(ctx, openOpts{ledger: true, migrate: true})
			if err != nil {
				return err
			}
			defer a.Close()
			if a.ledger == nil {
				return errors.New("DATABASE_URL is not set")
			}

			entries, err := a.ledger.List(ctx, email, limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RESERVATION\tGUEST\tDATES\tTOTAL\tMETHOD\tORDER\tOUTCOME")
			for _, e := range entries {
				order, outcome := "-", "-"
				if e.OrderCode != nil {
					order = *e.OrderCode
				}
				if e.Outcome != nil {
					outcome = *e.Outcome
				}
				fmt.Fprintf(tw, "%s\t%s\t%s..%s\t%s %s\t%s\t%s\t%s\n",
					e.ReservationID, e.GuestEmail,
					e.CheckIn.Format(dateLayout), e.CheckOut.Format(dateLayout),
					e.TotalAmount.StringFixed(2), e.Currency, e.PaymentMethod, order, outcome)
			}
			return tw.Flush()
		},
	}
	c.Flags().StringVar(&email, "email", "", "only this guest (default all)")
	c.Flags().IntVar(&limit, "limit", 50, "max rows")
	return c
}
