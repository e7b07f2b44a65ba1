package cmd

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/example/staybook/internal/availability"
	"github.com/spf13/cobra"
)

func newSlotsCmd() *cobra.Command {
	var hours, date string

	c := &cobra.Command{
		Use:   "slots",
		Short: "List bookable table slots for a date against operating hours",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(context.Background(), openOpts{})
			if err != nil {
				return err
			}
			defer a.Close()

			day, err := parseDay(date)
			if err != nil {
				return err
			}
			slots := a.engine().AvailableSlots(hours, day)
			if len(slots) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no slots available")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), strings.Join(slots, " "))
			return nil
		},
	}
	c.Flags().StringVar(&hours, "hours", "", `operating hours text, e.g. "17:00 - 02:00" (empty = always open)`)
	c.Flags().StringVar(&date, "date", "", "date (YYYY-MM-DD), default today")
	return c
}

func newTablesCmd() *cobra.Command {
	var (
		restaurant, hours, date, slot string
		party                         int
	)

	c := &cobra.Command{
		Use:   "tables",
		Short: "Find free tables for a slot",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			a, err := openApp(ctx, openOpts{})
			if err != nil {
				return err
			}
			defer a.Close()

			day, err := parseDay(date)
			if err != nil {
				return err
			}
			eng := a.engine()
			chosen, ok := availability.ChooseSlot(availability.SplitSlots(slot), eng.AvailableSlots(hours, day))
			if !ok {
				return fmt.Errorf("none of %q is bookable on %s", slot, day.Format(dateLayout))
			}
			tables, err := eng.FindTables(ctx, restaurant, hours, day, chosen, party)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "slot %s\n", chosen)
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tSEATS")
			for _, t := range tables {
				fmt.Fprintf(tw, "%s\t%s\t%d\n", t.ID, t.Name, t.Capacity)
			}
			return tw.Flush()
		},
	}
	f := c.Flags()
	f.StringVar(&restaurant, "restaurant", "", "restaurant id")
	f.StringVar(&hours, "hours", "", "operating hours text")
	f.StringVar(&date, "date", "", "date (YYYY-MM-DD), default today")
	f.StringVar(&slot, "time", "", "preferred slots in order (HH:MM[,HH:MM...])")
	f.IntVar(&party, "party", 2, "party size")
	_ = c.MarkFlagRequired("restaurant")
	_ = c.MarkFlagRequired("time")
	return c
}

func parseDay(s string) (time.Time, error) {
	if s == "" {
		return time.Now(), nil
	}
	d, err := time.ParseInLocation(dateLayout, s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("--date: %w", err)
	}
	return d, nil
}
