package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/example/staybook/internal/config"
	"github.com/example/staybook/internal/pricing"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func newQuoteCmd() *cobra.Command {
	var (
		base, tax, service          string
		discountPct, discountAmount string
		currency                    string
		nights                      int
	)

	c := &cobra.Command{
		Use:   "quote",
		Short: "Price a stay without booking it",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}
			in := pricing.Inputs{Currency: currency, Nights: nights}
			if in.BasePrice, err = decimal.NewFromString(base); err != nil {
				return fmt.Errorf("--base-price: %w", err)
			}
			if in.TaxRate, err = decimal.NewFromString(tax); err != nil {
				return fmt.Errorf("--tax-rate: %w", err)
			}
			if in.ServiceRate, err = decimal.NewFromString(service); err != nil {
				return fmt.Errorf("--service-rate: %w", err)
			}
			if in.Discount, err = discountFlags(discountPct, discountAmount); err != nil {
				return err
			}
			if nights < 1 {
				return fmt.Errorf("--nights must be at least 1")
			}

			q := pricing.ComputeQuote(in)
			r := q.Rounded()
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', tabwriter.AlignRight)
			fmt.Fprintf(tw, "subtotal\t%s\t\n", r.Subtotal.StringFixed(2))
			fmt.Fprintf(tw, "tax\t%s\t\n", r.TaxAmount.StringFixed(2))
			fmt.Fprintf(tw, "service\t%s\t\n", r.ServiceAmount.StringFixed(2))
			fmt.Fprintf(tw, "discount\t-%s\t\n", r.DiscountAmount.StringFixed(2))
			fmt.Fprintf(tw, "total\t%s\t%s\n", r.TotalAmount.StringFixed(2), q.Currency)

			rates := pricing.Rates{Settlement: cfg.SettlementCurrency, Table: cfg.FXRates}
			if settled, err := rates.Convert(q.RoundedTotal(), q.Currency); err == nil && q.Currency != rates.Settlement {
				fmt.Fprintf(tw, "charged\t%s\t%s\n", settled.StringFixed(2), rates.Settlement)
			}
			return tw.Flush()
		},
	}

	f := c.Flags()
	f.StringVar(&base, "base-price", "", "price per night")
	f.IntVar(&nights, "nights", 1, "nights")
	f.StringVar(&tax, "tax-rate", "0", "tax rate as a fraction")
	f.StringVar(&service, "service-rate", "0", "service charge rate as a fraction")
	f.StringVar(&discountPct, "discount-percent", "", "percent off the subtotal")
	f.StringVar(&discountAmount, "discount-amount", "", "flat amount off")
	f.StringVar(&currency, "currency", "VND", "quote currency")
	_ = c.MarkFlagRequired("base-price")
	return c
}
