package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/example/staybook/internal/booking"
	"github.com/example/staybook/internal/pricing"
	"github.com/example/staybook/internal/session"
	"github.com/example/staybook/internal/settlement"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func newBookCmd() *cobra.Command {
	var (
		req                         booking.Request
		checkIn, checkOut           string
		base, tax, service          string
		discountPct, discountAmount string
		method                      string
	)

	c := &cobra.Command{
		Use:   "book",
		Short: "Create a reservation and, for qr/pos, wait for the payment to settle (Ctrl-C cancels)",
		RunE: func(cmd *cobra.Command, args []string) error {
			pm, err := session.ParsePaymentMethod(method)
			if err != nil {
				return err
			}
			if req.CheckIn, err = time.Parse(dateLayout, checkIn); err != nil {
				return fmt.Errorf("--check-in: %w", err)
			}
			if req.CheckOut, err = time.Parse(dateLayout, checkOut); err != nil {
				return fmt.Errorf("--check-out: %w", err)
			}
			if req.BasePrice, err = decimal.NewFromString(base); err != nil {
				return fmt.Errorf("--base-price: %w", err)
			}
			if req.TaxRate, err = decimal.NewFromString(tax); err != nil {
				return fmt.Errorf("--tax-rate: %w", err)
			}
			if req.ServiceRate, err = decimal.NewFromString(service); err != nil {
				return fmt.Errorf("--service-rate: %w", err)
			}
			if req.Discount, err = discountFlags(discountPct, discountAmount); err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := openApp(ctx, openOpts{ledger: true, migrate: true, backends: true})
			if err != nil {
				return err
			}
			defer a.Close()

			s := a.newSession(uuid.NewString())
			out := cmd.OutOrStdout()

			snap, err := s.Book(ctx, req, pm)
			if err != nil {
				return err
			}
			q := snap.Quote
			fmt.Fprintf(out, "reservation %s  total %s %s\n", snap.ReservationID, q.Total.StringFixed(2), q.Currency)
			if snap.Payment == nil {
				fmt.Fprintln(out, "pay at hotel: nothing to settle now")
				return nil
			}

			p := snap.Payment
			fmt.Fprintf(out, "order %s  amount %s %s\n", p.OrderCode, p.Amount.StringFixed(2), p.Currency)
			if p.QRPayload != "" {
				fmt.Fprintf(out, "qr: %s\n", p.QRPayload)
			}
			if p.CheckoutURL != "" {
				fmt.Fprintf(out, "checkout: %s\n", p.CheckoutURL)
			}
			fmt.Fprintf(out, "waiting up to %s for payment...\n", a.cfg.PaymentCeiling)

			ev, err := s.Wait(ctx)
			if errors.Is(err, context.Canceled) {
				s.CancelPayment()
				ev, err = s.Wait(context.Background())
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "payment %s\n", ev.Outcome)
			if ev.Outcome != settlement.StateSettled {
				return ev.Err
			}
			return nil
		},
	}

	f := c.Flags()
	f.StringVar(&req.Name, "name", "", "guest name")
	f.StringVar(&req.Email, "email", "", "guest email")
	f.StringVar(&req.Phone, "phone", "", "guest phone")
	f.StringVar(&req.PropertyID, "property", "", "property id")
	f.StringVar(&req.RoomTypeID, "room-type", "", "room type id")
	f.StringVar(&checkIn, "check-in", "", "check-in date (YYYY-MM-DD)")
	f.StringVar(&checkOut, "check-out", "", "check-out date (YYYY-MM-DD)")
	f.IntVar(&req.Adults, "adults", 1, "adults")
	f.IntVar(&req.Children, "children", 0, "children")
	f.StringVar(&base, "base-price", "", "price per night")
	f.StringVar(&tax, "tax-rate", "0", "tax rate as a fraction (0.1 = 10%)")
	f.StringVar(&service, "service-rate", "0", "service charge rate as a fraction")
	f.StringVar(&discountPct, "discount-percent", "", "percent off the subtotal")
	f.StringVar(&discountAmount, "discount-amount", "", "flat amount off")
	f.StringVar(&method, "pay", string(session.PayQR), "payment method: pay_at_hotel, qr or pos")
	for _, name := range []string{"name", "email", "property", "room-type", "check-in", "check-out", "base-price"} {
		_ = c.MarkFlagRequired(name)
	}
	return c
}

const dateLayout = "2006-01-02"

func discountFlags(pct, amount string) (pricing.Discount, error) {
	switch {
	case pct != "" && amount != "":
		return pricing.Discount{}, errors.New("use either --discount-percent or --discount-amount")
	case amount != "":
		d, err := decimal.NewFromString(amount)
		if err != nil {
			return pricing.Discount{}, fmt.Errorf("--discount-amount: %w", err)
		}
		return pricing.AmountOff(d), nil
	case pct != "":
		d, err := decimal.NewFromString(pct)
		if err != nil {
			return pricing.Discount{}, fmt.Errorf("--discount-percent: %w", err)
		}
		return pricing.PercentOff(d), nil
	}
	return pricing.PercentOff(decimal.Zero), nil
}
