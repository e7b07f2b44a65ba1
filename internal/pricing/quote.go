// Package pricing computes stay quotes. Everything here is pure: no I/O, no clock.
package pricing

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

type DiscountMode int

const (
	DiscountPercent DiscountMode = iota
	DiscountFlat
)

type Discount struct {
	Mode  DiscountMode
	Value decimal.Decimal
}

func PercentOff(p decimal.Decimal) Discount { return Discount{Mode: DiscountPercent, Value: p} }
func AmountOff(a decimal.Decimal) Discount  { return Discount{Mode: DiscountFlat, Value: a} }

type Inputs struct {
	Currency    string
	BasePrice   decimal.Decimal // per night
	Nights      int
	TaxRate     decimal.Decimal // fraction, 0.1 = 10%
	ServiceRate decimal.Decimal // fraction
	Discount    Discount
}

// Quote holds full-precision terms. TotalAmount == Subtotal - DiscountAmount + TaxAmount + ServiceAmount
// holds exactly on these fields; use Rounded for display or submission.
type Quote struct {
	Currency       string
	Subtotal       decimal.Decimal
	TaxAmount      decimal.Decimal
	ServiceAmount  decimal.Decimal
	DiscountAmount decimal.Decimal
	TotalAmount    decimal.Decimal
}

func ComputeQuote(in Inputs) Quote {
	subtotal := in.BasePrice.Mul(decimal.NewFromInt(int64(in.Nights)))
	tax := subtotal.Mul(in.TaxRate)
	service := subtotal.Mul(in.ServiceRate)

	var discount decimal.Decimal
	switch in.Discount.Mode {
	case DiscountFlat:
		discount = in.Discount.Value
	default:
		discount = subtotal.Mul(in.Discount.Value).Div(decimal.NewFromInt(100))
	}
	if discount.IsNegative() {
		discount = decimal.Zero
	}

	// A discount larger than the bill is capped so the total bottoms out at zero.
	gross := subtotal.Add(tax).Add(service)
	if discount.GreaterThan(gross) {
		discount = gross
	}

	return Quote{
		Currency:       strings.ToUpper(in.Currency),
		Subtotal:       subtotal,
		TaxAmount:      tax,
		ServiceAmount:  service,
		DiscountAmount: discount,
		TotalAmount:    gross.Sub(discount),
	}
}

// RoundedTotal is the amount submitted to the API: half-up to 2 places.
func (q Quote) RoundedTotal() decimal.Decimal { return roundHalfUp(q.TotalAmount) }

// Rounded returns the display figures. Only the figures are rounded; each is rounded
// from its own full-precision value.
func (q Quote) Rounded() Quote {
	return Quote{
		Currency:       q.Currency,
		Subtotal:       roundHalfUp(q.Subtotal),
		TaxAmount:      roundHalfUp(q.TaxAmount),
		ServiceAmount:  roundHalfUp(q.ServiceAmount),
		DiscountAmount: roundHalfUp(q.DiscountAmount),
		TotalAmount:    roundHalfUp(q.TotalAmount),
	}
}

func (q Quote) String() string {
	r := q.Rounded()
	return fmt.Sprintf("subtotal=%s tax=%s service=%s discount=%s total=%s %s",
		r.Subtotal.StringFixed(2), r.TaxAmount.StringFixed(2), r.ServiceAmount.StringFixed(2),
		r.DiscountAmount.StringFixed(2), r.TotalAmount.StringFixed(2), q.Currency)
}

// decimal.Round rounds half away from zero; amounts here are never negative,
// so that is half-up.
func roundHalfUp(d decimal.Decimal) decimal.Decimal { return d.Round(2) }
