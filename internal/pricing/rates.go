package pricing

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Rates converts quote totals into the currency the payment provider settles in.
// Table maps a currency code to units of Settlement per one unit of that code.
type Rates struct {
	Settlement string
	Table      map[string]decimal.Decimal
}

func (r Rates) Convert(amount decimal.Decimal, from string) (decimal.Decimal, error) {
	from = strings.ToUpper(from)
	to := strings.ToUpper(r.Settlement)
	if to == "" || from == "" || from == to {
		return roundHalfUp(amount), nil
	}
	rate, ok := r.Table[from]
	if !ok {
		return decimal.Zero, fmt.Errorf("no exchange rate %s->%s", from, to)
	}
	return roundHalfUp(amount.Mul(rate)), nil
}
