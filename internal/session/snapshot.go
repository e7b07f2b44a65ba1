package session

import (
	"github.com/example/staybook/internal/api"
	"github.com/example/staybook/internal/pricing"
	"github.com/example/staybook/internal/settlement"
	"github.com/shopspring/decimal"
)

// Snapshot is a read-only copy of a session for rendering.
type Snapshot struct {
	SessionID     string        `json:"sessionId"`
	Status        Status        `json:"status"`
	PaymentMethod PaymentMethod `json:"paymentMethod,omitempty"`
	ReservationID string        `json:"reservationId,omitempty"`
	PaymentStatus string        `json:"paymentStatus,omitempty"`
	GuestID       string        `json:"guestId,omitempty"`
	Quote         *QuoteView    `json:"quote,omitempty"`
	Payment       *PaymentView  `json:"payment,omitempty"`
	Error         string        `json:"error,omitempty"`
}

type QuoteView struct {
	Currency string          `json:"currency"`
	Subtotal decimal.Decimal `json:"subtotal"`
	Tax      decimal.Decimal `json:"taxAmount"`
	Service  decimal.Decimal `json:"serviceAmount"`
	Discount decimal.Decimal `json:"discountAmount"`
	Total    decimal.Decimal `json:"totalAmount"`
}

type PaymentView struct {
	OrderCode   string          `json:"orderCode"`
	QRPayload   string          `json:"qrPayload,omitempty"`
	CheckoutURL string          `json:"checkoutUrl,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	State       string          `json:"state"`
}

func NewQuoteView(q pricing.Quote) *QuoteView {
	r := q.Rounded()
	return &QuoteView{
		Currency: r.Currency,
		Subtotal: r.Subtotal,
		Tax:      r.TaxAmount,
		Service:  r.ServiceAmount,
		Discount: r.DiscountAmount,
		Total:    r.TotalAmount,
	}
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		SessionID:     s.ID,
		Status:        s.status,
		PaymentMethod: s.method,
	}
	if s.result != nil {
		snap.ReservationID = s.result.Reservation.ID
		snap.PaymentStatus = string(s.result.Reservation.PaymentStatus)
		snap.GuestID = s.result.Guest.ID
		snap.Quote = NewQuoteView(s.result.Quote)
	}
	lastErr := s.lastErr

	if a := s.attempt; a != nil {
		in := a.Intent()
		snap.Payment = &PaymentView{
			OrderCode:   in.OrderCode,
			QRPayload:   in.QRPayload,
			CheckoutURL: in.CheckoutURL,
			Amount:      a.Amount(),
			Currency:    s.deps.Rates.Settlement,
			State:       a.State().String(),
		}
		// the attempt may have ended before the watcher caught up
		if ev, ok := a.Result(); ok {
			if ev.Outcome == settlement.StateSettled {
				snap.Status = StatusCompleted
				snap.PaymentStatus = string(api.PaymentPaid)
			} else {
				snap.Status = StatusFailed
				lastErr = ev.Err
			}
		}
	}
	if lastErr != nil {
		snap.Error = lastErr.Error()
	}
	return snap
}
