// Package session owns one guest's booking flow: the reservation, the payment
// attempt and how it ended. Views read it through Snapshot and never hold state.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/example/staybook/internal/api"
	"github.com/example/staybook/internal/booking"
	"github.com/example/staybook/internal/internaltypes"
	"github.com/example/staybook/internal/ledger"
	"github.com/example/staybook/internal/logging"
	"github.com/example/staybook/internal/notify"
	"github.com/example/staybook/internal/pricing"
	"github.com/example/staybook/internal/settlement"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type PaymentMethod string

const (
	PayAtHotel PaymentMethod = "pay_at_hotel"
	PayQR      PaymentMethod = "qr"
	PayPOS     PaymentMethod = "pos"
)

// Async reports whether the method settles through a polled payment intent.
func (m PaymentMethod) Async() bool { return m == PayQR || m == PayPOS }

func ParsePaymentMethod(s string) (PaymentMethod, error) {
	switch m := PaymentMethod(s); m {
	case PayAtHotel, PayQR, PayPOS:
		return m, nil
	case "":
		return PayAtHotel, nil
	}
	return "", internaltypes.NewValidationError("paymentMethod", fmt.Sprintf("unknown method %q", s))
}

type Status string

const (
	StatusIdle            Status = "idle"
	StatusSubmitting      Status = "submitting"
	StatusAwaitingPayment Status = "awaiting_payment"
	StatusCompleted       Status = "completed"
	StatusFailed          Status = "failed"
)

type Ledger interface {
	RecordReservation(ctx context.Context, e ledger.Entry) error
	RecordIntent(ctx context.Context, reservationID, orderCode string, amount decimal.Decimal, currency string) error
	RecordOutcome(ctx context.Context, reservationID, outcome, lastErr string) error
}

type Notifier interface {
	Publish(ctx context.Context, s notify.Settlement) error
}

type Deps struct {
	Coordinator *booking.Coordinator
	Machine     *settlement.Machine
	Rates       pricing.Rates
	Ledger      Ledger
	Notifier    Notifier
	Log         *logrus.Logger
}

type Session struct {
	ID string

	deps Deps
	log  *logrus.Entry

	mu        sync.Mutex
	status    Status
	method    PaymentMethod
	result    *booking.Result
	attempt   *settlement.Attempt
	watchDone chan struct{}
	lastErr   error
	touched   time.Time
}

func New(id string, deps Deps) *Session {
	if deps.Log == nil {
		deps.Log = logging.Discard()
	}
	return &Session{
		ID:      id,
		deps:    deps,
		log:     deps.Log.WithField("session_id", id),
		status:  StatusIdle,
		touched: time.Now(),
	}
}

// Book creates the reservation and, for QR/POS, starts the payment attempt. It
// returns once the attempt is awaiting payment; the outcome arrives later.
func (s *Session) Book(ctx context.Context, req booking.Request, method PaymentMethod) (Snapshot, error) {
	s.mu.Lock()
	if s.status == StatusSubmitting {
		s.mu.Unlock()
		return Snapshot{}, internaltypes.ErrSubmitInProgress
	}
	if s.awaiting() {
		s.mu.Unlock()
		return Snapshot{}, internaltypes.ErrSettlementInProgress
	}
	s.status = StatusSubmitting
	s.method = method
	s.result, s.attempt, s.watchDone, s.lastErr = nil, nil, nil, nil
	s.touched = time.Now()
	s.mu.Unlock()

	req.SessionID = s.ID
	res, err := s.deps.Coordinator.CreateReservation(ctx, req)
	if err != nil {
		return s.fail(err)
	}

	s.mu.Lock()
	s.result = &res
	s.mu.Unlock()

	s.record(ctx, res, req, method)

	if !method.Async() {
		// pay at hotel: nothing to settle, the session counts it as paid
		s.mu.Lock()
		s.status = StatusCompleted
		s.result.Reservation.PaymentStatus = api.PaymentPaid
		s.mu.Unlock()
		s.log.WithField("reservation_id", res.Reservation.ID).Info("booked, pay at hotel")
		return s.Snapshot(), nil
	}

	amount, err := s.deps.Rates.Convert(res.Quote.RoundedTotal(), res.Quote.Currency)
	if err != nil {
		return s.fail(fmt.Errorf("%w: %w", internaltypes.ErrPaymentInitiation, err))
	}
	a, err := s.deps.Machine.Initiate(ctx, res.Reservation.ID, amount)
	if err != nil {
		return s.fail(err)
	}

	if s.deps.Ledger != nil {
		if err := s.deps.Ledger.RecordIntent(ctx, res.Reservation.ID, a.Intent().OrderCode, amount, s.deps.Rates.Settlement); err != nil {
			s.log.WithError(err).Warn("ledger: record intent failed")
		}
	}

	done := make(chan struct{})
	s.mu.Lock()
	s.attempt = a
	s.watchDone = done
	s.status = StatusAwaitingPayment
	s.mu.Unlock()

	go s.watch(a, done)
	return s.Snapshot(), nil
}

// CancelPayment cancels the awaiting payment attempt. When it returns no further
// status request is made for it.
func (s *Session) CancelPayment() bool {
	s.mu.Lock()
	a := s.attempt
	s.touched = time.Now()
	s.mu.Unlock()
	if a == nil {
		return false
	}
	return a.Cancel()
}

// Wait blocks until the current payment attempt has ended and its outcome was
// recorded, or ctx ends.
func (s *Session) Wait(ctx context.Context) (settlement.Event, error) {
	s.mu.Lock()
	a, done := s.attempt, s.watchDone
	s.mu.Unlock()
	if a == nil {
		return settlement.Event{}, errors.New("no payment attempt")
	}
	select {
	case <-done:
	case <-ctx.Done():
		return settlement.Event{}, ctx.Err()
	}
	ev, _ := a.Result()
	return ev, nil
}

func (s *Session) watch(a *settlement.Attempt, done chan struct{}) {
	defer close(done)
	ev := <-a.Events()

	l := s.log.WithFields(logrus.Fields{"order_code": ev.OrderCode, "outcome": ev.Outcome.String()})
	var msg string
	if ev.Err != nil {
		msg = ev.Err.Error()
	}

	s.mu.Lock()
	// a newer booking may already own the session; its state is not ours to touch
	if s.attempt == a {
		s.touched = time.Now()
		if ev.Outcome == settlement.StateSettled {
			s.status = StatusCompleted
			s.result.Reservation.PaymentStatus = api.PaymentPaid
		} else {
			s.status = StatusFailed
			s.lastErr = ev.Err
		}
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if s.deps.Ledger != nil {
		if err := s.deps.Ledger.RecordOutcome(ctx, ev.ReservationID, ev.Outcome.String(), msg); err != nil {
			l.WithError(err).Warn("ledger: record outcome failed")
		}
	}
	if s.deps.Notifier != nil {
		err := s.deps.Notifier.Publish(ctx, notify.Settlement{
			SessionID:     s.ID,
			ReservationID: ev.ReservationID,
			OrderCode:     ev.OrderCode,
			Outcome:       ev.Outcome.String(),
			Amount:        ev.Amount,
			Currency:      s.deps.Rates.Settlement,
			Error:         msg,
			At:            ev.At,
		})
		if err != nil {
			l.WithError(err).Warn("notify: publish failed")
		}
	}
	l.Info("payment finished")
}

func (s *Session) record(ctx context.Context, res booking.Result, req booking.Request, method PaymentMethod) {
	if s.deps.Ledger == nil {
		return
	}
	err := s.deps.Ledger.RecordReservation(ctx, ledger.Entry{
		ReservationID: res.Reservation.ID,
		SessionID:     s.ID,
		GuestID:       res.Guest.ID,
		GuestEmail:    req.Email,
		PropertyID:    req.PropertyID,
		RoomTypeID:    req.RoomTypeID,
		RatePlanID:    res.RatePlan.ID,
		CheckIn:       req.CheckIn,
		CheckOut:      req.CheckOut,
		Currency:      res.Quote.Currency,
		TotalAmount:   res.Quote.RoundedTotal(),
		PaymentMethod: string(method),
	})
	if err != nil {
		s.log.WithError(err).Warn("ledger: record reservation failed")
	}
}

func (s *Session) fail(err error) (Snapshot, error) {
	s.mu.Lock()
	s.status = StatusFailed
	s.lastErr = err
	s.mu.Unlock()
	s.log.WithError(err).Warn("booking failed")
	return s.Snapshot(), err
}

// awaiting must be called with mu held.
func (s *Session) awaiting() bool {
	if s.attempt == nil {
		return false
	}
	_, finished := s.attempt.Result()
	return !finished
}

// idleSince reports when the session was last used, and whether it may be dropped.
func (s *Session) idleSince() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.touched, s.status != StatusSubmitting && !s.awaiting()
}
