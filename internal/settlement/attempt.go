package settlement

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/example/staybook/internal/api"
	"github.com/example/staybook/internal/internaltypes"
	"github.com/example/staybook/internal/metrics"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type State int32

const (
	StateInit State = iota
	StateAwaitingPayment
	StateSettled
	StateFailed
	StateTimedOut
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateAwaitingPayment:
		return "AWAITING_PAYMENT"
	case StateSettled:
		return "SETTLED"
	case StateFailed:
		return "FAILED"
	case StateTimedOut:
		return "TIMED_OUT"
	case StateCancelled:
		return "CANCELLED"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

func (s State) Terminal() bool { return s >= StateSettled }

// Event is the single terminal notification of an attempt. Err is nil only for
// StateSettled; otherwise it wraps ErrPaymentFailed, ErrTimedOut or ErrCancelledByUser.
type Event struct {
	Outcome       State
	OrderCode     string
	ReservationID string
	Amount        decimal.Decimal
	Err           error
	At            time.Time
}

// Attempt is one payment intent and its polling loop. It owns one ticker and one
// ceiling timer; both stop on the first terminal transition.
type Attempt struct {
	intent  api.PaymentIntent
	amount  decimal.Decimal
	started time.Time

	state   atomic.Int32
	result  Event
	events  chan Event
	done    chan struct{}
	stopped chan struct{}
	cancel  context.CancelFunc

	onFinish func(Event)
}

func newAttempt(intent api.PaymentIntent, amount decimal.Decimal, cancel context.CancelFunc) *Attempt {
	a := &Attempt{
		intent:  intent,
		amount:  amount,
		started: time.Now(),
		events:  make(chan Event, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		cancel:  cancel,
	}
	a.state.Store(int32(StateAwaitingPayment))
	return a
}

func (a *Attempt) Intent() api.PaymentIntent { return a.intent }
func (a *Attempt) Amount() decimal.Decimal   { return a.amount }
func (a *Attempt) State() State              { return State(a.state.Load()) }

// Events delivers exactly one Event and is then closed.
func (a *Attempt) Events() <-chan Event { return a.events }

// Done is closed once the attempt reached a terminal state.
func (a *Attempt) Done() <-chan struct{} { return a.done }

// Result is the terminal event; ok is false while the attempt is still awaiting payment.
func (a *Attempt) Result() (Event, bool) {
	select {
	case <-a.done:
		return a.result, true
	default:
		return Event{}, false
	}
}

// Wait blocks until the attempt is terminal or ctx ends.
func (a *Attempt) Wait(ctx context.Context) (Event, error) {
	select {
	case <-a.done:
		return a.result, nil
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

// Cancel moves an awaiting attempt to CANCELLED. It returns after the poll loop has
// exited, so no status request is issued once Cancel returns. It reports whether
// this call caused the transition.
func (a *Attempt) Cancel() bool {
	won := a.finish(StateCancelled, internaltypes.ErrCancelledByUser)
	<-a.stopped
	return won
}

// finish is the only way out of AWAITING_PAYMENT. The first caller wins; the rest
// return false without side effects.
func (a *Attempt) finish(s State, err error) bool {
	if !a.state.CompareAndSwap(int32(StateAwaitingPayment), int32(s)) {
		return false
	}
	a.cancel()

	a.result = Event{
		Outcome:       s,
		OrderCode:     a.intent.OrderCode,
		ReservationID: a.intent.ReservationID,
		Amount:        a.amount,
		Err:           err,
		At:            time.Now(),
	}
	a.events <- a.result
	close(a.events)
	close(a.done)

	metrics.ActiveSettlements.Dec()
	metrics.Settlements.WithLabelValues(s.String()).Inc()
	metrics.SettlementDuration.WithLabelValues(s.String()).Observe(time.Since(a.started).Seconds())

	if a.onFinish != nil {
		a.onFinish(a.result)
	}
	return true
}

func (a *Attempt) run(ctx context.Context, statuses StatusAPI, poll, ceiling time.Duration, log *logrus.Entry) {
	defer close(a.stopped)

	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	timer := time.NewTimer(ceiling)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-timer.C:
			if a.finish(StateTimedOut, internaltypes.ErrTimedOut) {
				log.WithField("ceiling", ceiling.String()).Info("payment timed out")
			}
			return

		case <-ticker.C:
			if a.State().Terminal() {
				return
			}
			st, err := statuses.PaymentStatus(ctx, a.intent.OrderCode)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				metrics.PaymentPolls.WithLabelValues("error").Inc()
				log.WithError(fmt.Errorf("%w: %w", internaltypes.ErrPollTransient, err)).Warn("payment poll failed")
				continue
			}

			switch {
			case st.Settled():
				metrics.PaymentPolls.WithLabelValues("settled").Inc()
				if a.finish(StateSettled, nil) {
					log.Info("payment settled")
				}
				return
			case st.Failed():
				metrics.PaymentPolls.WithLabelValues("failed").Inc()
				if a.finish(StateFailed, fmt.Errorf("%w: status %s", internaltypes.ErrPaymentFailed, st.Status)) {
					log.WithField("status", st.Status).Info("payment failed")
				}
				return
			default:
				metrics.PaymentPolls.WithLabelValues("pending").Inc()
				log.WithField("status", st.Status).Debug("payment pending")
			}
		}
	}
}
