// Package settlement drives an asynchronous (QR/POS) payment from intent creation to
// exactly one terminal outcome: settled, failed, timed out or cancelled.
package settlement

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/example/staybook/internal/api"
	"github.com/example/staybook/internal/internaltypes"
	"github.com/example/staybook/internal/logging"
	"github.com/example/staybook/internal/metrics"
	"github.com/example/staybook/internal/redisx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	DefaultPollInterval = 2 * time.Second
	DefaultCeiling      = 60 * time.Second
)

type StatusAPI interface {
	PaymentStatus(ctx context.Context, orderCode string) (api.PaymentStatus, error)
}

type PaymentAPI interface {
	StatusAPI
	CreatePaymentIntent(ctx context.Context, in api.PaymentIntentRequest) (api.PaymentIntent, error)
}

type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

// Machine runs at most one settlement attempt at a time. Use one Machine per
// booking session.
type Machine struct {
	API          PaymentAPI
	PollInterval time.Duration
	Ceiling      time.Duration
	// Locker, when set, keeps other processes from settling the same reservation.
	Locker Locker
	Log    *logrus.Logger

	mu     sync.Mutex
	busy   bool
	active *Attempt
}

func NewMachine(a PaymentAPI, poll, ceiling time.Duration, locker Locker, log *logrus.Logger) *Machine {
	if log == nil {
		log = logging.Discard()
	}
	return &Machine{API: a, PollInterval: poll, Ceiling: ceiling, Locker: locker, Log: log}
}

// Active returns the attempt currently awaiting payment, or nil.
func (m *Machine) Active() *Attempt {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Initiate creates a payment intent for amount and starts polling it. A failed
// intent request returns ErrPaymentInitiation and starts nothing.
func (m *Machine) Initiate(ctx context.Context, reservationID string, amount decimal.Decimal) (*Attempt, error) {
	if reservationID == "" {
		return nil, internaltypes.NewValidationError("reservationId", "is required")
	}
	if !amount.IsPositive() {
		return nil, internaltypes.NewValidationError("amount", "must be greater than 0")
	}
	if err := m.reserve(); err != nil {
		return nil, err
	}
	// lock before the intent exists so a lock failure never leaves an unpolled order
	release, err := m.lock(ctx, reservationID)
	if err != nil {
		m.unreserve()
		return nil, err
	}

	intent, err := m.API.CreatePaymentIntent(ctx, api.PaymentIntentRequest{
		OrderID:       uuid.NewString(),
		Amount:        amount,
		Description:   fmt.Sprintf("Reservation %s", reservationID),
		ReservationID: reservationID,
	})
	if err != nil {
		release()
		m.unreserve()
		return nil, fmt.Errorf("%w: %w", internaltypes.ErrPaymentInitiation, err)
	}
	if intent.ReservationID == "" {
		intent.ReservationID = reservationID
	}
	return m.start(ctx, intent, amount, release), nil
}

// Watch resumes polling an intent created earlier, e.g. by another process that
// went away. No new intent is requested.
func (m *Machine) Watch(ctx context.Context, intent api.PaymentIntent, amount decimal.Decimal) (*Attempt, error) {
	if intent.OrderCode == "" {
		return nil, internaltypes.NewValidationError("orderCode", "is required")
	}
	if err := m.reserve(); err != nil {
		return nil, err
	}
	key := intent.ReservationID
	if key == "" {
		key = intent.OrderCode
	}
	release, err := m.lock(ctx, key)
	if err != nil {
		m.unreserve()
		return nil, err
	}
	return m.start(ctx, intent, amount, release), nil
}

// Cancel cancels the active attempt, if any.
func (m *Machine) Cancel() bool {
	a := m.Active()
	if a == nil {
		return false
	}
	return a.Cancel()
}

func (m *Machine) reserve() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.busy {
		return internaltypes.ErrSettlementInProgress
	}
	m.busy = true
	return nil
}

func (m *Machine) unreserve() {
	m.mu.Lock()
	m.busy = false
	m.active = nil
	m.mu.Unlock()
}

func (m *Machine) timing() (poll, ceiling time.Duration) {
	poll, ceiling = m.PollInterval, m.Ceiling
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	if ceiling <= 0 {
		ceiling = DefaultCeiling
	}
	return poll, ceiling
}

// lock takes the cross-process settle lock for one reservation. It is a no-op
// without a Locker.
func (m *Machine) lock(ctx context.Context, reservationID string) (func(), error) {
	if m.Locker == nil {
		return func() {}, nil
	}
	poll, ceiling := m.timing()
	release, ok, err := m.Locker.Acquire(ctx, fmt.Sprintf(redisx.KeySettle, reservationID), ceiling+2*poll)
	if err != nil {
		return nil, fmt.Errorf("%w: settle lock: %w", internaltypes.ErrPaymentInitiation, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: reservation %s is settled elsewhere", internaltypes.ErrSettlementInProgress, reservationID)
	}
	return release, nil
}

func (m *Machine) start(ctx context.Context, intent api.PaymentIntent, amount decimal.Decimal, release func()) *Attempt {
	poll, ceiling := m.timing()

	// The loop outlives the caller's request; only Cancel or a terminal state stop it.
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a := newAttempt(intent, amount, cancel)
	log := m.Log.WithFields(logrus.Fields{
		"order_code":     intent.OrderCode,
		"reservation_id": intent.ReservationID,
	})
	a.onFinish = func(Event) {
		release()
		m.unreserve()
	}

	m.mu.Lock()
	m.active = a
	m.mu.Unlock()

	metrics.ActiveSettlements.Inc()
	log.WithFields(logrus.Fields{
		"amount":  amount.StringFixed(2),
		"poll":    poll.String(),
		"ceiling": ceiling.String(),
	}).Info("awaiting payment")

	go a.run(loopCtx, m.API, poll, ceiling, log)
	return a
}
