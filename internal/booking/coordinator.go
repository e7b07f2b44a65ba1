package booking

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/example/staybook/internal/api"
	"github.com/example/staybook/internal/internaltypes"
	"github.com/example/staybook/internal/logging"
	"github.com/example/staybook/internal/metrics"
	"github.com/example/staybook/internal/pricing"
	"github.com/example/staybook/internal/redisx"
	"github.com/sirupsen/logrus"
)

type API interface {
	RatePlans(ctx context.Context, roomTypeID string) ([]api.RatePlan, error)
	CreateReservation(ctx context.Context, in api.ReservationCreate) (api.Reservation, error)
}

type GuestResolver interface {
	Resolve(ctx context.Context, name, email, phone string) (api.Guest, error)
}

// Locker is a cross-process mutex, see redisx.Locker.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

type Result struct {
	Guest       api.Guest
	RatePlan    api.RatePlan
	Quote       pricing.Quote
	Reservation api.Reservation
}

// Coordinator creates reservations: guest, rate plan, quote, then the reservation
// itself. Each step runs once, in order, and the first failure stops the chain.
type Coordinator struct {
	API    API
	Guests GuestResolver
	Locker Locker
	Log    *logrus.Logger

	submitting atomic.Bool
}

func NewCoordinator(a API, guests GuestResolver, locker Locker, log *logrus.Logger) *Coordinator {
	if log == nil {
		log = logging.Discard()
	}
	return &Coordinator{API: a, Guests: guests, Locker: locker, Log: log}
}

// Submitting reports whether a CreateReservation call is running.
func (c *Coordinator) Submitting() bool { return c.submitting.Load() }

func (c *Coordinator) CreateReservation(ctx context.Context, req Request) (Result, error) {
	if err := req.Validate(); err != nil {
		metrics.Bookings.WithLabelValues("invalid").Inc()
		return Result{}, err
	}

	if !c.submitting.CompareAndSwap(false, true) {
		metrics.Bookings.WithLabelValues("duplicate").Inc()
		return Result{}, internaltypes.ErrSubmitInProgress
	}
	defer c.submitting.Store(false)

	if c.Locker != nil && req.SessionID != "" {
		release, ok, err := c.Locker.Acquire(ctx, fmt.Sprintf(redisx.KeySubmit, req.SessionID), redisx.TTLSubmit)
		if err != nil {
			return Result{}, err
		}
		if !ok {
			metrics.Bookings.WithLabelValues("duplicate").Inc()
			return Result{}, internaltypes.ErrSubmitInProgress
		}
		defer release()
	}

	res, err := c.create(ctx, req)
	if err != nil {
		metrics.Bookings.WithLabelValues("error").Inc()
		return Result{}, err
	}
	metrics.Bookings.WithLabelValues("created").Inc()
	return res, nil
}

func (c *Coordinator) create(ctx context.Context, req Request) (Result, error) {
	l := c.Log.WithFields(logrus.Fields{"room_type_id": req.RoomTypeID, "property_id": req.PropertyID})

	g, err := c.Guests.Resolve(ctx, req.Name, req.Email, req.Phone)
	if err != nil {
		return Result{}, err
	}

	plans, err := c.API.RatePlans(ctx, req.RoomTypeID)
	if err != nil {
		return Result{}, fmt.Errorf("%w: rate plan lookup: %w", internaltypes.ErrReservationCreate, err)
	}
	if len(plans) == 0 {
		l.Warn("no rate plan for room type")
		return Result{}, fmt.Errorf("%w: %s", internaltypes.ErrMissingRatePlan, req.RoomTypeID)
	}
	plan := plans[0]

	q := pricing.ComputeQuote(req.PriceInputs(plan.Currency))

	r, err := c.API.CreateReservation(ctx, api.ReservationCreate{
		PropertyID:    req.PropertyID,
		GuestID:       g.ID,
		RoomTypeID:    req.RoomTypeID,
		RatePlanID:    plan.ID,
		CheckIn:       req.CheckIn,
		CheckOut:      req.CheckOut,
		Adults:        req.Adults,
		Children:      req.Children,
		TotalAmount:   q.RoundedTotal(),
		Currency:      q.Currency,
		Status:        api.ReservationPending,
		PaymentStatus: api.PaymentUnpaid,
	})
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", internaltypes.ErrReservationCreate, err)
	}

	l.WithFields(logrus.Fields{
		"reservation_id": r.ID,
		"guest_id":       g.ID,
		"total":          q.RoundedTotal().StringFixed(2),
		"currency":       q.Currency,
	}).Info("reservation created")

	return Result{Guest: g, RatePlan: plan, Quote: q, Reservation: r}, nil
}
