package booking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/example/staybook/internal/api"
	"github.com/example/staybook/internal/internaltypes"
	"github.com/example/staybook/internal/pricing"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	mu        sync.Mutex
	plans     []api.RatePlan
	plansErr  error
	createErr error
	block     chan struct{}

	planCalls   int
	createCalls int
	created     api.ReservationCreate
}

func (f *fakeAPI) RatePlans(_ context.Context, _ string) ([]api.RatePlan, error) {
	f.mu.Lock()
	f.planCalls++
	block := f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	return f.plans, f.plansErr
}

func (f *fakeAPI) CreateReservation(_ context.Context, in api.ReservationCreate) (api.Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	f.created = in
	if f.createErr != nil {
		return api.Reservation{}, f.createErr
	}
	return api.Reservation{
		ID:            "res-1",
		GuestID:       in.GuestID,
		TotalAmount:   in.TotalAmount,
		Currency:      in.Currency,
		Status:        in.Status,
		PaymentStatus: in.PaymentStatus,
	}, nil
}

type fakeGuests struct {
	calls int
	err   error
}

func (g *fakeGuests) Resolve(_ context.Context, name, email, phone string) (api.Guest, error) {
	g.calls++
	if g.err != nil {
		return api.Guest{}, g.err
	}
	return api.Guest{ID: "g1", Name: name, Email: email, Phone: phone}, nil
}

func validRequest() Request {
	return Request{
		Name:        "Ann Lee",
		Email:       "ann@example.com",
		PropertyID:  "p1",
		RoomTypeID:  "rt1",
		CheckIn:     time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC),
		CheckOut:    time.Date(2026, 11, 3, 0, 0, 0, 0, time.UTC),
		Adults:      2,
		BasePrice:   decimal.NewFromInt(100),
		TaxRate:     decimal.RequireFromString("0.1"),
		ServiceRate: decimal.RequireFromString("0.05"),
	}
}

func TestCreateReservation_HappyPath(t *testing.T) {
	fa := &fakeAPI{plans: []api.RatePlan{{ID: "rp1", RoomTypeID: "rt1", Currency: "usd"}, {ID: "rp2", Currency: "VND"}}}
	fg := &fakeGuests{}
	c := NewCoordinator(fa, fg, nil, nil)

	res, err := c.CreateReservation(context.Background(), validRequest())
	require.NoError(t, err)

	assert.Equal(t, "res-1", res.Reservation.ID)
	assert.Equal(t, 1, fg.calls)
	assert.Equal(t, 1, fa.planCalls)
	assert.Equal(t, 1, fa.createCalls)

	assert.Equal(t, "rp1", fa.created.RatePlanID, "first rate plan is used")
	assert.Equal(t, "USD", fa.created.Currency)
	assert.Equal(t, "g1", fa.created.GuestID)
	assert.Equal(t, api.ReservationPending, fa.created.Status)
	assert.Equal(t, api.PaymentUnpaid, fa.created.PaymentStatus)
	assert.Equal(t, "230.00", fa.created.TotalAmount.StringFixed(2))
	assert.True(t, res.Quote.TotalAmount.Equal(decimal.NewFromInt(230)))
	assert.False(t, c.Submitting())
}

func TestCreateReservation_MissingRatePlanNeverPosts(t *testing.T) {
	fa := &fakeAPI{plans: nil}
	c := NewCoordinator(fa, &fakeGuests{}, nil, nil)

	_, err := c.CreateReservation(context.Background(), validRequest())
	require.Error(t, err)
	assert.True(t, errors.Is(err, internaltypes.ErrMissingRatePlan))
	assert.Equal(t, 1, fa.planCalls)
	assert.Zero(t, fa.createCalls, "no reservation POST without a rate plan")
}

func TestCreateReservation_GuestFailureStopsChain(t *testing.T) {
	fa := &fakeAPI{plans: []api.RatePlan{{ID: "rp1"}}}
	fg := &fakeGuests{err: internaltypes.ErrGuestResolution}
	c := NewCoordinator(fa, fg, nil, nil)

	_, err := c.CreateReservation(context.Background(), validRequest())
	assert.True(t, errors.Is(err, internaltypes.ErrGuestResolution))
	assert.Zero(t, fa.planCalls)
	assert.Zero(t, fa.createCalls)
}

func TestCreateReservation_CreateFailure(t *testing.T) {
	fa := &fakeAPI{plans: []api.RatePlan{{ID: "rp1"}}, createErr: errors.New("500 boom")}
	c := NewCoordinator(fa, &fakeGuests{}, nil, nil)

	_, err := c.CreateReservation(context.Background(), validRequest())
	require.Error(t, err)
	assert.True(t, errors.Is(err, internaltypes.ErrReservationCreate))
	assert.Contains(t, err.Error(), "500 boom")
	assert.Equal(t, 1, fa.createCalls, "no retry")
}

func TestCreateReservation_ValidationBeforeNetwork(t *testing.T) {
	fa := &fakeAPI{plans: []api.RatePlan{{ID: "rp1"}}}
	fg := &fakeGuests{}
	c := NewCoordinator(fa, fg, nil, nil)

	req := validRequest()
	req.Email = "not-an-email"
	req.CheckOut = req.CheckIn
	req.Adults = 0
	req.BasePrice = decimal.Zero

	_, err := c.CreateReservation(context.Background(), req)
	var verr *internaltypes.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.True(t, errors.Is(err, internaltypes.ErrValidation))
	assert.Contains(t, verr.Fields, "email")
	assert.Contains(t, verr.Fields, "checkOut")
	assert.Contains(t, verr.Fields, "adults")
	assert.Contains(t, verr.Fields, "basePrice")
	assert.Zero(t, fg.calls)
	assert.Zero(t, fa.planCalls)
}

func TestCreateReservation_RejectsConcurrentSubmit(t *testing.T) {
	fa := &fakeAPI{plans: []api.RatePlan{{ID: "rp1", Currency: "VND"}}, block: make(chan struct{})}
	c := NewCoordinator(fa, &fakeGuests{}, nil, nil)

	done := make(chan error, 1)
	go func() {
		_, err := c.CreateReservation(context.Background(), validRequest())
		done <- err
	}()
	require.Eventually(t, c.Submitting, time.Second, time.Millisecond)

	_, err := c.CreateReservation(context.Background(), validRequest())
	assert.True(t, errors.Is(err, internaltypes.ErrSubmitInProgress))

	close(fa.block)
	require.NoError(t, <-done)
	assert.Equal(t, 1, fa.createCalls)

	// guard is released afterwards
	fa.block = nil
	_, err = c.CreateReservation(context.Background(), validRequest())
	assert.NoError(t, err)
}

type fakeLocker struct {
	held     map[string]bool
	released []string
}

func (l *fakeLocker) Acquire(_ context.Context, key string, _ time.Duration) (func(), bool, error) {
	if l.held[key] {
		return nil, false, nil
	}
	l.held[key] = true
	return func() { delete(l.held, key); l.released = append(l.released, key) }, true, nil
}

func TestCreateReservation_SessionLock(t *testing.T) {
	fa := &fakeAPI{plans: []api.RatePlan{{ID: "rp1"}}}
	lk := &fakeLocker{held: map[string]bool{"staybook:submit:busy": true}}
	c := NewCoordinator(fa, &fakeGuests{}, lk, nil)

	req := validRequest()
	req.SessionID = "busy"
	_, err := c.CreateReservation(context.Background(), req)
	assert.True(t, errors.Is(err, internaltypes.ErrSubmitInProgress))
	assert.Zero(t, fa.planCalls)

	req.SessionID = "free"
	_, err = c.CreateReservation(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []string{"staybook:submit:free"}, lk.released)
}

func TestRequest_NightsAndInputs(t *testing.T) {
	req := validRequest()
	req.Discount = pricing.PercentOff(decimal.NewFromInt(10))
	in := req.PriceInputs("vnd")
	assert.Equal(t, 2, in.Nights)
	assert.Equal(t, "vnd", in.Currency)
	assert.Equal(t, pricing.DiscountPercent, in.Discount.Mode)
}
