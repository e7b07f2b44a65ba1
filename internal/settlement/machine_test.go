package settlement

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/example/staybook/internal/api"
	"github.com/example/staybook/internal/internaltypes"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tick struct {
	status api.PaymentStatus
	err    error
}

// scriptedAPI replays ticks in order and repeats the last one forever.
type scriptedAPI struct {
	mu        sync.Mutex
	ticks     []tick
	polls     int
	intents   int
	intentErr error
	lastReq   api.PaymentIntentRequest
	hang      bool
	inFlight  chan struct{}
}

func (s *scriptedAPI) CreatePaymentIntent(_ context.Context, in api.PaymentIntentRequest) (api.PaymentIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intents++
	s.lastReq = in
	if s.intentErr != nil {
		return api.PaymentIntent{}, s.intentErr
	}
	return api.PaymentIntent{OrderCode: "100200", QRPayload: "000201...", CheckoutURL: "https://pay.example/100200", ReservationID: in.ReservationID}, nil
}

func (s *scriptedAPI) PaymentStatus(ctx context.Context, _ string) (api.PaymentStatus, error) {
	s.mu.Lock()
	s.polls++
	n := s.polls
	hang := s.hang
	s.mu.Unlock()

	if hang {
		if s.inFlight != nil {
			s.inFlight <- struct{}{}
		}
		<-ctx.Done()
		return api.PaymentStatus{}, ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.ticks) == 0 {
		return api.PaymentStatus{Status: "PENDING"}, nil
	}
	i := n - 1
	if i >= len(s.ticks) {
		i = len(s.ticks) - 1
	}
	return s.ticks[i].status, s.ticks[i].err
}

func (s *scriptedAPI) pollCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.polls
}

var (
	pending = tick{status: api.PaymentStatus{Status: "PENDING"}}
	paid    = tick{status: api.PaymentStatus{Status: "PAID", Success: true}}
	failed  = tick{status: api.PaymentStatus{Status: "CANCELLED"}}
	flaky   = tick{err: errors.New("connection reset by peer")}
)

func newTestMachine(a PaymentAPI, poll, ceiling time.Duration) *Machine {
	return NewMachine(a, poll, ceiling, nil, nil)
}

func collect(t *testing.T, a *Attempt) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-a.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("events channel never closed")
		}
	}
}

func TestInitiate_SettlesOnThirdTick(t *testing.T) {
	fa := &scriptedAPI{ticks: []tick{pending, pending, paid}}
	m := newTestMachine(fa, 10*time.Millisecond, time.Minute)

	a, err := m.Initiate(context.Background(), "res-1", decimal.RequireFromString("5842000"))
	require.NoError(t, err)
	assert.Equal(t, "100200", a.Intent().OrderCode)

	events := collect(t, a)
	require.Len(t, events, 1)
	assert.Equal(t, StateSettled, events[0].Outcome)
	assert.NoError(t, events[0].Err)
	assert.Equal(t, "res-1", events[0].ReservationID)
	assert.Equal(t, 3, fa.pollCount())

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 3, fa.pollCount(), "no polls after the terminal event")
	assert.Equal(t, StateSettled, a.State())
	assert.Nil(t, m.Active())
}

func TestInitiate_SendsComputedAmount(t *testing.T) {
	fa := &scriptedAPI{ticks: []tick{paid}}
	m := newTestMachine(fa, 10*time.Millisecond, time.Minute)

	a, err := m.Initiate(context.Background(), "res-9", decimal.RequireFromString("230.00"))
	require.NoError(t, err)
	_, err = a.Wait(context.Background())
	require.NoError(t, err)

	assert.True(t, fa.lastReq.Amount.Equal(decimal.NewFromInt(230)))
	assert.Equal(t, "res-9", fa.lastReq.ReservationID)
	assert.NotEmpty(t, fa.lastReq.OrderID)
}

func TestInitiate_TimesOutAfterCeiling(t *testing.T) {
	fa := &scriptedAPI{ticks: []tick{pending, flaky, pending, flaky}}
	m := newTestMachine(fa, 10*time.Millisecond, 150*time.Millisecond)

	a, err := m.Initiate(context.Background(), "res-1", decimal.NewFromInt(10))
	require.NoError(t, err)

	events := collect(t, a)
	require.Len(t, events, 1)
	assert.Equal(t, StateTimedOut, events[0].Outcome)
	assert.True(t, errors.Is(events[0].Err, internaltypes.ErrTimedOut))

	after := fa.pollCount()
	assert.Greater(t, after, 3)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, after, fa.pollCount(), "no polls after timing out")
}

func TestInitiate_TransientErrorsAreNotTerminal(t *testing.T) {
	fa := &scriptedAPI{ticks: []tick{flaky, flaky, flaky, paid}}
	m := newTestMachine(fa, 10*time.Millisecond, time.Minute)

	a, err := m.Initiate(context.Background(), "res-1", decimal.NewFromInt(10))
	require.NoError(t, err)

	ev, err := a.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateSettled, ev.Outcome)
	assert.Equal(t, 4, fa.pollCount())
}

func TestInitiate_ExplicitFailure(t *testing.T) {
	fa := &scriptedAPI{ticks: []tick{pending, failed}}
	m := newTestMachine(fa, 10*time.Millisecond, time.Minute)

	a, err := m.Initiate(context.Background(), "res-1", decimal.NewFromInt(10))
	require.NoError(t, err)

	ev, err := a.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateFailed, ev.Outcome)
	assert.True(t, errors.Is(ev.Err, internaltypes.ErrPaymentFailed))
	assert.False(t, errors.Is(ev.Err, internaltypes.ErrTimedOut))
}

func TestInitiate_InitiationFailureStartsNothing(t *testing.T) {
	fa := &scriptedAPI{intentErr: errors.New("502 bad gateway")}
	m := newTestMachine(fa, 5*time.Millisecond, time.Minute)

	a, err := m.Initiate(context.Background(), "res-1", decimal.NewFromInt(10))
	require.Error(t, err)
	assert.Nil(t, a)
	assert.True(t, errors.Is(err, internaltypes.ErrPaymentInitiation))

	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, fa.pollCount())
	assert.Nil(t, m.Active())

	// the machine is free for another try
	fa.intentErr = nil
	fa.ticks = []tick{paid}
	a, err = m.Initiate(context.Background(), "res-1", decimal.NewFromInt(10))
	require.NoError(t, err)
	_, _ = a.Wait(context.Background())
}

func TestInitiate_RejectsInvalidInput(t *testing.T) {
	fa := &scriptedAPI{}
	m := newTestMachine(fa, 5*time.Millisecond, time.Minute)

	_, err := m.Initiate(context.Background(), "", decimal.NewFromInt(10))
	assert.True(t, errors.Is(err, internaltypes.ErrValidation))
	_, err = m.Initiate(context.Background(), "res-1", decimal.Zero)
	assert.True(t, errors.Is(err, internaltypes.ErrValidation))
	assert.Zero(t, fa.intents)
}

func TestInitiate_OneAttemptAtATime(t *testing.T) {
	fa := &scriptedAPI{}
	m := newTestMachine(fa, 10*time.Millisecond, time.Minute)

	a, err := m.Initiate(context.Background(), "res-1", decimal.NewFromInt(10))
	require.NoError(t, err)

	_, err = m.Initiate(context.Background(), "res-1", decimal.NewFromInt(10))
	assert.True(t, errors.Is(err, internaltypes.ErrSettlementInProgress))
	assert.Equal(t, 1, fa.intents)
	assert.Same(t, a, m.Active())

	assert.True(t, m.Cancel())
	assert.Nil(t, m.Active())
}

func TestCancel_StopsPollingSynchronously(t *testing.T) {
	fa := &scriptedAPI{}
	m := newTestMachine(fa, 5*time.Millisecond, time.Minute)

	a, err := m.Initiate(context.Background(), "res-1", decimal.NewFromInt(10))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return fa.pollCount() >= 2 }, time.Second, time.Millisecond)

	assert.True(t, a.Cancel())
	n := fa.pollCount()

	ev, ok := a.Result()
	require.True(t, ok)
	assert.Equal(t, StateCancelled, ev.Outcome)
	assert.True(t, errors.Is(ev.Err, internaltypes.ErrCancelledByUser))

	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, n, fa.pollCount())
	assert.False(t, a.Cancel(), "second cancel is a no-op")
	assert.Len(t, collect(t, a), 1)
}

func TestCancel_AbortsInFlightPoll(t *testing.T) {
	fa := &scriptedAPI{hang: true, inFlight: make(chan struct{}, 1)}
	m := newTestMachine(fa, 5*time.Millisecond, time.Minute)

	a, err := m.Initiate(context.Background(), "res-1", decimal.NewFromInt(10))
	require.NoError(t, err)
	<-fa.inFlight

	returned := make(chan struct{})
	go func() {
		a.Cancel()
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("Cancel did not abort the in-flight poll")
	}
	assert.Equal(t, 1, fa.pollCount())
}

func TestCancel_AfterSettledIsNoop(t *testing.T) {
	fa := &scriptedAPI{ticks: []tick{paid}}
	m := newTestMachine(fa, 5*time.Millisecond, time.Minute)

	a, err := m.Initiate(context.Background(), "res-1", decimal.NewFromInt(10))
	require.NoError(t, err)
	<-a.Done()

	assert.False(t, a.Cancel())
	ev, _ := a.Result()
	assert.Equal(t, StateSettled, ev.Outcome)
}

func TestFinish_ExactlyOnceUnderRace(t *testing.T) {
	for i := 0; i < 200; i++ {
		_, cancel := context.WithCancel(context.Background())
		a := newAttempt(api.PaymentIntent{OrderCode: "1"}, decimal.NewFromInt(1), cancel)
		close(a.stopped)

		var wg sync.WaitGroup
		wins := make(chan State, 3)
		for _, s := range []State{StateSettled, StateTimedOut, StateCancelled} {
			wg.Add(1)
			go func(s State) {
				defer wg.Done()
				if a.finish(s, nil) {
					wins <- s
				}
			}(s)
		}
		wg.Wait()
		close(wins)

		var winners []State
		for s := range wins {
			winners = append(winners, s)
		}
		require.Len(t, winners, 1)
		events := collect(t, a)
		require.Len(t, events, 1)
		assert.Equal(t, winners[0], events[0].Outcome)
	}
}

func TestWatch_ResumesExistingIntent(t *testing.T) {
	fa := &scriptedAPI{ticks: []tick{pending, paid}}
	m := newTestMachine(fa, 5*time.Millisecond, time.Minute)

	a, err := m.Watch(context.Background(), api.PaymentIntent{OrderCode: "777", ReservationID: "res-2"}, decimal.NewFromInt(5))
	require.NoError(t, err)
	ev, err := a.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateSettled, ev.Outcome)
	assert.Equal(t, "777", ev.OrderCode)
	assert.Zero(t, fa.intents)
}

type refusingLocker struct{}

func (refusingLocker) Acquire(context.Context, string, time.Duration) (func(), bool, error) {
	return nil, false, nil
}

func TestWatch_OrderPolledElsewhere(t *testing.T) {
	fa := &scriptedAPI{}
	m := NewMachine(fa, 5*time.Millisecond, time.Minute, refusingLocker{}, nil)

	_, err := m.Watch(context.Background(), api.PaymentIntent{OrderCode: "777"}, decimal.NewFromInt(5))
	assert.True(t, errors.Is(err, internaltypes.ErrSettlementInProgress))
	assert.Nil(t, m.Active())

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, fa.pollCount())
}

type brokenLocker struct{ calls int }

func (l *brokenLocker) Acquire(context.Context, string, time.Duration) (func(), bool, error) {
	l.calls++
	return nil, false, errors.New("redis: connection refused")
}

func TestInitiate_LockErrorCreatesNoIntent(t *testing.T) {
	fa := &scriptedAPI{}
	lk := &brokenLocker{}
	m := NewMachine(fa, 5*time.Millisecond, time.Minute, lk, nil)

	a, err := m.Initiate(context.Background(), "res-1", decimal.NewFromInt(10))
	require.Error(t, err)
	assert.Nil(t, a)
	assert.True(t, errors.Is(err, internaltypes.ErrPaymentInitiation))
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, 1, lk.calls)
	assert.Zero(t, fa.intents, "no intent without the settle lock")
	assert.Nil(t, m.Active())

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, fa.pollCount())
}

type keyLocker struct {
	mu       sync.Mutex
	keys     []string
	released int
}

func (l *keyLocker) Acquire(_ context.Context, key string, _ time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keys = append(l.keys, key)
	return func() {
		l.mu.Lock()
		l.released++
		l.mu.Unlock()
	}, true, nil
}

func TestInitiate_LockHeldUntilTerminal(t *testing.T) {
	fa := &scriptedAPI{intentErr: errors.New("502 bad gateway")}
	lk := &keyLocker{}
	m := NewMachine(fa, 5*time.Millisecond, time.Minute, lk, nil)

	_, err := m.Initiate(context.Background(), "res-1", decimal.NewFromInt(10))
	require.Error(t, err)
	assert.Equal(t, 1, lk.released, "failed intent gives the lock back")

	fa.intentErr = nil
	fa.ticks = []tick{paid}
	a, err := m.Initiate(context.Background(), "res-1", decimal.NewFromInt(10))
	require.NoError(t, err)
	_, err = a.Wait(context.Background())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		lk.mu.Lock()
		defer lk.mu.Unlock()
		return lk.released == 2
	}, time.Second, time.Millisecond)
	assert.Equal(t, []string{"staybook:settle:res-1", "staybook:settle:res-1"}, lk.keys)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "AWAITING_PAYMENT", StateAwaitingPayment.String())
	assert.Equal(t, "TIMED_OUT", StateTimedOut.String())
	assert.True(t, StateCancelled.Terminal())
	assert.False(t, StateAwaitingPayment.Terminal())
}
