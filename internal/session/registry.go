package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const drainTimeout = 15 * time.Second

// Registry maps browser session ids to sessions. Each session gets its own
// coordinator and settlement machine from the factory, so guards never span sessions.
type Registry struct {
	factory  func(id string) *Session
	IdleTTL  time.Duration
	Interval time.Duration
	Log      *logrus.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewRegistry(factory func(id string) *Session, idleTTL time.Duration, log *logrus.Logger) *Registry {
	return &Registry{
		factory:  factory,
		IdleTTL:  idleTTL,
		Interval: time.Minute,
		Log:      log,
		sessions: map[string]*Session{},
	}
}

func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// GetOrCreate returns the session for id, creating it (with a fresh id when id is
// empty or unknown).
func (r *Registry) GetOrCreate(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok && id != "" {
		return s
	}
	id = uuid.NewString()
	s := r.factory(id)
	r.sessions[id] = s
	return s
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Run drops idle sessions every Interval until ctx ends, then cancels any payment
// still awaiting and returns once those outcomes have been recorded.
func (r *Registry) Run(ctx context.Context) error {
	t := time.NewTicker(r.Interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			r.closeAll()
			return ctx.Err()
		case <-t.C:
			if n := r.Sweep(time.Now()); n > 0 && r.Log != nil {
				r.Log.WithField("dropped", n).Debug("idle sessions dropped")
			}
		}
	}
}

// Sweep removes sessions idle for longer than IdleTTL. Sessions that are submitting
// or awaiting payment are kept.
func (r *Registry) Sweep(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, s := range r.sessions {
		touched, idle := s.idleSince()
		if idle && now.Sub(touched) > r.IdleTTL {
			delete(r.sessions, id)
			n++
		}
	}
	return n
}

func (r *Registry) closeAll() {
	r.mu.Lock()
	all := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.mu.Unlock()

	for _, s := range all {
		s.CancelPayment()
	}

	// let the watchers record the cancelled outcomes
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	for _, s := range all {
		_, _ = s.Wait(ctx)
	}
}
