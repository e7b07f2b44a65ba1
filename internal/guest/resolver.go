package guest

import (
	"context"
	"fmt"
	"strings"

	"github.com/example/staybook/internal/api"
	"github.com/example/staybook/internal/internaltypes"
	"github.com/example/staybook/internal/logging"
	"github.com/sirupsen/logrus"
)

type API interface {
	FindGuestsByEmail(ctx context.Context, email string) ([]api.Guest, error)
	CreateGuest(ctx context.Context, in api.GuestCreate) (api.Guest, error)
}

// Resolver gets or creates a guest by email.
//
// Lookup and create are two separate requests, so two concurrent Resolve calls for the
// same unseen email can both create a guest. Downstream code must tolerate duplicate
// guests per email; only a unique constraint on the Guest API side can prevent them.
type Resolver struct {
	API API
	Log *logrus.Logger
}

func NewResolver(a API, log *logrus.Logger) *Resolver {
	if log == nil {
		log = logging.Discard()
	}
	return &Resolver{API: a, Log: log}
}

// Resolve returns the first guest whose email matches exactly, otherwise creates one.
// A failed lookup is not an error by itself; it falls through to create.
func (r *Resolver) Resolve(ctx context.Context, name, email, phone string) (api.Guest, error) {
	email = strings.TrimSpace(email)
	l := r.Log.WithField("email", email)

	found, lookupErr := r.API.FindGuestsByEmail(ctx, email)
	if lookupErr != nil {
		l.WithError(lookupErr).Warn("guest lookup failed, creating")
	}
	for _, g := range found {
		if g.Email == email {
			l.WithField("guest_id", g.ID).Debug("guest found")
			return g, nil
		}
	}

	g, err := r.API.CreateGuest(ctx, api.GuestCreate{
		Name:  strings.TrimSpace(name),
		Email: email,
		Phone: strings.TrimSpace(phone),
	})
	if err != nil {
		if lookupErr != nil {
			return api.Guest{}, fmt.Errorf("%w: lookup: %v; create: %w", internaltypes.ErrGuestResolution, lookupErr, err)
		}
		return api.Guest{}, fmt.Errorf("%w: create: %w", internaltypes.ErrGuestResolution, err)
	}
	l.WithField("guest_id", g.ID).Info("guest created")
	return g, nil
}
