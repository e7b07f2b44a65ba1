package availability

import (
	"context"
	"time"

	"github.com/example/staybook/internal/api"
	"github.com/example/staybook/internal/internaltypes"
	"github.com/sirupsen/logrus"
)

type TableFinder interface {
	AvailableTables(ctx context.Context, q api.TableQuery) ([]api.Table, error)
}

// Engine filters the slot grid for a venue and looks up free tables for a chosen slot.
type Engine struct {
	Tables TableFinder
	Step   int
	Buffer time.Duration
	Now    func() time.Time
	Log    *logrus.Logger
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) step() int {
	if e.Step > 0 {
		return e.Step
	}
	return DefaultStep
}

// AvailableSlots returns the grid slots still bookable on date.
func (e *Engine) AvailableSlots(hoursText string, date time.Time) []string {
	grid, err := GenerateSlots(DefaultStart, lastSlot(e.step()), e.step())
	if err != nil {
		return nil
	}
	now := e.now()
	out := make([]string, 0, len(grid))
	for _, s := range grid {
		if IsSlotAvailable(s, hoursText, date, now, e.Buffer) {
			out = append(out, s)
		}
	}
	return out
}

// FindTables refuses slots that fail the local checks before asking the restaurant API.
func (e *Engine) FindTables(ctx context.Context, restaurantID, hoursText string, date time.Time, slot string, partySize int) ([]api.Table, error) {
	verr := &internaltypes.ValidationError{}
	if restaurantID == "" {
		verr.Add("restaurantId", "required")
	}
	if partySize < 1 {
		verr.Add("partySize", "must be at least 1")
	}
	if _, err := parseClock(slot); err != nil {
		verr.Add("time", err.Error())
	} else if !IsSlotAvailable(slot, hoursText, date, e.now(), e.Buffer) {
		verr.Add("time", "slot "+slot+" is not available")
	}
	if len(verr.Fields) > 0 {
		return nil, verr
	}

	tables, err := e.Tables.AvailableTables(ctx, api.TableQuery{
		RestaurantID: restaurantID,
		Date:         date,
		Time:         slot,
		PartySize:    partySize,
	})
	if err != nil {
		return nil, err
	}
	if e.Log != nil {
		e.Log.WithFields(logrus.Fields{
			"restaurant": restaurantID,
			"date":       date.Format("2006-01-02"),
			"slot":       slot,
			"tables":     len(tables),
		}).Debug("tables found")
	}
	return tables, nil
}

// lastSlot is the last grid point of the day for a step.
func lastSlot(step int) string {
	last := (24*60 - 1) / step * step
	return formatClock(last)
}
