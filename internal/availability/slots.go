package availability

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultStart = "00:00"
	DefaultEnd   = "23:30"
	DefaultStep  = 30
)

var clockRe = regexp.MustCompile(`\d{1,2}:\d{2}`)

// OperatingHours is an open/close window in minutes since midnight.
// Close < Open means the window wraps past midnight (17:00-02:00).
type OperatingHours struct {
	Open  int
	Close int
}

func (h OperatingHours) Overnight() bool { return h.Close < h.Open }

func (h OperatingHours) Contains(minute int) bool {
	if h.Overnight() {
		return minute >= h.Open || minute <= h.Close
	}
	return minute >= h.Open && minute <= h.Close
}

func (h OperatingHours) String() string {
	return fmt.Sprintf("%s-%s", formatClock(h.Open), formatClock(h.Close))
}

// ParseOperatingHours takes the first two HH:MM occurrences in free text as open and close.
// ok is false when fewer than two are found or either of them is not a valid clock;
// callers treat that as always open.
func ParseOperatingHours(text string) (OperatingHours, bool) {
	m := clockRe.FindAllString(text, 2)
	if len(m) < 2 {
		return OperatingHours{}, false
	}
	open, err := parseClock(m[0])
	if err != nil {
		return OperatingHours{}, false
	}
	closing, err := parseClock(m[1])
	if err != nil {
		return OperatingHours{}, false
	}
	return OperatingHours{Open: open, Close: closing}, true
}

// GenerateSlots returns every step from start to end inclusive, e.g. 00:00..23:30 every 30m.
func GenerateSlots(start, end string, stepMinutes int) ([]string, error) {
	if stepMinutes < 1 {
		return nil, fmt.Errorf("step must be >= 1 minute")
	}
	from, err := parseClock(start)
	if err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}
	to, err := parseClock(end)
	if err != nil {
		return nil, fmt.Errorf("end: %w", err)
	}
	if to < from {
		return nil, fmt.Errorf("end %s is before start %s", end, start)
	}
	out := make([]string, 0, (to-from)/stepMinutes+1)
	for m := from; m <= to; m += stepMinutes {
		out = append(out, formatClock(m))
	}
	return out, nil
}

func DefaultSlots() []string {
	s, _ := GenerateSlots(DefaultStart, DefaultEnd, DefaultStep)
	return s
}

// IsSlotAvailable reports whether slot can be booked on selectedDate given the venue's
// free-text operating hours. Unparseable hours are treated as always open, so the
// restaurant API must still enforce its own hours.
func IsSlotAvailable(slot, hoursText string, selectedDate, now time.Time, buffer time.Duration) bool {
	slotMin, err := parseClock(slot)
	if err != nil {
		return false
	}

	sy, sm, sd := selectedDate.Date()
	selected := time.Date(sy, sm, sd, 0, 0, 0, 0, now.Location())
	ny, nm, nd := now.Date()
	today := time.Date(ny, nm, nd, 0, 0, 0, 0, now.Location())

	if selected.Before(today) {
		return false
	}
	if selected.Equal(today) {
		at := today.Add(time.Duration(slotMin) * time.Minute)
		if at.Before(now.Add(buffer)) {
			return false
		}
	}

	hours, ok := ParseOperatingHours(hoursText)
	if !ok {
		return true
	}
	return hours.Contains(slotMin)
}

func parseClock(s string) (int, error) {
	if len(s) < 4 || len(s) > 5 {
		return 0, fmt.Errorf("bad time %q (want HH:MM)", s)
	}
	hh, mm, ok := strings.Cut(s, ":")
	if !ok || hh == "" {
		return 0, fmt.Errorf("bad time %q (want HH:MM)", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("bad hour in %q", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 || len(mm) != 2 {
		return 0, fmt.Errorf("bad minute in %q", s)
	}
	return h*60 + m, nil
}

func formatClock(mins int) string {
	return fmt.Sprintf("%02d:%02d", mins/60, mins%60)
}
