package availability

import "strings"

// ChooseSlot returns the first preferred slot that is in available, keeping the
// caller's preference order. With no preferences it returns the earliest available slot.
func ChooseSlot(preferred, available []string) (string, bool) {
	if len(available) == 0 {
		return "", false
	}
	if len(preferred) == 0 {
		best := available[0]
		for _, s := range available[1:] {
			if s < best {
				best = s
			}
		}
		return best, true
	}

	open := make(map[int]string, len(available))
	for _, s := range available {
		if m, err := parseClock(s); err == nil {
			open[m] = s
		}
	}
	for _, p := range preferred {
		m, err := parseClock(strings.TrimSpace(p))
		if err != nil {
			continue
		}
		if s, ok := open[m]; ok {
			return s, true
		}
	}
	return "", false
}

// SplitSlots parses a comma separated preference list such as "19:00, 19:30".
func SplitSlots(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
