package selector

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

var dayBits = map[string]time.Weekday{
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
	"sun": time.Sunday, "sunday": time.Sunday,
}

const allDays uint8 = 0x7F

// timeWindowMatcher tests the evaluation instant against a daily window
// in the rule's timezone. start > end means the window crosses midnight:
// the instant matches when it falls at or after start or at or before
// end. Endpoints are always inclusive.
type timeWindowMatcher struct {
	loc   *time.Location
	start int
	end   int
	days  uint8
}

func (m *timeWindowMatcher) Matches(ev Eval) bool {
	now := ev.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	t := now.In(m.loc)
	if m.days&(1<<uint(t.Weekday())) == 0 {
		return false
	}
	sec := t.Hour()*3600 + t.Minute()*60 + t.Second()
	if m.start <= m.end {
		return sec >= m.start && sec <= m.end
	}
	return sec >= m.start || sec <= m.end
}

func (m *timeWindowMatcher) Kind() string { return "TIME_WINDOW" }

// parseClock parses "HH:MM" or "HH:MM:SS" into seconds of day.
func parseClock(s string) (int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 && len(parts) != 3 {
		return 0, fmt.Errorf("clock %q must be HH:MM or HH:MM:SS", s)
	}
	vals := make([]int, 3)
	for i, part := range parts {
		v, err := strconv.Atoi(part)
		if err != nil {
			return 0, fmt.Errorf("clock %q has a non-numeric component", s)
		}
		vals[i] = v
	}
	h, m, sec := vals[0], vals[1], vals[2]
	if h < 0 || h > 23 || m < 0 || m > 59 || sec < 0 || sec > 59 {
		return 0, fmt.Errorf("clock %q out of range", s)
	}
	return h*3600 + m*60 + sec, nil
}

// parseDays builds the weekday bitmask from day names. The second return
// names the first unknown day, empty when all parse.
func parseDays(days []string) (uint8, string) {
	if len(days) == 0 {
		return allDays, ""
	}
	var mask uint8
	for _, d := range days {
		wd, ok := dayBits[strings.ToLower(strings.TrimSpace(d))]
		if !ok {
			return 0, d
		}
		mask |= 1 << uint(wd)
	}
	return mask, ""
}
