// Package schedule computes when a recurring task template fires next.
//
// All functions are pure: they take calendar dates and return calendar dates,
// with no clock reads and no I/O.
package schedule

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/civil"
)

// Frequency is how often a recurring template produces a task.
type Frequency string

const (
	// Once marks a one-off task. It is never stored on a template.
	Once     Frequency = "once"
	Daily    Frequency = "daily"
	Weekly   Frequency = "weekly"
	Monthly  Frequency = "monthly"
	Weekdays Frequency = "weekdays" // specific weekdays, see WeekdaySet
)

// Fixed offsets per frequency. Monthly is a 30-day step, not calendar-month
// arithmetic; stored schedules depend on it staying that way.
const (
	dailyStep   = 1
	weeklyStep  = 7
	monthlyStep = 30
)

// ParseFrequency accepts the canonical names plus the display forms used by
// older clients ("Daily", "Specific Weekdays", ...).
func ParseFrequency(s string) (Frequency, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "once", "none":
		return Once, nil
	case "daily":
		return Daily, nil
	case "weekly":
		return Weekly, nil
	case "monthly":
		return Monthly, nil
	case "weekdays", "specific weekdays", "specific_weekdays", "specific-weekdays":
		return Weekdays, nil
	}
	return "", fmt.Errorf("unknown frequency %q", s)
}

// UnmarshalText lets JSON and YAML inputs use any form ParseFrequency accepts.
func (f *Frequency) UnmarshalText(b []byte) error {
	v, err := ParseFrequency(string(b))
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// Recurring reports whether f describes a template rather than a one-off task.
func (f Frequency) Recurring() bool {
	switch f {
	case Daily, Weekly, Monthly, Weekdays:
		return true
	}
	return false
}

// WeekdaySet is a set of weekdays. The zero value is the empty set.
type WeekdaySet uint8

var weekdayNames = [7]string{"Sun", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat"}

// NewWeekdaySet builds a set from the given days.
func NewWeekdaySet(days ...time.Weekday) WeekdaySet {
	var s WeekdaySet
	for _, d := range days {
		s = s.With(d)
	}
	return s
}

// With returns s plus d. Out-of-range values are ignored.
func (s WeekdaySet) With(d time.Weekday) WeekdaySet {
	if d < time.Sunday || d > time.Saturday {
		return s
	}
	return s | 1<<uint(d)
}

// Contains reports whether d is in the set.
func (s WeekdaySet) Contains(d time.Weekday) bool {
	if d < time.Sunday || d > time.Saturday {
		return false
	}
	return s&(1<<uint(d)) != 0
}

// Empty reports whether the set has no days.
func (s WeekdaySet) Empty() bool { return s == 0 }

// Days returns the members ordered Monday first.
func (s WeekdaySet) Days() []time.Weekday {
	var out []time.Weekday
	for i := 0; i < 7; i++ {
		d := fromMondayIndex(i)
		if s.Contains(d) {
			out = append(out, d)
		}
	}
	return out
}

// String renders the set as "Mon,Wed,Fri". The empty set renders as "".
func (s WeekdaySet) String() string {
	days := s.Days()
	names := make([]string, len(days))
	for i, d := range days {
		names[i] = weekdayNames[d]
	}
	return strings.Join(names, ",")
}

// ParseWeekdays decodes a comma separated list of weekday names. Both short
// ("Mon") and long ("Monday") forms are accepted, case-insensitively. An empty
// string yields the empty set; absent and empty selections are equivalent.
func ParseWeekdays(s string) (WeekdaySet, error) {
	var set WeekdaySet
	for _, tok := range strings.Split(s, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		d, ok := lookupWeekday(tok)
		if !ok {
			return 0, fmt.Errorf("unknown weekday %q", tok)
		}
		set = set.With(d)
	}
	return set, nil
}

func lookupWeekday(tok string) (time.Weekday, bool) {
	tok = strings.ToLower(tok)
	for d := time.Sunday; d <= time.Saturday; d++ {
		long := strings.ToLower(d.String())
		if tok == long || tok == long[:3] {
			return d, true
		}
	}
	return 0, false
}

// MarshalText implements encoding.TextMarshaler.
func (s WeekdaySet) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *WeekdaySet) UnmarshalText(b []byte) error {
	v, err := ParseWeekdays(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// mondayIndex maps a weekday to 0 (Monday) .. 6 (Sunday).
func mondayIndex(d time.Weekday) int { return (int(d) + 6) % 7 }

func fromMondayIndex(i int) time.Weekday { return time.Weekday((i + 1) % 7) }

// Weekday returns the day of the week of d.
func Weekday(d civil.Date) time.Weekday { return d.In(time.UTC).Weekday() }

// NextRunDate returns the date after ref on which a template with the given
// frequency fires again.
//
// Daily, Weekly and Monthly are fixed offsets of 1, 7 and 30 days. Weekdays
// picks the nearest selected weekday strictly after ref, wrapping into the
// following week when none remains in the current one. An empty weekday set
// and any unrecognised frequency fall back to one day.
func NextRunDate(ref civil.Date, f Frequency, days WeekdaySet) civil.Date {
	switch f {
	case Daily:
		return ref.AddDays(dailyStep)
	case Weekly:
		return ref.AddDays(weeklyStep)
	case Monthly:
		return ref.AddDays(monthlyStep)
	case Weekdays:
		if days.Empty() {
			return ref.AddDays(dailyStep)
		}
		return ref.AddDays(weekdayOffset(Weekday(ref), days))
	}
	return ref.AddDays(dailyStep)
}

// weekdayOffset counts days from cw to the next selected weekday, using a
// Monday-first week.
func weekdayOffset(cw time.Weekday, days WeekdaySet) int {
	cur := mondayIndex(cw)
	idx := make([]int, 0, 7)
	for _, d := range days.Days() {
		idx = append(idx, mondayIndex(d))
	}
	sort.Ints(idx)
	for _, i := range idx {
		if i > cur {
			return i - cur
		}
	}
	return (6 - cur) + 1 + idx[0]
}

// Today returns the calendar date of now in loc.
func Today(now time.Time, loc *time.Location) civil.Date {
	if loc == nil {
		loc = time.UTC
	}
	return civil.DateOf(now.In(loc))
}
