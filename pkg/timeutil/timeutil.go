// Package timeutil provides calendar-day helpers used by streak arithmetic.
// All comparisons are made on the calendar date in an explicit location so
// that "same day" means the same date on the learner's wall clock, not a
// 24 hour window.
package timeutil

import (
	"fmt"
	"strings"
	"time"
)

// Date is a calendar date without a time of day.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf returns the calendar date of t in loc. A nil loc means UTC.
func DateOf(t time.Time, loc *time.Location) Date {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	return Date{Year: local.Year(), Month: local.Month(), Day: local.Day()}
}

// ordinal anchors the date at UTC midnight so that DST transitions in the
// original location never produce 23 or 25 hour days.
func (d Date) ordinal() int64 {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC).Unix() / 86400
}

// DaysUntil returns the signed number of calendar days from d to other.
func (d Date) DaysUntil(other Date) int {
	return int(other.ordinal() - d.ordinal())
}

// Equal reports whether both dates denote the same day.
func (d Date) Equal(other Date) bool {
	return d == other
}

// String renders the date as YYYY-MM-DD.
func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// IsSameDay checks if two times fall on the same calendar date in loc.
func IsSameDay(t1, t2 time.Time, loc *time.Location) bool {
	return DateOf(t1, loc) == DateOf(t2, loc)
}

// IsConsecutiveDay checks if t2 falls on the calendar day right after t1.
func IsConsecutiveDay(t1, t2 time.Time, loc *time.Location) bool {
	return DateOf(t1, loc).DaysUntil(DateOf(t2, loc)) == 1
}

// DaysBetween returns the signed number of calendar days from t1 to t2.
func DaysBetween(t1, t2 time.Time, loc *time.Location) int {
	return DateOf(t1, loc).DaysUntil(DateOf(t2, loc))
}

// LoadLocation resolves an IANA zone name. Empty or "UTC" yields time.UTC.
func LoadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(name, "utc") {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("timeutil: unknown timezone %q: %w", name, err)
	}
	return loc, nil
}
