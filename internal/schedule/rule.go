package schedule

import (
	"fmt"
	"time"
)

type Frequency string

const (
	FreqDaily   Frequency = "daily"
	FreqWeekly  Frequency = "weekly"
	FreqMonthly Frequency = "monthly"
)

type MonthlyMode string

const (
	MonthlyOnDay        MonthlyMode = "day_of_month"
	MonthlyOnNthWeekday MonthlyMode = "nth_weekday"
)

type EndType string

const (
	EndNever     EndType = "never"
	EndOnDate    EndType = "on_date"
	EndAfter     EndType = "after_occurrences"
)

// maxLookaheadDays bounds the forward search in NextOccurrence. Covers a
// monthly rule with interval 36, which is well past anything the product
// allows.
const maxLookaheadDays = 1100

// Rule is a pure description of a nudge's recurrence. It holds no I/O and
// no references to storage; the scheduler builds one per nudge per pass.
type Rule struct {
	Frequency Frequency
	Interval  int // every N periods, >= 1
	TimeOfDay string
	Timezone  string

	DayOfWeek int // 0=Sunday..6=Saturday, weekly only

	MonthlyMode MonthlyMode
	DayOfMonth  int // 1..28, clamped
	NthWeek     int // 1..5
	NthWeekday  int // 0=Sunday..6=Saturday

	EndType  EndType
	EndDate  *time.Time
	EndAfter int

	// Anchor is the rule's phase reference, the nudge's creation instant.
	// Interval counting starts from the anchor's local date.
	Anchor time.Time

	// Occurrences is how many instances have been materialized so far,
	// checked against the after_occurrences end condition.
	Occurrences int
}

func (r Rule) location() (*time.Location, error) {
	loc, err := time.LoadLocation(r.Timezone)
	if err != nil {
		return nil, fmt.Errorf("unknown timezone %q: %w", r.Timezone, err)
	}
	return loc, nil
}

func (r Rule) interval() int {
	if r.Interval < 1 {
		return 1
	}
	return r.Interval
}

// Ended reports whether the rule's end condition has been satisfied. Once
// true, IsDue returns false and the caller is expected to transition the
// nudge to finished.
func (r Rule) Ended(nowUTC time.Time) bool {
	switch r.EndType {
	case EndOnDate:
		if r.EndDate == nil {
			return false
		}
		loc, err := r.location()
		if err != nil {
			return false
		}
		now := nowUTC.In(loc)
		end := r.EndDate.In(loc)
		nowDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
		endDay := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, loc)
		return nowDay.After(endDay)
	case EndAfter:
		return r.EndAfter > 0 && r.Occurrences >= r.EndAfter
	default:
		return false
	}
}

// IsDue reports whether the rule should fire at nowUTC. A rule is due when
// the local wall clock falls inside [configured time, configured time +
// tolerance) and the local date satisfies the frequency predicate. The
// tolerance is the scheduler's tick width, so a rule is due for exactly one
// tick per occurrence.
func (r Rule) IsDue(nowUTC time.Time, tolerance time.Duration) (bool, error) {
	if r.Ended(nowUTC) {
		return false, nil
	}

	hour, minute, err := ParseClock(r.TimeOfDay)
	if err != nil {
		return false, err
	}
	loc, err := r.location()
	if err != nil {
		return false, err
	}

	local := nowUTC.In(loc)
	target := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	if local.Before(target) || local.Sub(target) >= tolerance {
		return false, nil
	}

	return r.matchesDate(local, loc)
}

// matchesDate checks the date half of the predicate: weekday/month-day
// selectors plus whole-period interval alignment against the anchor.
// Periods are counted with integer arithmetic on local dates; DST shifts
// never show up as fractional days.
func (r Rule) matchesDate(local time.Time, loc *time.Location) (bool, error) {
	anchor := r.Anchor.In(loc)
	days := daysBetween(anchor, local)
	if days < 0 {
		return false, nil
	}

	switch r.Frequency {
	case FreqDaily:
		return days%r.interval() == 0, nil

	case FreqWeekly:
		if int(local.Weekday()) != r.DayOfWeek {
			return false, nil
		}
		weeks := days / 7
		return weeks%r.interval() == 0, nil

	case FreqMonthly:
		months := monthsBetween(anchor, local)
		if months < 0 || months%r.interval() != 0 {
			return false, nil
		}
		switch r.MonthlyMode {
		case MonthlyOnDay:
			return local.Day() == clampDayOfMonth(r.DayOfMonth), nil
		case MonthlyOnNthWeekday:
			return isNthWeekdayOfMonth(local, r.NthWeekday, r.NthWeek), nil
		default:
			return false, fmt.Errorf("monthly rule without a monthly mode")
		}

	default:
		return false, fmt.Errorf("unknown frequency %q", r.Frequency)
	}
}

// NextOccurrence returns the first instant strictly after afterUTC at which
// the rule fires, searching forward one local day at a time. The search is
// bounded; rules that never fire again (exhausted end condition, sparse
// intervals past the horizon) report ok=false.
func (r Rule) NextOccurrence(afterUTC time.Time) (time.Time, bool, error) {
	hour, minute, err := ParseClock(r.TimeOfDay)
	if err != nil {
		return time.Time{}, false, err
	}
	loc, err := r.location()
	if err != nil {
		return time.Time{}, false, err
	}
	if r.EndType == EndAfter && r.EndAfter > 0 && r.Occurrences >= r.EndAfter {
		return time.Time{}, false, nil
	}

	after := afterUTC.In(loc)
	day := time.Date(after.Year(), after.Month(), after.Day(), 0, 0, 0, 0, loc)

	for i := 0; i < maxLookaheadDays; i++ {
		candidate := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, loc)
		day = day.AddDate(0, 0, 1)
		if !candidate.After(after) {
			continue
		}
		if r.EndType == EndOnDate && r.EndDate != nil {
			end := r.EndDate.In(loc)
			endDay := time.Date(end.Year(), end.Month(), end.Day(), 23, 59, 59, 0, loc)
			if candidate.After(endDay) {
				return time.Time{}, false, nil
			}
		}
		ok, err := r.matchesDate(candidate, loc)
		if err != nil {
			return time.Time{}, false, err
		}
		if ok {
			return candidate.UTC(), true, nil
		}
	}

	return time.Time{}, false, nil
}

// clampDayOfMonth confines a day-of-month selector to 1..28 so every month,
// February included, has the configured day.
func clampDayOfMonth(d int) int {
	if d < 1 {
		return 1
	}
	if d > 28 {
		return 28
	}
	return d
}

// isNthWeekdayOfMonth reports whether t is the nth occurrence (1-based) of
// the given weekday within its month.
func isNthWeekdayOfMonth(t time.Time, weekday, nth int) bool {
	if int(t.Weekday()) != weekday {
		return false
	}
	return (t.Day()-1)/7+1 == nth
}

// daysBetween counts whole calendar days from a's date to b's date. Both
// dates are re-anchored to UTC midnight first, so the subtraction is always
// an exact multiple of 24h regardless of DST in the source location.
func daysBetween(a, b time.Time) int {
	da := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	db := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}

// monthsBetween counts whole calendar months from a's month to b's month.
func monthsBetween(a, b time.Time) int {
	return (b.Year()-a.Year())*12 + int(b.Month()) - int(a.Month())
}
