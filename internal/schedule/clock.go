package schedule

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidTimeFormat is returned when a stored time-of-day string does
// not match the canonical 12-hour clock format.
var ErrInvalidTimeFormat = errors.New("invalid time of day format")

const clockLayout = "3:04 PM"

// ParseClock parses a wall clock string such as "9:00 AM" into hour and
// minute. The canonical format is exact: 24-hour values, stray whitespace
// and lowercase meridiems are rejected so a drifted stored value surfaces
// as an error instead of firing at a silently wrong time.
func ParseClock(s string) (hour, minute int, err error) {
	t, perr := time.Parse(clockLayout, s)
	if perr != nil || t.Format(clockLayout) != s {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidTimeFormat, s)
	}
	return t.Hour(), t.Minute(), nil
}

// FormatClock renders an hour/minute pair in the canonical stored format.
func FormatClock(hour, minute int) string {
	return time.Date(2000, 1, 1, hour, minute, 0, 0, time.UTC).Format(clockLayout)
}
