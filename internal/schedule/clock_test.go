package schedule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClock(t *testing.T) {
	tests := []struct {
		in     string
		hour   int
		minute int
	}{
		{"9:00 AM", 9, 0},
		{"9:05 AM", 9, 5},
		{"12:00 AM", 0, 0},
		{"12:00 PM", 12, 0},
		{"12:30 PM", 12, 30},
		{"11:59 PM", 23, 59},
		{"1:15 PM", 13, 15},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			hour, minute, err := ParseClock(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.hour, hour)
			assert.Equal(t, tt.minute, minute)
		})
	}
}

func TestParseClockRejectsDriftedFormats(t *testing.T) {
	invalid := []string{
		"",
		"14:00",      // 24-hour value
		"9:00",       // missing meridiem
		"9:00 am",    // lowercase meridiem
		"9:00 pm",
		" 9:00 AM",   // leading whitespace
		"9:00 AM ",   // trailing whitespace
		"09:00 AM",   // zero-padded hour is not the canonical form
		"9:00AM",
		"nine AM",
		"25:00 PM",
	}
	for _, in := range invalid {
		t.Run("reject "+in, func(t *testing.T) {
			_, _, err := ParseClock(in)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidTimeFormat)
		})
	}
}

func TestFormatClockRoundTrip(t *testing.T) {
	s := FormatClock(9, 0)
	assert.Equal(t, "9:00 AM", s)

	hour, minute, err := ParseClock(FormatClock(23, 59))
	require.NoError(t, err)
	assert.Equal(t, 23, hour)
	assert.Equal(t, 59, minute)
}
