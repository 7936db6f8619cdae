package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// Clock is a time of day in minutes since midnight. Delivery times are
// same-day only; cross-midnight windows are a documented limitation.
type Clock int

// ParseClock parses a strict 24-hour "HH:MM" string. Anything else is
// ErrMalformedTime: arithmetic must never run on an unparsed value.
func ParseClock(s string) (Clock, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("%w: %q", ErrMalformedTime, s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrMalformedTime, s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrMalformedTime, s)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("%w: %q", ErrMalformedTime, s)
	}
	return Clock(h*60 + m), nil
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// DiffMinutes is the absolute same-day distance between two clock values.
func (c Clock) DiffMinutes(other Clock) int {
	d := int(c) - int(other)
	if d < 0 {
		d = -d
	}
	return d
}
