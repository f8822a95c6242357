package model

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ClockTime is a local time of day in minutes since midnight.
type ClockTime int

const minutesPerDay = 24 * 60

var clockPattern = regexp.MustCompile(`(?i)^\s*(\d{1,2}):(\d{2})\s*([AP])\.?\s*M\.?\s*$`)

// ParseClock parses a 12-hour clock string such as "9:00 AM" or "12:30pm".
func ParseClock(s string) (ClockTime, error) {
	m := clockPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("%w: invalid time %q (want h:mm AM/PM)", ErrValidation, s)
	}
	hour, _ := strconv.Atoi(m[1])
	minute, _ := strconv.Atoi(m[2])
	if hour < 1 || hour > 12 || minute > 59 {
		return 0, fmt.Errorf("%w: invalid time %q", ErrValidation, s)
	}
	hour %= 12
	if strings.EqualFold(m[3], "P") {
		hour += 12
	}
	return ClockTime(hour*60 + minute), nil
}

// MustClock is ParseClock for constants and tests.
func MustClock(s string) ClockTime {
	c, err := ParseClock(s)
	if err != nil {
		panic(err)
	}
	return c
}

func (c ClockTime) Valid() bool {
	return c >= 0 && c < minutesPerDay
}

func (c ClockTime) Hour() int   { return int(c) / 60 }
func (c ClockTime) Minute() int { return int(c) % 60 }

func (c ClockTime) parts() (int, int, string) {
	h := c.Hour()
	meridiem := "AM"
	if h >= 12 {
		meridiem = "PM"
	}
	h %= 12
	if h == 0 {
		h = 12
	}
	return h, c.Minute(), meridiem
}

// String renders the stored form, e.g. "9:00 AM".
func (c ClockTime) String() string {
	h, m, mer := c.parts()
	return fmt.Sprintf("%d:%02d %s", h, m, mer)
}

// Token renders the compact form used by the timesheet selects, e.g. "0900AM".
func (c ClockTime) Token() string {
	h, m, mer := c.parts()
	return fmt.Sprintf("%02d%02d%s", h, m, mer)
}

func (c ClockTime) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *ClockTime) UnmarshalText(b []byte) error {
	v, err := ParseClock(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}
