package model

import (
	"fmt"
	"strings"
	"time"
)

// Weekday is a day of the week in canonical store order (Monday first).
// It intentionally differs from time.Weekday, which starts on Sunday.
type Weekday int

const (
	Monday Weekday = iota
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday
)

var weekdayNames = [...]string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}

func (d Weekday) String() string {
	if d < Monday || d > Sunday {
		return fmt.Sprintf("Weekday(%d)", int(d))
	}
	return weekdayNames[d]
}

// Valid reports whether d is one of the seven canonical days.
func (d Weekday) Valid() bool {
	return d >= Monday && d <= Sunday
}

// ParseWeekday accepts full or three-letter English day names, case-insensitive.
func ParseWeekday(s string) (Weekday, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	for i, name := range weekdayNames {
		lower := strings.ToLower(name)
		if s == lower || (len(s) == 3 && strings.HasPrefix(lower, s)) {
			return Weekday(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown day of week %q", ErrValidation, s)
}

// WeekdayOf maps a calendar date onto the canonical Monday-first index.
func WeekdayOf(t time.Time) Weekday {
	return Weekday((int(t.Weekday()) + 6) % 7)
}

// ShiftRecord is one recurring weekly shift inside a category.
type ShiftRecord struct {
	Day     Weekday   `json:"day" yaml:"day"`
	Start   ClockTime `json:"start_time" yaml:"start_time"`
	End     ClockTime `json:"end_time" yaml:"end_time"`
	Comment string    `json:"comment,omitempty" yaml:"comment,omitempty"`
}

// NewShiftRecord parses 12-hour clock strings ("9:00 AM") and enforces start < end.
func NewShiftRecord(day Weekday, start, end, comment string) (ShiftRecord, error) {
	if !day.Valid() {
		return ShiftRecord{}, fmt.Errorf("%w: invalid day of week %d", ErrValidation, int(day))
	}
	s, err := ParseClock(start)
	if err != nil {
		return ShiftRecord{}, err
	}
	e, err := ParseClock(end)
	if err != nil {
		return ShiftRecord{}, err
	}
	rec := ShiftRecord{Day: day, Start: s, End: e, Comment: strings.TrimSpace(comment)}
	if err := rec.Validate(); err != nil {
		return ShiftRecord{}, err
	}
	return rec, nil
}

// Validate checks the creation-time invariants of a record.
func (r ShiftRecord) Validate() error {
	if !r.Day.Valid() {
		return fmt.Errorf("%w: invalid day of week %d", ErrValidation, int(r.Day))
	}
	if !r.Start.Valid() || !r.End.Valid() {
		return fmt.Errorf("%w: time out of range", ErrValidation)
	}
	if r.Start >= r.End {
		return fmt.Errorf("%w: start time %s must be before end time %s", ErrValidation, r.Start, r.End)
	}
	return nil
}

// Overlaps reports whether two records on the same day share any time.
// Intervals are half-open, so touching endpoints do not overlap.
func (r ShiftRecord) Overlaps(o ShiftRecord) bool {
	if r.Day != o.Day {
		return false
	}
	return !(r.End <= o.Start || r.Start >= o.End)
}

// Less orders records by day index, then start time.
func (r ShiftRecord) Less(o ShiftRecord) bool {
	if r.Day != o.Day {
		return r.Day < o.Day
	}
	return r.Start < o.Start
}

func (r ShiftRecord) String() string {
	s := fmt.Sprintf("%s %s-%s", r.Day, r.Start, r.End)
	if r.Comment != "" {
		s += " (" + r.Comment + ")"
	}
	return s
}

// Category is a named, ordered list of shifts (one workbook sheet).
type Category struct {
	Name   string        `json:"name"`
	Shifts []ShiftRecord `json:"shifts"`
}

// Occurrence is a concrete dated instance of a shift, valid for one run.
type Occurrence struct {
	Category string    `json:"category"`
	Date     time.Time `json:"date"`

	// StartTime / EndTime are the compact form tokens, e.g. "0900AM".
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Comment   string `json:"comment"`

	Start ClockTime `json:"-"`
	End   ClockTime `json:"-"`
}

// DateValue is the option value the timesheet form uses for a date (YYYYMMDD).
func (o Occurrence) DateValue() string {
	return o.Date.Format("20060102")
}

// PayPeriodDate is the MM/DD/YYYY form used by the pay period picker.
func (o Occurrence) PayPeriodDate() string {
	return o.Date.Format("01/02/2006")
}

// Key identifies an occurrence within a run.
func (o Occurrence) Key() string {
	return o.Category + "|" + o.DateValue() + "|" + o.StartTime + "-" + o.EndTime
}

func (o Occurrence) String() string {
	return fmt.Sprintf("%s %s %s-%s", o.Category, o.Date.Format("2006-01-02"), o.StartTime, o.EndTime)
}

// SkippedOccurrence is an occurrence that was not committed during a run.
type SkippedOccurrence struct {
	Occurrence Occurrence `json:"occurrence"`
	Reason     string     `json:"reason"`
}

// Event is a progress notification for the UI collaborator.
type Event struct {
	RunID   string    `json:"run_id"`
	Message string    `json:"message"`
	IsFinal bool      `json:"is_final"`
	Time    time.Time `json:"time"`
}

// Failure is one row of the persisted failure log.
type Failure struct {
	Timestamp time.Time `json:"timestamp"`
	Operation string    `json:"operation"`
	Message   string    `json:"message"`
}

func (d Weekday) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Weekday) UnmarshalText(b []byte) error {
	v, err := ParseWeekday(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}
