// Package schedule turns weekly recurring shifts into dated occurrences.
package schedule

import (
	"fmt"
	"slices"
	"time"

	"github.com/teambition/rrule-go"

	appLog "autoshift/internal/log"
	"autoshift/internal/model"
)

const (
	// DateLayout is the ISO-8601 calendar date accepted for range bounds.
	DateLayout = "2006-01-02"

	defaultMaxOccurrencesPerShift = 5000
)

var rruleDays = [...]rrule.Weekday{rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA, rrule.SU}

// ParseDate parses an ISO-8601 date as a UTC midnight.
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid date %q (want YYYY-MM-DD)", model.ErrValidation, s)
	}
	return d, nil
}

// ParseRange parses and validates an inclusive date range.
func ParseRange(start, end string) (time.Time, time.Time, error) {
	s, err := ParseDate(start)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	e, err := ParseDate(end)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if e.Before(s) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: end date %s is before start date %s", model.ErrValidation, end, start)
	}
	return s, e, nil
}

// Expand returns every occurrence of the given shifts between startDate and
// endDate inclusive (ISO-8601 dates). Unparsable dates or an inverted range
// yield an empty result; callers treat that as "nothing to do".
func Expand(categories []model.Category, startDate, endDate string) []model.Occurrence {
	start, end, err := ParseRange(startDate, endDate)
	if err != nil {
		return []model.Occurrence{}
	}
	return ExpandRange(categories, start, end)
}

// ExpandRange is Expand for already-parsed dates. Only the calendar date of
// start and end is used.
//
// Ordering is date-major; within a date, categories keep their store order
// and shifts their canonical order.
func ExpandRange(categories []model.Category, start, end time.Time) []model.Occurrence {
	start = civilDate(start)
	end = civilDate(end)
	out := []model.Occurrence{}
	if end.Before(start) {
		return out
	}

	for _, cat := range categories {
		for _, sh := range cat.Shifts {
			if !sh.Day.Valid() {
				continue
			}
			for _, d := range shiftDates(sh, start, end) {
				out = append(out, newOccurrence(cat.Name, sh, d))
			}
		}
	}

	// Generation is category-major; a stable sort on the date keeps the
	// category and shift order inside each day.
	slices.SortStableFunc(out, func(a, b model.Occurrence) int {
		return a.Date.Compare(b.Date)
	})
	return out
}

// shiftDates lists the dates in [start, end] falling on the shift's weekday.
func shiftDates(sh model.ShiftRecord, start, end time.Time) []time.Time {
	rule, err := rrule.NewRRule(rrule.ROption{
		Freq:      rrule.WEEKLY,
		Byweekday: []rrule.Weekday{rruleDays[sh.Day]},
		Dtstart:   start,
		Until:     end,
	})
	if err != nil {
		appLog.Error("schedule: failed to build recurrence", err, "shift", sh.String())
		return nil
	}

	dates := rule.Between(start, end, true)
	if len(dates) > defaultMaxOccurrencesPerShift {
		appLog.Info("schedule: truncated occurrences for shift due to cap",
			"shift", sh.String(),
			"cap", defaultMaxOccurrencesPerShift,
		)
		dates = dates[:defaultMaxOccurrencesPerShift]
	}
	return dates
}

func newOccurrence(category string, sh model.ShiftRecord, date time.Time) model.Occurrence {
	return model.Occurrence{
		Category:  category,
		Date:      civilDate(date),
		StartTime: sh.Start.Token(),
		EndTime:   sh.End.Token(),
		Comment:   sh.Comment,
		Start:     sh.Start,
		End:       sh.End,
	}
}

// civilDate drops the time of day and zone, keeping the wall-clock date.
func civilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
