package model

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClock(t *testing.T) {
	tests := []struct {
		in    string
		want  ClockTime
		token string
	}{
		{"9:00 AM", 9 * 60, "0900AM"},
		{"12:00 AM", 0, "1200AM"},
		{"12:30 PM", 12*60 + 30, "1230PM"},
		{"4:15pm", 16*60 + 15, "0415PM"},
		{"11:59 P.M.", 23*60 + 59, "1159PM"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseClock(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.token, got.Token())
		})
	}
}

func TestParseClockRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "9", "9:00", "13:00 PM", "0:30 AM", "9:60 AM", "nine AM"} {
		_, err := ParseClock(in)
		assert.ErrorIs(t, err, ErrValidation, in)
	}
}

func TestClockStringRoundTrip(t *testing.T) {
	c := MustClock("5:05 PM")
	assert.Equal(t, "5:05 PM", c.String())
	back, err := ParseClock(c.String())
	require.NoError(t, err)
	assert.Equal(t, c, back)
}

func TestParseWeekday(t *testing.T) {
	d, err := ParseWeekday("wednesday")
	require.NoError(t, err)
	assert.Equal(t, Wednesday, d)

	d, err = ParseWeekday("Sun")
	require.NoError(t, err)
	assert.Equal(t, Sunday, d)

	_, err = ParseWeekday("Funday")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestWeekdayOf(t *testing.T) {
	// 2024-06-03 is a Monday.
	base := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 7; i++ {
		assert.Equal(t, Weekday(i), WeekdayOf(base.AddDate(0, 0, i)))
	}
}

func TestNewShiftRecordEnforcesOrder(t *testing.T) {
	_, err := NewShiftRecord(Monday, "5:00 PM", "9:00 AM", "")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = NewShiftRecord(Monday, "9:00 AM", "9:00 AM", "")
	assert.ErrorIs(t, err, ErrValidation)

	rec, err := NewShiftRecord(Monday, "9:00 AM", "5:00 PM", "  desk  ")
	require.NoError(t, err)
	assert.Equal(t, "desk", rec.Comment)
}

func TestOverlaps(t *testing.T) {
	nineToFive := ShiftRecord{Day: Monday, Start: MustClock("9:00 AM"), End: MustClock("5:00 PM")}
	fourToEight := ShiftRecord{Day: Monday, Start: MustClock("4:00 PM"), End: MustClock("8:00 PM")}
	fiveToEight := ShiftRecord{Day: Monday, Start: MustClock("5:00 PM"), End: MustClock("8:00 PM")}
	tuesday := fourToEight
	tuesday.Day = Tuesday

	assert.True(t, nineToFive.Overlaps(fourToEight))
	assert.True(t, fourToEight.Overlaps(nineToFive))
	assert.False(t, nineToFive.Overlaps(fiveToEight))
	assert.False(t, nineToFive.Overlaps(tuesday))
}

func TestShiftRecordJSON(t *testing.T) {
	rec := ShiftRecord{Day: Friday, Start: MustClock("8:30 AM"), End: MustClock("1:00 PM"), Comment: "lab"}
	b, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.JSONEq(t, `{"day":"Friday","start_time":"8:30 AM","end_time":"1:00 PM","comment":"lab"}`, string(b))

	var back ShiftRecord
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, rec, back)
}

func TestOccurrenceFormats(t *testing.T) {
	occ := Occurrence{Category: "Tutor", Date: time.Date(2024, 6, 5, 0, 0, 0, 0, time.Local), StartTime: "1000AM", EndTime: "1200PM"}
	assert.Equal(t, "20240605", occ.DateValue())
	assert.Equal(t, "06/05/2024", occ.PayPeriodDate())
	assert.Equal(t, "Tutor|20240605|1000AM-1200PM", occ.Key())
}

func TestSanitizeName(t *testing.T) {
	assert.Equal(t, "Tutor Math Center", SanitizeName(" Tutor [Math] Center? "))
	assert.Equal(t, "ABC", SanitizeName(`A/B\C*`))
}

func TestValidateCategoryName(t *testing.T) {
	name, err := ValidateCategoryName("Lab Assistant*")
	require.NoError(t, err)
	assert.Equal(t, "Lab Assistant", name)

	_, err = ValidateCategoryName("[]?")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = ValidateCategoryName("a very long category name that keeps going")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestFitCategoryName(t *testing.T) {
	assert.Equal(t, "Lab Assistant Chem", FitCategoryName(" Lab Assistant [Chem] "))

	long := "Student Worker Library Circulation Desk"
	fit := FitCategoryName(long)
	assert.Equal(t, "Student Worker Library Circulat", fit)
	assert.Len(t, []rune(fit), MaxCategoryName)
	assert.True(t, strings.HasPrefix(SanitizeName(long), fit))

	// A cut that lands on a space does not leave it trailing.
	assert.Equal(t, "Student Worker Library Circula", FitCategoryName("Student Worker Library Circula tion desk"))
	assert.Equal(t, "", FitCategoryName("[]"))
}
