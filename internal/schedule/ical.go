package schedule

import (
	"io"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"

	"autoshift/internal/model"
)

const productID = "-//autoshift//shift schedule//EN"

// uidNamespace scopes the deterministic event UIDs.
var uidNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("autoshift"))

// WriteICS writes the occurrences as an iCalendar feed, one VEVENT each, with
// wall-clock times interpreted in loc (time.Local if nil). Re-exporting the
// same occurrence yields the same UID, so calendar clients update in place.
func WriteICS(w io.Writer, occurrences []model.Occurrence, loc *time.Location) error {
	if loc == nil {
		loc = time.Local
	}

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)

	stamp := time.Now().UTC()
	for _, occ := range occurrences {
		uid := uuid.NewSHA1(uidNamespace, []byte(occ.Key())).String() + "@autoshift"
		ev := cal.AddEvent(uid)
		ev.SetDtStampTime(stamp)
		ev.SetStartAt(wallClock(occ.Date, occ.Start, loc))
		ev.SetEndAt(wallClock(occ.Date, occ.End, loc))
		ev.SetSummary(occ.Category)
		if occ.Comment != "" {
			ev.SetDescription(occ.Comment)
		}
	}

	return cal.SerializeTo(w)
}

func wallClock(date time.Time, c model.ClockTime, loc *time.Location) time.Time {
	y, m, d := date.Date()
	return time.Date(y, m, d, c.Hour(), c.Minute(), 0, 0, loc)
}
