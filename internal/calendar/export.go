package calendar

import (
	"time"

	ical "github.com/arran4/golang-ical"

	"vtcal/internal/match"
	"vtcal/internal/model"
)

const (
	productID = "-//VTuber Schedule Calendar//EN"
	uidSuffix = "@vtuber-schedule"
)

// ExportICS renders events as an iCalendar document, one VEVENT per event
// in input order. Times are written in UTC. A zero stamp omits DTSTAMP, which
// keeps the output byte-for-byte repeatable.
func ExportICS(events []model.Event, roster []model.Talent, m *match.Matcher, stamp time.Time) string {
	if m == nil {
		m = match.Default()
	}

	cal := ical.NewCalendar()
	cal.SetProductId(productID)
	cal.SetCalscale("GREGORIAN")
	cal.SetMethod(ical.MethodPublish)

	for _, ev := range events {
		name := displayName(ev, m.ResolveOrPlaceholder(roster, ev))
		watch := model.WatchURL(ev.ID)

		vev := cal.AddEvent(ev.ID + uidSuffix)
		vev.SetStartAt(ev.Start)
		vev.SetEndAt(ev.EffectiveEnd())
		vev.SetSummary(Summary(name, ev.Title))
		vev.SetDescription(Description(ev, name))
		vev.SetURL(watch)
		if !stamp.IsZero() {
			vev.SetDtStampTime(stamp)
		}
	}
	return cal.Serialize()
}
