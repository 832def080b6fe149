// Package calendar turns events into calendar entries: API payloads for a
// calendar service and a portable iCalendar export.
package calendar

import (
	"time"

	"vtcal/internal/model"
)

const (
	// TimeZone is the zone every payload is expressed in; all supported
	// talents schedule in Japan time.
	TimeZone = "Asia/Tokyo"

	DefaultReminderMinutes = 30

	titlePrefix = "🎭 "
)

var tokyo = func() *time.Location {
	loc, err := time.LoadLocation(TimeZone)
	if err != nil {
		return time.FixedZone("JST", 9*60*60)
	}
	return loc
}()

// Payload mirrors the calendar API event resource fields we write.
type Payload struct {
	Summary     string    `json:"summary"`
	Description string    `json:"description"`
	Start       DateTime  `json:"start"`
	End         DateTime  `json:"end"`
	ColorID     string    `json:"colorId"`
	Reminders   Reminders `json:"reminders"`
}

type DateTime struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

type Reminders struct {
	UseDefault bool       `json:"useDefault"`
	Overrides  []Reminder `json:"overrides"`
}

type Reminder struct {
	Method  string `json:"method"`
	Minutes int    `json:"minutes"`
}

// Project builds the calendar payload for an event attributed to talent.
// A non-positive reminderMinutes uses the 30 minute default.
func Project(ev model.Event, talent model.Talent, reminderMinutes int) Payload {
	if reminderMinutes <= 0 {
		reminderMinutes = DefaultReminderMinutes
	}
	name := displayName(ev, talent)
	return Payload{
		Summary:     Summary(name, ev.Title),
		Description: Description(ev, name),
		Start:       DateTime{DateTime: ev.Start.In(tokyo).Format(time.RFC3339), TimeZone: TimeZone},
		End:         DateTime{DateTime: ev.EffectiveEnd().In(tokyo).Format(time.RFC3339), TimeZone: TimeZone},
		ColorID:     ColorID(talent.Org),
		Reminders: Reminders{
			UseDefault: false,
			Overrides:  []Reminder{{Method: "popup", Minutes: reminderMinutes}},
		},
	}
}

// Summary is the entry title: decorative prefix, talent, "stream:", title.
func Summary(talentName, title string) string {
	return titlePrefix + talentName + " stream: " + title
}

// Description carries the watch link and the channel name.
func Description(ev model.Event, talentName string) string {
	return "Watch: " + model.WatchURL(ev.ID) + "\n\nChannel: " + talentName
}

// ColorID maps an organization to a calendar color id.
func ColorID(org model.Org) string {
	switch org {
	case model.OrgHololive:
		return "9"
	case model.OrgNijisanji:
		return "11"
	case model.OrgIndie:
		return "3"
	default:
		return "8"
	}
}

func displayName(ev model.Event, talent model.Talent) string {
	if talent.Name != "" {
		return talent.Name
	}
	return ev.Channel.Name
}
