package calendar

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"vtcal/internal/model"
)

func TestExportICS(t *testing.T) {
	events := []model.Event{
		{
			ID:         "v1",
			Title:      "Morning",
			Start:      time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC),
			StartBasis: model.StartScheduled,
			Channel:    model.ChannelRef{ID: "UC1", Name: "兎田ぺこら"},
		},
		{
			ID:         "v2",
			Title:      "Night",
			Start:      time.Date(2025, 1, 2, 12, 30, 0, 0, time.FixedZone("JST", 9*3600)),
			StartBasis: model.StartScheduled,
			Channel:    model.ChannelRef{ID: "n1", Name: "葛葉"},
		},
	}
	roster := []model.Talent{{Name: "Pekora", ChannelID: "UC1"}}

	doc := ExportICS(events, roster, nil, time.Time{})

	assert.Equal(t, 2, strings.Count(doc, "BEGIN:VEVENT"))
	assert.Equal(t, 2, strings.Count(doc, "END:VEVENT"))
	assert.Contains(t, doc, "UID:v1@vtuber-schedule")
	assert.Contains(t, doc, "UID:v2@vtuber-schedule")
	assert.Contains(t, doc, "PRODID:-//VTuber Schedule Calendar//EN")
	assert.Contains(t, doc, "METHOD:PUBLISH")
	assert.Contains(t, doc, "DTSTART:20250101T100000Z")
	assert.Contains(t, doc, "DTEND:20250101T120000Z")
	assert.Contains(t, doc, "DTSTART:20250102T033000Z")
	assert.Contains(t, doc, "URL:https://www.youtube.com/watch?v=v1")
	assert.Contains(t, doc, "Pekora stream: Morning")
	assert.Contains(t, doc, "葛葉 stream: Night")
	assert.NotContains(t, doc, "DTSTAMP")

	assert.Equal(t, doc, ExportICS(events, roster, nil, time.Time{}), "export is repeatable")
}

func TestExportICSEmpty(t *testing.T) {
	doc := ExportICS(nil, nil, nil, time.Time{})
	assert.Contains(t, doc, "BEGIN:VCALENDAR")
	assert.NotContains(t, doc, "BEGIN:VEVENT")
}
