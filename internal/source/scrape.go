package source

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Proximity scraping: each video link on a schedule page anchors a window of
// markup in which the talent name and the time of day are looked up. Dates
// appear as section headers, so the nearest one before the link applies.

const (
	nameWindow = 500
	timeWindow = 2000

	defaultHour = 12
	yearSlack   = 48 * time.Hour
)

var (
	videoLinkRe = regexp.MustCompile(`(?:youtube\.com/watch\?v=|youtu\.be/|youtube\.com/embed/)([A-Za-z0-9_-]{11})`)
	dateTokenRe = regexp.MustCompile(`(\d{1,2})/(\d{1,2})\s*[(（][日月火水木金土][)）]`)
	timeTokenRe = regexp.MustCompile(`(\d{1,2}):(\d{2})`)
	categoryRe  = regexp.MustCompile(`event_category['"]?\s*:\s*['"]([^'"]+)['"]`)
	altRe       = regexp.MustCompile(`alt="([^"]{2,50})"`)
	jsonTimeRe  = regexp.MustCompile(`"(?:startDate|start_scheduled|scheduledStartTime)"\s*:\s*"([^"]+)"`)
)

const unknownName = "Unknown"

type scrapedStream struct {
	VideoID string
	Name    string
	Start   time.Time
}

type dateToken struct {
	pos   int
	month int
	day   int
}

// scanLinks extracts one stream per distinct video id, in page order.
func scanLinks(page string, now time.Time, loc *time.Location) []scrapedStream {
	links := videoLinkRe.FindAllStringSubmatchIndex(page, -1)
	if len(links) == 0 {
		return nil
	}
	dates := findDates(page)

	seen := make(map[string]struct{}, len(links))
	out := make([]scrapedStream, 0, len(links))
	for i, m := range links {
		id := page[m[2]:m[3]]
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}

		// Windows stop at the next link to a different video so a card
		// never borrows its neighbour's name or time.
		bound := len(page)
		for _, next := range links[i+1:] {
			if page[next[2]:next[3]] != id {
				bound = next[0]
				break
			}
		}

		out = append(out, scrapedStream{
			VideoID: id,
			Name:    findName(page[m[1]:min(m[1]+nameWindow, bound)]),
			Start:   findStart(page[m[1]:min(m[1]+timeWindow, bound)], m[0], dates, now, loc),
		})
	}
	return out
}

func findDates(page string) []dateToken {
	var out []dateToken
	for _, m := range dateTokenRe.FindAllStringSubmatchIndex(page, -1) {
		month, _ := strconv.Atoi(page[m[2]:m[3]])
		day, _ := strconv.Atoi(page[m[4]:m[5]])
		if month < 1 || month > 12 || day < 1 || day > 31 {
			continue
		}
		out = append(out, dateToken{pos: m[0], month: month, day: day})
	}
	return out
}

// findName prefers the analytics tag, then an image alt text that is not an
// icon or a URL.
func findName(window string) string {
	if m := categoryRe.FindStringSubmatch(window); m != nil {
		if name := strings.TrimSpace(m[1]); name != "" {
			return name
		}
	}
	for _, m := range altRe.FindAllStringSubmatch(window, -1) {
		alt := strings.TrimSpace(m[1])
		if alt == "" || strings.Contains(strings.ToLower(alt), "icon") || strings.Contains(alt, "http") {
			continue
		}
		return alt
	}
	return unknownName
}

func findStart(window string, linkPos int, dates []dateToken, now time.Time, loc *time.Location) time.Time {
	if m := jsonTimeRe.FindStringSubmatch(window); m != nil {
		if t := parseTime(m[1]); !t.IsZero() {
			return t
		}
	}

	hour, minute := defaultHour, 0
	for _, m := range timeTokenRe.FindAllStringSubmatch(window, -1) {
		h, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if h < 24 && mm < 60 {
			hour, minute = h, mm
			break
		}
	}

	month, day := dateFor(linkPos, dates, now.In(loc))
	return resolveYear(month, day, hour, minute, now, loc)
}

// dateFor picks the last date token before pos, then the first token on
// the page, then today.
func dateFor(pos int, dates []dateToken, today time.Time) (time.Month, int) {
	var picked *dateToken
	for i := range dates {
		if dates[i].pos >= pos {
			break
		}
		picked = &dates[i]
	}
	if picked == nil && len(dates) > 0 {
		picked = &dates[0]
	}
	if picked == nil {
		return today.Month(), today.Day()
	}
	return time.Month(picked.month), picked.day
}

// resolveYear assumes the current year unless that puts the date more than
// 48 hours in the past, in which case the stream belongs to next year.
func resolveYear(month time.Month, day, hour, minute int, now time.Time, loc *time.Location) time.Time {
	t := time.Date(now.In(loc).Year(), month, day, hour, minute, 0, 0, loc)
	if t.Before(now.Add(-yearSlack)) {
		t = t.AddDate(1, 0, 0)
	}
	return t
}
