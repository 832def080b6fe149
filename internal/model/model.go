package model

import (
	"strings"
	"time"
)

// DefaultDuration is the inferred length of a stream without an actual end.
const DefaultDuration = 2 * time.Hour

// Status is the lifecycle state of a stream as reported (or inferred) by a source.
type Status string

const (
	StatusUpcoming Status = "upcoming"
	StatusLive     Status = "live"
	StatusPast     Status = "past"
)

// StartBasis records which candidate timestamp produced Event.Start.
type StartBasis string

const (
	StartScheduled StartBasis = "scheduled"
	StartAvailable StartBasis = "available"
	StartPublished StartBasis = "published"
	StartNow       StartBasis = "now"
)

// Org is the agency category of a talent.
type Org string

const (
	OrgHololive  Org = "hololive"
	OrgNijisanji Org = "nijisanji"
	OrgIndie     Org = "indie"
	OrgOther     Org = "other"
)

// ChannelRef is the minimal talent identity a source attaches to an event.
type ChannelRef struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Org      string `json:"org,omitempty"`
	PhotoURL string `json:"photo,omitempty"`
}

// Event is a single stream normalized from any source. It is never
// persisted; every fetch recreates it.
type Event struct {
	// ID is the platform video id; unique within one source.
	ID     string `json:"id"`
	Title  string `json:"title"`
	Source string `json:"source"`

	// Start is the effective start (see ResolveStart); never zero for
	// events produced by an adapter.
	Start      time.Time  `json:"start"`
	StartBasis StartBasis `json:"start_basis"`

	// End is the actual end when the source reports one.
	End *time.Time `json:"end,omitempty"`

	Status  Status     `json:"status"`
	Channel ChannelRef `json:"channel"`
}

// EffectiveEnd returns the actual end when known, otherwise Start plus
// DefaultDuration. The result is never before Start.
func (e Event) EffectiveEnd() time.Time {
	if e.End != nil && !e.End.Before(e.Start) {
		return *e.End
	}
	return e.Start.Add(DefaultDuration)
}

// Talent is a roster entry the user follows.
type Talent struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	ChannelID string `json:"channelId"`
	Org       Org    `json:"org,omitempty"`
	Color     string `json:"color"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// ResolveStart picks the effective start: scheduled, then availability,
// then publish time, then now. Zero candidates are skipped.
func ResolveStart(now time.Time, scheduled, available, published time.Time) (time.Time, StartBasis) {
	switch {
	case !scheduled.IsZero():
		return scheduled, StartScheduled
	case !available.IsZero():
		return available, StartAvailable
	case !published.IsZero():
		return published, StartPublished
	default:
		return now, StartNow
	}
}

// ParseOrg maps a free-form organization label to an Org.
func ParseOrg(label string) Org {
	lower := strings.ToLower(strings.TrimSpace(label))
	switch {
	case lower == "":
		return OrgIndie
	case strings.Contains(lower, "hololive"):
		return OrgHololive
	case strings.Contains(lower, "nijisanji"):
		return OrgNijisanji
	case lower == string(OrgIndie) || lower == "independents":
		return OrgIndie
	default:
		return OrgOther
	}
}

// OrgColor returns the roster display color for an organization.
func OrgColor(org Org) string {
	switch org {
	case OrgHololive:
		return "#00bfff"
	case OrgNijisanji:
		return "#ff6b6b"
	default:
		return "#a855f7"
	}
}

// WatchURL is the canonical watch link for a video id.
func WatchURL(videoID string) string {
	return "https://www.youtube.com/watch?v=" + videoID
}
