// Package source implements the schedule adapters. Every adapter honors the
// same contract: Fetch never fails. Transport, HTTP and parse problems are
// logged as ErrSourceUnavailable and the adapter returns an empty list, so a
// markup change on one page can only ever hide that page's streams.
package source

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"vtcal/internal/config"
	appLog "vtcal/internal/log"
	"vtcal/internal/model"
)

// ErrSourceUnavailable wraps every adapter-level failure. It never leaves
// this package except through logs.
var ErrSourceUnavailable = errors.New("source unavailable")

// Source is one schedule provider.
type Source interface {
	Name() string
	Fetch(ctx context.Context) []model.Event
}

// PageLoader returns the raw markup of a page.
type PageLoader interface {
	Load(ctx context.Context, url string) ([]byte, error)
}

// liveWindow is how long after its start a scraped stream is assumed to be
// still running.
const liveWindow = 2 * time.Hour

// Options carries the long-lived collaborators adapters share across runs.
type Options struct {
	// Holodex is the shared API client; channels and key are bound per run.
	Holodex *Holodex
	// Pages loads plain HTML pages.
	Pages PageLoader
	// Renderer loads pages through a headless browser. Sources with
	// render_js fall back to Pages when it is nil.
	Renderer PageLoader
	Now      func() time.Time
}

// Build constructs the enabled adapters for one run, in a fixed order
// (structured API first) so aggregation keeps the API's copy of an id.
func Build(cfg config.Config, roster []model.Talent, opts Options) []Source {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	pages := opts.Pages
	if pages == nil {
		pages = NewPageFetcher("", nil)
	}

	var out []Source

	if cfg.Source(config.SourceHolodex).Enabled {
		hd := opts.Holodex
		if hd == nil {
			hd = NewHolodex(cfg.Holodex.BaseURL, nil)
		}
		out = append(out, hd.ForRun(cfg.Holodex.APIKey, ChannelIDs(roster), now))
	}

	loaderFor := func(sc config.SourceConfig) PageLoader {
		if sc.RenderJS && opts.Renderer != nil {
			return opts.Renderer
		}
		return pages
	}

	if sc := cfg.Source(config.SourceHololive); sc.Enabled {
		h := NewHololive(sc.URL, loaderFor(sc))
		h.now = now
		out = append(out, h)
	}
	if sc := cfg.Source(config.SourceNijisanji); sc.Enabled {
		n := NewNijisanji(sc.URL, loaderFor(sc))
		n.now = now
		out = append(out, n)
	}
	return out
}

// ChannelIDs returns the roster's platform channel ids. Placeholder ids
// synthesized from scraped pages (hololive_<name>) are skipped since the
// structured API cannot resolve them.
func ChannelIDs(roster []model.Talent) []string {
	seen := make(map[string]struct{}, len(roster))
	ids := make([]string, 0, len(roster))
	for _, t := range roster {
		id := strings.TrimSpace(t.ChannelID)
		if !strings.HasPrefix(id, "UC") {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}

// unavailable logs a soft adapter failure.
func unavailable(name string, err error) {
	appLog.Error("source fetch failed", fmt.Errorf("%w: %w", ErrSourceUnavailable, err), "source", name)
}

// statusAt derives a status from elapsed time for sources without one.
// Streams older than liveWindow stay upcoming rather than disappearing.
func statusAt(start, now time.Time) model.Status {
	d := start.Sub(now)
	switch {
	case d > 0:
		return model.StatusUpcoming
	case d > -liveWindow:
		return model.StatusLive
	default:
		return model.StatusUpcoming
	}
}

func parseTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.000Z0700"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

var tokyoZone = func() *time.Location {
	loc, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		return time.FixedZone("JST", 9*60*60)
	}
	return loc
}()
