// Package aggregate merges per-source adapter output into one event list.
//
// Deduplication is by exact event id only. The same real-world stream seen
// by two different sources under different ids is kept twice.
package aggregate

import (
	"sort"

	"vtcal/internal/match"
	"vtcal/internal/model"
)

// SourceResult is one adapter's output for a run.
type SourceResult struct {
	Source string
	Events []model.Event
}

// Policy holds the per-source show-all flags. Sources without an entry are
// filtered to the roster.
type Policy struct {
	ShowAll map[string]bool
}

// Aggregate concatenates results in order, keeps events allowed by the
// policy and drops repeated ids, keeping the first occurrence. Output order
// is not meaningful; see SortByStart.
func Aggregate(results []SourceResult, roster []model.Talent, policy Policy, m *match.Matcher) []model.Event {
	if m == nil {
		m = match.Default()
	}

	total := 0
	for _, r := range results {
		total += len(r.Events)
	}

	seen := make(map[string]struct{}, total)
	out := make([]model.Event, 0, total)
	for _, r := range results {
		showAll := policy.ShowAll[r.Source]
		for _, ev := range r.Events {
			if !showAll && !m.ResolveFilter(roster, ev) {
				continue
			}
			if _, dup := seen[ev.ID]; dup {
				continue
			}
			seen[ev.ID] = struct{}{}
			out = append(out, ev)
		}
	}
	return out
}

// SortByStart orders events by effective start ascending, in place. Ties
// keep their aggregated order.
func SortByStart(events []model.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Start.Before(events[j].Start)
	})
}
