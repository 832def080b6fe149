package web

import (
	"net/http"
	"time"

	"vtcal/internal/calendar"
	"vtcal/internal/model"
	"vtcal/internal/pipeline"
)

// eventDTO is an event as the UI lists it.
type eventDTO struct {
	model.Event
	Talent   string `json:"talent"`
	Color    string `json:"color"`
	WatchURL string `json:"watch_url"`
	Synced   bool   `json:"synced"`
}

type eventsResponse struct {
	Events    []eventDTO `json:"events"`
	RunID     string     `json:"run_id,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
	Notice    string     `json:"notice,omitempty"`
}

type refreshResponse struct {
	RunID      string               `json:"run_id"`
	Events     int                  `json:"events"`
	New        int                  `json:"new"`
	Pushed     []pipeline.Pushed    `json:"pushed"`
	PushErrors []pipeline.PushError `json:"push_errors"`
	Notice     string               `json:"notice,omitempty"`
}

// handleEvents lists the last aggregated schedule, earliest first.
//
// GET /api/events?source=holodex&status=upcoming
//   - source: keep only events from this adapter
//   - status: keep only events with this status
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	res, err := s.lastEvents(ctx)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	talents, err := s.deps.Roster.List(ctx)
	if err != nil {
		writeFailure(w, r, err)
		return
	}

	q := r.URL.Query()
	wantSource := q.Get("source")
	wantStatus := model.Status(q.Get("status"))

	out := make([]eventDTO, 0, len(res.Events))
	for _, ev := range sortedCopy(res.Events) {
		if wantSource != "" && ev.Source != wantSource {
			continue
		}
		if wantStatus != "" && ev.Status != wantStatus {
			continue
		}
		talent := s.deps.Matcher.ResolveOrPlaceholder(talents, ev)
		name := talent.Name
		if name == "" {
			name = ev.Channel.Name
		}
		out = append(out, eventDTO{
			Event:    ev,
			Talent:   name,
			Color:    talent.Color,
			WatchURL: model.WatchURL(ev.ID),
			Synced:   s.deps.Pipeline.IsSynced(ev),
		})
	}

	writeJSON(w, http.StatusOK, eventsResponse{
		Events:    out,
		RunID:     res.ID.String(),
		UpdatedAt: res.FinishedAt,
		Notice:    res.Notice,
	})
}

// handleRefresh runs the pipeline now, superseding an automatic run.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Pipeline.Run(r.Context(), pipeline.TriggerManual)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, refreshResponse{
		RunID:      res.ID.String(),
		Events:     len(res.Events),
		New:        len(res.New),
		Pushed:     nonNil(res.Pushed),
		PushErrors: nonNil(res.PushErrors),
		Notice:     res.Notice,
	})
}

// handleExport serves the last schedule as an iCalendar file.
//
// GET /api/export.ics?ids=a,b limits the export to the listed event ids.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	res, err := s.lastEvents(ctx)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	talents, err := s.deps.Roster.List(ctx)
	if err != nil {
		writeFailure(w, r, err)
		return
	}

	ids := splitIDs(r.URL.Query().Get("ids"))
	events := make([]model.Event, 0, len(res.Events))
	for _, ev := range sortedCopy(res.Events) {
		if ids == nil || ids[ev.ID] {
			events = append(events, ev)
		}
	}

	body := calendar.ExportICS(events, talents, s.deps.Matcher, s.deps.Now().UTC())
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="vtuber-schedule.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
