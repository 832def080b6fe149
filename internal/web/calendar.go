package web

import (
	"net/http"
)

type calendarStatusResponse struct {
	Connected      bool `json:"connected"`
	PushToCalendar bool `json:"push_to_calendar"`
	AutoSync       bool `json:"auto_sync"`
	Notify         bool `json:"notify_on_new_stream"`
}

type addCalendarRequest struct {
	EventID string `json:"event_id"`
}

type addCalendarResponse struct {
	CalendarEventID string `json:"calendar_event_id"`
}

func (s *Server) handleCalendarStatus(w http.ResponseWriter, r *http.Request) {
	cfg := s.deps.Config()
	writeJSON(w, http.StatusOK, calendarStatusResponse{
		Connected:      s.deps.Pipeline.CalendarConnected(r.Context()),
		PushToCalendar: cfg.Sync.PushToCalendar,
		AutoSync:       cfg.Sync.AutoSync,
		Notify:         cfg.Sync.NotifyOnNewStream,
	})
}

// handleCalendarAdd pushes one event from the last run to the calendar.
func (s *Server) handleCalendarAdd(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req addCalendarRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.EventID == "" {
		writeError(w, http.StatusBadRequest, "event_id is required")
		return
	}
	ev, ok, err := s.findEvent(ctx, req.EventID)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "event not found")
		return
	}

	id, err := s.deps.Pipeline.AddToCalendar(ctx, ev)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, addCalendarResponse{CalendarEventID: id})
}

func (s *Server) handleCalendarRemove(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Pipeline.RemoveFromCalendar(r.Context(), r.PathValue("id")); err != nil {
		writeFailure(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
