package web

import (
	"context"
	"net/http"
	"strings"

	"vtcal/internal/model"
	"vtcal/internal/source"
)

// addTalentRequest follows a talent either by explicit fields, by channel
// id alone (looked up through Holodex) or by an event id from the last run.
type addTalentRequest struct {
	ChannelID string    `json:"channel_id"`
	Name      string    `json:"name"`
	Org       model.Org `json:"org"`
	AvatarURL string    `json:"avatar_url"`
	EventID   string    `json:"event_id"`
}

type addTalentResponse struct {
	Talent model.Talent `json:"talent"`
	Added  bool         `json:"added"`
}

func (s *Server) handleRosterList(w http.ResponseWriter, r *http.Request) {
	talents, err := s.deps.Roster.List(r.Context())
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, talents)
}

func (s *Server) handleRosterAdd(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req addTalentRequest
	if !decodeBody(w, r, &req) {
		return
	}

	var (
		talent model.Talent
		added  bool
		err    error
	)
	switch {
	case req.EventID != "":
		ev, ok, ferr := s.findEvent(ctx, req.EventID)
		if ferr != nil {
			writeFailure(w, r, ferr)
			return
		}
		if !ok {
			writeError(w, http.StatusNotFound, "event not found")
			return
		}
		talent, added, err = s.deps.Roster.RegisterFromEvent(ctx, ev)

	case strings.TrimSpace(req.Name) == "" && req.ChannelID != "":
		talent, err = s.channels().Channel(ctx, strings.TrimSpace(req.ChannelID))
		if err != nil {
			writeFailure(w, r, err)
			return
		}
		added, err = s.deps.Roster.Add(ctx, talent)

	default:
		talent = model.Talent{
			Name:      req.Name,
			ChannelID: req.ChannelID,
			Org:       req.Org,
			AvatarURL: req.AvatarURL,
		}
		added, err = s.deps.Roster.Add(ctx, talent)
	}
	if err != nil {
		writeFailure(w, r, err)
		return
	}

	status := http.StatusOK
	if added {
		status = http.StatusCreated
	}
	writeJSON(w, status, addTalentResponse{Talent: talent, Added: added})
}

func (s *Server) handleRosterRemove(w http.ResponseWriter, r *http.Request) {
	removed, err := s.deps.Roster.Remove(r.Context(), r.PathValue("channelID"))
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	if !removed {
		writeError(w, http.StatusNotFound, "talent not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSearch resolves free text to channels.
//
// GET /api/search?q=pekora
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	hits, err := s.channels().SearchChannels(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, hits)
}

func (s *Server) channels() ChannelLookup {
	if s.deps.Channels == nil {
		return noLookup{}
	}
	return s.deps.Channels(s.deps.Config().Holodex.APIKey)
}

type noLookup struct{}

func (noLookup) SearchChannels(_ context.Context, _ string) ([]model.Talent, error) {
	return nil, source.ErrMissingAPIKey
}

func (noLookup) Channel(_ context.Context, _ string) (model.Talent, error) {
	return model.Talent{}, source.ErrMissingAPIKey
}
