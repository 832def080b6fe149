// Package roster persists the followed-talent list. The pipeline only reads
// it; mutations come from explicit user actions.
package roster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	appLog "vtcal/internal/log"
	"vtcal/internal/model"
	"vtcal/internal/store"
)

const rosterKey = "vtubers"

// ErrChannelRequired rejects talents without a channel id.
var ErrChannelRequired = errors.New("roster: channel id is required")

// Roster reads and writes the talent list in a KV store.
type Roster struct {
	kv store.KV
}

func New(kv store.KV) *Roster {
	return &Roster{kv: kv}
}

// List returns the current roster. A missing key is an empty roster.
func (r *Roster) List(ctx context.Context) ([]model.Talent, error) {
	vals, err := r.kv.Get(ctx, rosterKey)
	if err != nil {
		return nil, fmt.Errorf("roster: list: %w", err)
	}
	raw, ok := vals[rosterKey]
	if !ok || len(raw) == 0 {
		return []model.Talent{}, nil
	}
	var out []model.Talent
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("roster: decode: %w: %w", store.ErrStorage, err)
	}
	return out, nil
}

// Add appends a talent unless one with the same channel id exists.
// It reports whether the roster changed.
func (r *Roster) Add(ctx context.Context, t model.Talent) (bool, error) {
	t.ChannelID = strings.TrimSpace(t.ChannelID)
	t.Name = strings.TrimSpace(t.Name)
	if t.ChannelID == "" {
		return false, ErrChannelRequired
	}
	if t.ID == "" {
		t.ID = t.ChannelID
	}
	if t.Org == "" {
		t.Org = model.OrgIndie
	}
	if t.Color == "" {
		t.Color = model.OrgColor(t.Org)
	}

	current, err := r.List(ctx)
	if err != nil {
		return false, err
	}
	for _, existing := range current {
		if existing.ChannelID == t.ChannelID {
			return false, nil
		}
	}

	if err := r.save(ctx, append(current, t)); err != nil {
		return false, err
	}
	appLog.Info("roster talent added", "channel_id", t.ChannelID, "name", t.Name)
	return true, nil
}

// Remove deletes the talent with the given channel id.
func (r *Roster) Remove(ctx context.Context, channelID string) (bool, error) {
	current, err := r.List(ctx)
	if err != nil {
		return false, err
	}
	kept := make([]model.Talent, 0, len(current))
	for _, t := range current {
		if t.ChannelID != channelID {
			kept = append(kept, t)
		}
	}
	if len(kept) == len(current) {
		return false, nil
	}
	if err := r.save(ctx, kept); err != nil {
		return false, err
	}
	appLog.Info("roster talent removed", "channel_id", channelID)
	return true, nil
}

// RegisterFromEvent follows the talent attributed to an observed event.
func (r *Roster) RegisterFromEvent(ctx context.Context, ev model.Event) (model.Talent, bool, error) {
	org := model.ParseOrg(ev.Channel.Org)
	t := model.Talent{
		ID:        ev.Channel.ID,
		Name:      ev.Channel.Name,
		ChannelID: ev.Channel.ID,
		Org:       org,
		Color:     model.OrgColor(org),
		AvatarURL: ev.Channel.PhotoURL,
	}
	added, err := r.Add(ctx, t)
	return t, added, err
}

func (r *Roster) save(ctx context.Context, talents []model.Talent) error {
	data, err := json.Marshal(talents)
	if err != nil {
		return fmt.Errorf("roster: encode: %w", err)
	}
	if err := r.kv.Set(ctx, map[string][]byte{rosterKey: data}); err != nil {
		return fmt.Errorf("roster: save: %w", err)
	}
	return nil
}
