// Package syncstate remembers which events have already been handled
// (notified or pushed), so repeated runs only act on what is new.
package syncstate

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	appLog "vtcal/internal/log"
	"vtcal/internal/model"
	"vtcal/internal/store"
)

const (
	// Namespace prefixes every derived key.
	Namespace = "vtuber_"
	// DefaultLimit bounds the persisted known-set.
	DefaultLimit = 500

	storeKey = "syncedEventIds"
)

// DeriveKey returns the stable sync key of an event. The start time is part
// of the key, so a rescheduled stream is a new occurrence. Starts that were
// only inferred (publish time or "now") are left out since they drift
// between fetches.
func DeriveKey(ev model.Event) string {
	var ts string
	switch ev.StartBasis {
	case model.StartScheduled, model.StartAvailable:
		ts = ev.Start.UTC().Format(time.RFC3339)
	}
	return Namespace + ev.ID + "_" + ts
}

// Tracker holds the known-set: keys in insertion order, oldest first.
// The persisted copy is the source of truth; Load re-reads it and memory
// only changes after a successful write.
type Tracker struct {
	kv    store.KV
	limit int

	mu   sync.RWMutex
	keys []string
	set  map[string]struct{}
}

func NewTracker(kv store.KV, limit int) *Tracker {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Tracker{kv: kv, limit: limit, set: map[string]struct{}{}}
}

// Load replaces the in-memory known-set with the persisted one.
func (t *Tracker) Load(ctx context.Context) error {
	vals, err := t.kv.Get(ctx, storeKey)
	if err != nil {
		return fmt.Errorf("syncstate: load: %w", err)
	}
	var keys []string
	if raw := vals[storeKey]; len(raw) > 0 {
		if err := json.Unmarshal(raw, &keys); err != nil {
			return fmt.Errorf("syncstate: decode: %w: %w", store.ErrStorage, err)
		}
	}
	keys = capKeys(dedupe(keys), t.limit)

	t.mu.Lock()
	t.keys = keys
	t.set = toSet(keys)
	t.mu.Unlock()
	return nil
}

// IsKnown reports whether key was seen as of the last Load or MarkKnown.
func (t *Tracker) IsKnown(key string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.set[key]
	return ok
}

// FindNew returns the events whose key is not known, in input order.
func (t *Tracker) FindNew(events []model.Event) []model.Event {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]model.Event, 0)
	for _, ev := range events {
		if _, ok := t.set[DeriveKey(ev)]; !ok {
			out = append(out, ev)
		}
	}
	return out
}

// MarkKnown appends keys to the known-set, evicts the oldest entries beyond
// the limit and persists the result. On a write failure nothing is marked,
// so the next run sees the same events as new again.
func (t *Tracker) MarkKnown(ctx context.Context, keys []string) error {
	t.mu.RLock()
	merged := make([]string, len(t.keys), len(t.keys)+len(keys))
	copy(merged, t.keys)
	set := toSet(merged)
	t.mu.RUnlock()

	added := 0
	for _, k := range keys {
		if _, ok := set[k]; ok {
			continue
		}
		set[k] = struct{}{}
		merged = append(merged, k)
		added++
	}
	if added == 0 {
		return nil
	}
	merged = capKeys(merged, t.limit)

	data, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("syncstate: encode: %w", err)
	}
	if err := t.kv.Set(ctx, map[string][]byte{storeKey: data}); err != nil {
		return fmt.Errorf("syncstate: save: %w", err)
	}

	t.mu.Lock()
	t.keys = merged
	t.set = toSet(merged)
	t.mu.Unlock()

	appLog.Debug("sync keys committed", "added", added, "known", len(merged))
	return nil
}

// Snapshot returns a copy of the known keys, oldest first.
func (t *Tracker) Snapshot() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]string(nil), t.keys...)
}

// Keys derives the key of every event.
func Keys(events []model.Event) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = DeriveKey(ev)
	}
	return out
}

func capKeys(keys []string, limit int) []string {
	if len(keys) <= limit {
		return keys
	}
	return append([]string(nil), keys[len(keys)-limit:]...)
}

func dedupe(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := keys[:0]
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

func toSet(keys []string) map[string]struct{} {
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return set
}
