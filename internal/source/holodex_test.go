package source

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vtcal/internal/model"
)

func TestHolodexFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/live", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("X-APIKEY"))
		q := r.URL.Query()
		assert.Equal(t, "UC1", q.Get("channels"))
		assert.Equal(t, "upcoming,live", q.Get("status"))
		assert.Equal(t, "stream", q.Get("type"))
		assert.Equal(t, "168", q.Get("max_upcoming_hours"))
		fmt.Fprint(w, `[
			{"id":"v1","title":"Morning","status":"upcoming","start_scheduled":"2025-01-01T10:00:00Z",
			 "channel":{"id":"UC1","name":"兎田ぺこら","english_name":"Usada Pekora","org":"Hololive","photo":"p.png"}},
			{"id":"v2","title":"Premiere","status":"live","available_at":"2025-01-01T08:00:00Z","end_actual":"2025-01-01T09:30:00Z",
			 "channel":{"id":"UC1","name":"兎田ぺこら"}}
		]`)
	}))
	defer srv.Close()

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	h := NewHolodex(srv.URL, srv.Client()).ForRun("secret", []string{"UC1"}, fixedNow(now))

	events := h.Fetch(context.Background())
	require.Len(t, events, 2)

	v1 := events[0]
	assert.Equal(t, "v1", v1.ID)
	assert.Equal(t, "holodex", v1.Source)
	assert.Equal(t, model.StartScheduled, v1.StartBasis)
	assert.True(t, v1.Start.Equal(time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)))
	assert.Nil(t, v1.End)
	assert.Equal(t, v1.Start.Add(2*time.Hour), v1.EffectiveEnd())
	assert.Equal(t, model.StatusUpcoming, v1.Status)
	assert.Equal(t, "Usada Pekora", v1.Channel.Name)
	assert.Equal(t, "UC1", v1.Channel.ID)

	v2 := events[1]
	assert.Equal(t, model.StartAvailable, v2.StartBasis)
	assert.Equal(t, model.StatusLive, v2.Status)
	require.NotNil(t, v2.End)
	assert.True(t, v2.EffectiveEnd().Equal(time.Date(2025, 1, 1, 9, 30, 0, 0, time.UTC)))
}

func TestHolodexStartFallsBackToNow(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	ev := holodexVideo{ID: "v3"}.toEvent(now)
	assert.Equal(t, model.StartNow, ev.StartBasis)
	assert.True(t, ev.Start.Equal(now))
}

func TestHolodexSkipsWithoutKeyOrChannels(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fmt.Fprint(w, `[]`)
	}))
	defer srv.Close()

	base := NewHolodex(srv.URL, srv.Client())
	assert.Empty(t, base.ForRun("", []string{"UC1"}, nil).Fetch(context.Background()))
	assert.Empty(t, base.ForRun("k", nil, nil).Fetch(context.Background()))
	assert.Zero(t, hits.Load())
}

func TestHolodexBatchesChannels(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.LessOrEqual(t, len(strings.Split(r.URL.Query().Get("channels"), ",")), 25)
		fmt.Fprint(w, `[]`)
	}))
	defer srv.Close()

	channels := make([]string, 30)
	for i := range channels {
		channels[i] = fmt.Sprintf("UC%02d", i)
	}
	NewHolodex(srv.URL, srv.Client()).ForRun("k", channels, nil).Fetch(context.Background())
	assert.Equal(t, int32(2), calls.Load())
}

func TestHolodexPagesPastLimit(t *testing.T) {
	var records []string
	for i := range 60 {
		records = append(records, fmt.Sprintf(`{"id":"v%02d","status":"upcoming","start_scheduled":"2025-01-01T10:00:00Z","channel":{"id":"UC%02d"}}`, i, i%25))
	}
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		assert.Positive(t, limit)
		lo := min(offset, len(records))
		hi := min(offset+limit, len(records))
		fmt.Fprint(w, "["+strings.Join(records[lo:hi], ",")+"]")
	}))
	defer srv.Close()

	channels := make([]string, 25)
	for i := range channels {
		channels[i] = fmt.Sprintf("UC%02d", i)
	}
	events := NewHolodex(srv.URL, srv.Client()).ForRun("k", channels, nil).Fetch(context.Background())
	require.Len(t, events, 60)
	assert.Equal(t, "v59", events[59].ID)
	assert.Equal(t, int32(2), calls.Load())
}

func TestHolodexRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "busy", http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `[{"id":"v1","start_scheduled":"2025-01-01T10:00:00Z","channel":{"id":"UC1","name":"a"}}]`)
	}))
	defer srv.Close()

	events := NewHolodex(srv.URL, srv.Client()).ForRun("k", []string{"UC1"}, nil).Fetch(context.Background())
	assert.Len(t, events, 1)
	assert.Equal(t, int32(2), calls.Load())
}

func TestHolodexClientErrorIsEmptyWithoutRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad key", http.StatusForbidden)
	}))
	defer srv.Close()

	events := NewHolodex(srv.URL, srv.Client()).ForRun("k", []string{"UC1"}, nil).Fetch(context.Background())
	assert.Empty(t, events)
	assert.Equal(t, int32(1), calls.Load())
}

func TestHolodexSearchChannels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/search/autocomplete":
			assert.Equal(t, "peko", r.URL.Query().Get("q"))
			fmt.Fprint(w, `[{"type":"topic","value":"singing"},{"type":"channel","value":"UC1","text":"Pekora"},{"type":"channel","value":"UCbroken"}]`)
		case r.URL.Path == "/channels/UC1":
			fmt.Fprint(w, `{"id":"UC1","name":"兎田ぺこら","english_name":"Usada Pekora","org":"Hololive","photo":"p.png"}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	h := NewHolodex(srv.URL, srv.Client()).ForRun("k", nil, nil)
	got, err := h.SearchChannels(context.Background(), "peko")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Usada Pekora", got[0].Name)
	assert.Equal(t, model.OrgHololive, got[0].Org)
	assert.Equal(t, "#00bfff", got[0].Color)
	assert.Equal(t, "p.png", got[0].AvatarURL)

	_, err = NewHolodex(srv.URL, srv.Client()).SearchChannels(context.Background(), "peko")
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}
