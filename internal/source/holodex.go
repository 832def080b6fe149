package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"golang.org/x/time/rate"

	"vtcal/internal/config"
	appLog "vtcal/internal/log"
	"vtcal/internal/model"
)

const (
	holodexDefaultBaseURL = "https://holodex.net/api/v2"
	holodexBatchSize      = 25
	holodexHorizonHours   = 168
	holodexSearchLimit    = 10
	holodexPageSize       = 50
	holodexMaxPages       = 20
)

// ErrMissingAPIKey is returned by the lookup endpoints when no key is set.
var ErrMissingAPIKey = errors.New("holodex api key is not configured")

// Holodex queries the structured schedule API for roster channels.
type Holodex struct {
	baseURL    string
	apiKey     string
	channels   []string
	httpClient *http.Client
	limiter    *rate.Limiter
	now        func() time.Time
}

// NewHolodex constructs a client. The limiter is shared by every copy made
// through ForRun, so concurrent runs and lookups stay within the API quota.
func NewHolodex(baseURL string, client *http.Client) *Holodex {
	if client == nil {
		client = &http.Client{Timeout: fetchTimeout}
	}
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		baseURL = holodexDefaultBaseURL
	}
	return &Holodex{
		baseURL:    baseURL,
		httpClient: client,
		limiter:    rate.NewLimiter(rate.Every(250*time.Millisecond), 4),
		now:        time.Now,
	}
}

// ForRun returns a copy bound to an API key and channel list.
func (h *Holodex) ForRun(apiKey string, channels []string, now func() time.Time) *Holodex {
	cp := *h
	cp.apiKey = strings.TrimSpace(apiKey)
	cp.channels = append([]string(nil), channels...)
	if now != nil {
		cp.now = now
	}
	return &cp
}

func (h *Holodex) Name() string { return config.SourceHolodex }

type holodexChannel struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	EnglishName string `json:"english_name"`
	Org         string `json:"org"`
	Photo       string `json:"photo"`
}

func (c holodexChannel) displayName() string {
	if c.EnglishName != "" {
		return c.EnglishName
	}
	return c.Name
}

type holodexVideo struct {
	ID             string         `json:"id"`
	Title          string         `json:"title"`
	Type           string         `json:"type"`
	Status         string         `json:"status"`
	PublishedAt    string         `json:"published_at"`
	AvailableAt    string         `json:"available_at"`
	StartScheduled string         `json:"start_scheduled"`
	EndActual      string         `json:"end_actual"`
	Channel        holodexChannel `json:"channel"`
}

// Fetch returns upcoming and live streams for the bound channels within
// the next seven days. A missing key or empty channel list yields nothing.
func (h *Holodex) Fetch(ctx context.Context) []model.Event {
	if h.apiKey == "" || len(h.channels) == 0 {
		appLog.Debug("holodex skipped", "has_key", h.apiKey != "", "channels", len(h.channels))
		return nil
	}

	var out []model.Event
	for start := 0; start < len(h.channels); start += holodexBatchSize {
		end := min(start+holodexBatchSize, len(h.channels))
		videos, err := h.liveBatch(ctx, h.channels[start:end])
		if err != nil {
			unavailable(h.Name(), err)
			return nil
		}
		now := h.now()
		for _, v := range videos {
			if v.ID == "" {
				continue
			}
			out = append(out, v.toEvent(now))
		}
	}

	appLog.Info("holodex fetched", "channels", len(h.channels), "events", len(out))
	return out
}

// liveBatch pages through /live for one channel batch until a short page.
func (h *Holodex) liveBatch(ctx context.Context, channels []string) ([]holodexVideo, error) {
	q := url.Values{}
	q.Set("channels", strings.Join(channels, ","))
	q.Set("status", "upcoming,live")
	q.Set("type", "stream")
	q.Set("max_upcoming_hours", fmt.Sprint(holodexHorizonHours))
	q.Set("limit", fmt.Sprint(holodexPageSize))

	var all []holodexVideo
	for page := 0; page < holodexMaxPages; page++ {
		q.Set("offset", fmt.Sprint(page*holodexPageSize))
		var videos []holodexVideo
		if err := h.getJSON(ctx, "/live", q, &videos); err != nil {
			return nil, err
		}
		all = append(all, videos...)
		if len(videos) < holodexPageSize {
			return all, nil
		}
	}
	appLog.Warn("holodex paging stopped at page cap", "channels", len(channels), "videos", len(all))
	return all, nil
}

func (v holodexVideo) toEvent(now time.Time) model.Event {
	start, basis := model.ResolveStart(now,
		parseTime(v.StartScheduled),
		parseTime(v.AvailableAt),
		parseTime(v.PublishedAt),
	)
	ev := model.Event{
		ID:         v.ID,
		Title:      v.Title,
		Source:     config.SourceHolodex,
		Start:      start,
		StartBasis: basis,
		Status:     holodexStatus(v.Status),
		Channel: model.ChannelRef{
			ID:       v.Channel.ID,
			Name:     v.Channel.displayName(),
			Org:      v.Channel.Org,
			PhotoURL: v.Channel.Photo,
		},
	}
	if end := parseTime(v.EndActual); !end.IsZero() {
		ev.End = &end
	}
	return ev
}

func holodexStatus(s string) model.Status {
	switch s {
	case "live":
		return model.StatusLive
	case "past", "missing":
		return model.StatusPast
	default:
		return model.StatusUpcoming
	}
}

type autocompleteHit struct {
	Type  string `json:"type"`
	Value string `json:"value"`
	Text  string `json:"text"`
}

// SearchChannels resolves free text to up to ten channels. Channels whose
// detail lookup fails are skipped.
func (h *Holodex) SearchChannels(ctx context.Context, query string) ([]model.Talent, error) {
	if h.apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return []model.Talent{}, nil
	}

	var hits []autocompleteHit
	if err := h.getJSON(ctx, "/search/autocomplete", url.Values{"q": {query}}, &hits); err != nil {
		return nil, fmt.Errorf("holodex: search: %w", err)
	}

	out := make([]model.Talent, 0, holodexSearchLimit)
	for _, hit := range hits {
		if hit.Type != "channel" || hit.Value == "" {
			continue
		}
		if len(out) == holodexSearchLimit {
			break
		}
		t, err := h.Channel(ctx, hit.Value)
		if err != nil {
			appLog.Warn("holodex channel lookup failed", "channel_id", hit.Value, "err", err)
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// Channel looks up one channel by id.
func (h *Holodex) Channel(ctx context.Context, id string) (model.Talent, error) {
	if h.apiKey == "" {
		return model.Talent{}, ErrMissingAPIKey
	}
	var ch holodexChannel
	if err := h.getJSON(ctx, "/channels/"+url.PathEscape(id), nil, &ch); err != nil {
		return model.Talent{}, fmt.Errorf("holodex: channel %s: %w", id, err)
	}
	org := model.ParseOrg(ch.Org)
	return model.Talent{
		ID:        ch.ID,
		Name:      ch.displayName(),
		ChannelID: ch.ID,
		Org:       org,
		Color:     model.OrgColor(org),
		AvatarURL: ch.Photo,
	}, nil
}

func (h *Holodex) getJSON(ctx context.Context, path string, q url.Values, out any) error {
	endpoint := h.baseURL + path
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	return withRetry(ctx, func() error {
		if err := h.limiter.Wait(ctx); err != nil {
			return retry.Unrecoverable(err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return retry.Unrecoverable(err)
		}
		req.Header.Set("X-APIKEY", h.apiKey)
		req.Header.Set("Accept", "application/json")

		resp, err := h.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return &StatusError{Code: resp.StatusCode, Snippet: snippet(resp.Body)}
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return retry.Unrecoverable(fmt.Errorf("decode %s: %w", path, err))
		}
		return nil
	})
}
