package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"vtcal/internal/config"
	appLog "vtcal/internal/log"
	"vtcal/internal/model"
)

const nijisanjiDefaultURL = "https://www.nijisanji.jp/streams"

var (
	videoParamRe  = regexp.MustCompile(`v=([A-Za-z0-9_-]{11})`)
	nijiTagRe     = regexp.MustCompile(`【にじさんじ】`)
	trailingSepRe = regexp.MustCompile(`\s*[-/]\s*$`)
	errNoNextData = errors.New("__NEXT_DATA__ not found")
)

// Nijisanji reads the streams list the official site embeds as Next.js
// page data. Pages without it are scraped like the hololive schedule.
type Nijisanji struct {
	url    string
	loader PageLoader
	now    func() time.Time
}

func NewNijisanji(url string, loader PageLoader) *Nijisanji {
	if url == "" {
		url = nijisanjiDefaultURL
	}
	return &Nijisanji{url: url, loader: loader, now: time.Now}
}

func (n *Nijisanji) Name() string { return config.SourceNijisanji }

type nextData struct {
	Props struct {
		PageProps struct {
			Streams []nijiStream `json:"streams"`
		} `json:"pageProps"`
	} `json:"props"`
}

type nijiStream struct {
	ID      string      `json:"id"`
	Title   string      `json:"title"`
	URL     string      `json:"url"`
	StartAt string      `json:"start-at"`
	EndAt   string      `json:"end-at"`
	Status  string      `json:"status"`
	Channel nijiChannel `json:"youtube-channel"`
}

type nijiChannel struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	ThumbnailURL string `json:"thumbnail-url"`
	Liver        *struct {
		ExternalID string `json:"external-id"`
	} `json:"liver"`
}

func (n *Nijisanji) Fetch(ctx context.Context) []model.Event {
	if n.loader == nil {
		unavailable(n.Name(), errors.New("no page loader"))
		return nil
	}
	page, err := n.loader.Load(ctx, n.url)
	if err != nil {
		unavailable(n.Name(), err)
		return nil
	}

	now := n.now()
	out, err := parseNextData(page, now)
	if errors.Is(err, errNoNextData) {
		appLog.Warn("nijisanji page has no __NEXT_DATA__, scanning links")
		out = n.fromLinks(string(page), now)
	} else if err != nil {
		unavailable(n.Name(), err)
		return nil
	}

	appLog.Info("nijisanji fetched", "events", len(out))
	return out
}

func parseNextData(page []byte, now time.Time) ([]model.Event, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	blob := strings.TrimSpace(doc.Find("script#__NEXT_DATA__").First().Text())
	if blob == "" {
		return nil, errNoNextData
	}

	var data nextData
	if err := json.Unmarshal([]byte(blob), &data); err != nil {
		return nil, fmt.Errorf("decode __NEXT_DATA__: %w", err)
	}

	out := make([]model.Event, 0, len(data.Props.PageProps.Streams))
	for _, s := range data.Props.PageProps.Streams {
		id := s.ID
		if m := videoParamRe.FindStringSubmatch(s.URL); m != nil {
			id = m[1]
		}
		if id == "" {
			continue
		}

		start, basis := model.ResolveStart(now, parseTime(s.StartAt), time.Time{}, time.Time{})
		status := statusAt(start, now)
		if s.Status == "on_air" {
			status = model.StatusLive
		}

		channelID := s.Channel.ID
		if s.Channel.Liver != nil && s.Channel.Liver.ExternalID != "" {
			channelID = s.Channel.Liver.ExternalID
		}

		ev := model.Event{
			ID:         id,
			Title:      s.Title,
			Source:     config.SourceNijisanji,
			Start:      start,
			StartBasis: basis,
			Status:     status,
			Channel: model.ChannelRef{
				ID:       channelID,
				Name:     cleanChannelName(s.Channel.Name),
				Org:      "Nijisanji",
				PhotoURL: s.Channel.ThumbnailURL,
			},
		}
		if end := parseTime(s.EndAt); !end.IsZero() && !end.Before(start) {
			ev.End = &end
		}
		out = append(out, ev)
	}
	return out, nil
}

func (n *Nijisanji) fromLinks(page string, now time.Time) []model.Event {
	streams := scanLinks(page, now, tokyoZone)
	out := make([]model.Event, 0, len(streams))
	for _, s := range streams {
		name := cleanChannelName(s.Name)
		out = append(out, model.Event{
			ID:         s.VideoID,
			Title:      name + " の配信",
			Source:     config.SourceNijisanji,
			Start:      s.Start,
			StartBasis: model.StartScheduled,
			Status:     statusAt(s.Start, now),
			Channel: model.ChannelRef{
				ID:   "nijisanji_" + name,
				Name: name,
				Org:  "Nijisanji",
			},
		})
	}
	return out
}

func cleanChannelName(name string) string {
	name = nijiTagRe.ReplaceAllString(name, "")
	name = trailingSepRe.ReplaceAllString(name, "")
	return strings.TrimSpace(name)
}
