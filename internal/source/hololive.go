package source

import (
	"context"
	"errors"
	"time"

	"vtcal/internal/config"
	appLog "vtcal/internal/log"
	"vtcal/internal/model"
)

const hololiveDefaultURL = "https://schedule.hololive.tv/"

// Hololive scrapes the official schedule page.
type Hololive struct {
	url    string
	loader PageLoader
	now    func() time.Time
}

func NewHololive(url string, loader PageLoader) *Hololive {
	if url == "" {
		url = hololiveDefaultURL
	}
	return &Hololive{url: url, loader: loader, now: time.Now}
}

func (h *Hololive) Name() string { return config.SourceHololive }

func (h *Hololive) Fetch(ctx context.Context) []model.Event {
	if h.loader == nil {
		unavailable(h.Name(), errors.New("no page loader"))
		return nil
	}
	page, err := h.loader.Load(ctx, h.url)
	if err != nil {
		unavailable(h.Name(), err)
		return nil
	}

	now := h.now()
	streams := scanLinks(string(page), now, tokyoZone)
	if len(streams) == 0 {
		appLog.Warn("hololive page has no video links", "bytes", len(page))
		return nil
	}

	out := make([]model.Event, 0, len(streams))
	for _, s := range streams {
		out = append(out, model.Event{
			ID:         s.VideoID,
			Title:      s.Name + " の配信",
			Source:     config.SourceHololive,
			Start:      s.Start,
			StartBasis: model.StartScheduled,
			Status:     statusAt(s.Start, now),
			Channel: model.ChannelRef{
				ID:   "hololive_" + s.Name,
				Name: s.Name,
				Org:  "Hololive",
			},
		})
	}
	appLog.Info("hololive fetched", "events", len(out))
	return out
}
