package source

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vtcal/internal/config"
	"vtcal/internal/model"
)

func TestBuildHonorsEnabledSources(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Sources[config.SourceNijisanji] = config.SourceConfig{Enabled: false}

	srcs := Build(cfg.Snapshot(), nil, Options{Pages: &stubLoader{}, Now: fixedNow(time.Now())})
	require.Len(t, srcs, 2)
	assert.Equal(t, config.SourceHolodex, srcs[0].Name())
	assert.Equal(t, config.SourceHololive, srcs[1].Name())
}

func TestBuildUsesRendererForJSPages(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Sources[config.SourceHolodex] = config.SourceConfig{Enabled: false}
	cfg.Sources[config.SourceHololive] = config.SourceConfig{Enabled: true, RenderJS: true}
	cfg.Sources[config.SourceNijisanji] = config.SourceConfig{Enabled: true}

	pages, renderer := &stubLoader{}, &stubLoader{}
	srcs := Build(cfg.Snapshot(), nil, Options{Pages: pages, Renderer: renderer})
	require.Len(t, srcs, 2)
	assert.Same(t, renderer, srcs[0].(*Hololive).loader)
	assert.Same(t, pages, srcs[1].(*Nijisanji).loader)
}

func TestChannelIDs(t *testing.T) {
	roster := []model.Talent{
		{ChannelID: "UC1"},
		{ChannelID: "hololive_兎田ぺこら"},
		{ChannelID: "UC1"},
		{ChannelID: " UC2 "},
	}
	assert.Equal(t, []string{"UC1", "UC2"}, ChannelIDs(roster))
}
