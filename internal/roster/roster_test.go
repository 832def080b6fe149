package roster

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vtcal/internal/model"
	"vtcal/internal/store"
)

func newRoster(t *testing.T) *Roster {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "roster.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return New(st)
}

func TestAddDedupesByChannel(t *testing.T) {
	r := newRoster(t)
	ctx := context.Background()

	added, err := r.Add(ctx, model.Talent{Name: "Pekora", ChannelID: "UC1", Org: model.OrgHololive})
	require.NoError(t, err)
	assert.True(t, added)

	added, err = r.Add(ctx, model.Talent{Name: "Pekora again", ChannelID: "UC1"})
	require.NoError(t, err)
	assert.False(t, added)

	list, err := r.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "UC1", list[0].ID)
	assert.Equal(t, "#00bfff", list[0].Color)
}

func TestAddRequiresChannel(t *testing.T) {
	r := newRoster(t)
	_, err := r.Add(context.Background(), model.Talent{Name: "nobody"})
	assert.ErrorIs(t, err, ErrChannelRequired)
}

func TestRemove(t *testing.T) {
	r := newRoster(t)
	ctx := context.Background()

	_, err := r.Add(ctx, model.Talent{Name: "A", ChannelID: "UC1"})
	require.NoError(t, err)
	_, err = r.Add(ctx, model.Talent{Name: "B", ChannelID: "UC2"})
	require.NoError(t, err)

	removed, err := r.Remove(ctx, "UC1")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = r.Remove(ctx, "UC1")
	require.NoError(t, err)
	assert.False(t, removed)

	list, err := r.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "UC2", list[0].ChannelID)
}

func TestRegisterFromEvent(t *testing.T) {
	r := newRoster(t)
	ev := model.Event{
		ID: "abcdefghijk",
		Channel: model.ChannelRef{
			ID:   "nijisanji_ext_1",
			Name: "月ノ美兎",
			Org:  "Nijisanji",
		},
	}

	talent, added, err := r.RegisterFromEvent(context.Background(), ev)
	require.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, model.OrgNijisanji, talent.Org)
	assert.Equal(t, "#ff6b6b", talent.Color)
	assert.Equal(t, "nijisanji_ext_1", talent.ChannelID)
}
