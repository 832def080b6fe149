package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"vtcal/internal/auth"
	"vtcal/internal/calendar"
	"vtcal/internal/config"
	"vtcal/internal/match"
	"vtcal/internal/metrics"
	"vtcal/internal/model"
	"vtcal/internal/source"
	"vtcal/internal/store"
	"vtcal/internal/syncstate"
)

var t0 = time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)

type memKV struct {
	mu      sync.Mutex
	data    map[string][]byte
	failSet atomic.Bool
	failGet atomic.Bool
	// inGet, when set, is closed on the first Get, which then blocks
	// until its context is done.
	inGet chan struct{}
}

func newMemKV() *memKV { return &memKV{data: map[string][]byte{}} }

func (m *memKV) Get(ctx context.Context, keys ...string) (map[string][]byte, error) {
	if m.failGet.Load() {
		return nil, fmt.Errorf("read: %w", store.ErrStorage)
	}
	if m.inGet != nil {
		close(m.inGet)
		m.inGet = nil
		<-ctx.Done()
		return nil, fmt.Errorf("read: %w: %w", store.ErrStorage, ctx.Err())
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string][]byte{}
	for _, k := range keys {
		if v, ok := m.data[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (m *memKV) Set(_ context.Context, values map[string][]byte) error {
	if m.failSet.Load() {
		return fmt.Errorf("write: %w", store.ErrStorage)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range values {
		m.data[k] = v
	}
	return nil
}

func (m *memKV) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

type staticRoster []model.Talent

func (r staticRoster) List(context.Context) ([]model.Talent, error) { return r, nil }

type fakeSource struct {
	name    string
	events  []model.Event
	started chan struct{}
	block   bool
}

func (s *fakeSource) Name() string { return s.name }

func (s *fakeSource) Fetch(ctx context.Context) []model.Event {
	if s.started != nil {
		close(s.started)
	}
	if s.block {
		<-ctx.Done()
		return nil
	}
	return s.events
}

type fakeTransport struct {
	mu      sync.Mutex
	created []calendar.Payload
	reject  map[string]error
	deleted []string
}

func (f *fakeTransport) CreateEvent(_ context.Context, _ string, p calendar.Payload) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for needle, err := range f.reject {
		if strings.Contains(p.Description, needle) {
			return "", err
		}
	}
	f.created = append(f.created, p)
	return fmt.Sprintf("cal-%d", len(f.created)), nil
}

func (f *fakeTransport) DeleteEvent(_ context.Context, _, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

type fakeAuth struct{ err error }

func (f fakeAuth) Token(context.Context, bool) (*oauth2.Token, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &oauth2.Token{AccessToken: "tok"}, nil
}

func (fakeAuth) Revoke(context.Context) error { return nil }

type recordingNotifier struct {
	mu    sync.Mutex
	calls [][]model.Event
	total int
}

func (n *recordingNotifier) Notify(_ context.Context, top []model.Event, total int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, top)
	n.total = total
	return nil
}

func upcoming(id, channelID string, start time.Time) model.Event {
	return model.Event{
		ID:         id,
		Title:      "stream " + id,
		Source:     config.SourceHolodex,
		Start:      start,
		StartBasis: model.StartScheduled,
		Status:     model.StatusUpcoming,
		Channel:    model.ChannelRef{ID: channelID, Name: "Pekora"},
	}
}

type harness struct {
	kv        *memKV
	tracker   *syncstate.Tracker
	transport *fakeTransport
	notifier  *recordingNotifier
	cfg       config.Config
	deps      Deps
}

func newHarness(sources func() []source.Source) *harness {
	h := &harness{
		kv:        newMemKV(),
		transport: &fakeTransport{},
		notifier:  &recordingNotifier{},
		cfg:       *config.DefaultConfig(),
	}
	h.cfg.Sync.PushToCalendar = false
	h.tracker = syncstate.NewTracker(h.kv, 0)
	h.deps = Deps{
		Config:    func() config.Config { return h.cfg },
		Roster:    staticRoster{{Name: "Pekora", ChannelID: "UC1"}},
		Sources:   func(config.Config, []model.Talent) []source.Source { return sources() },
		Matcher:   match.Default(),
		Tracker:   h.tracker,
		Notifier:  h.notifier,
		Transport: h.transport,
		Auth:      fakeAuth{},
		Metrics:   metrics.New(),
		Now:       func() time.Time { return t0 },
	}
	return h
}

func single(events ...model.Event) func() []source.Source {
	return func() []source.Source {
		return []source.Source{&fakeSource{name: config.SourceHolodex, events: events}}
	}
}

func TestFirstRunFindsNewSecondRunFindsNothing(t *testing.T) {
	h := newHarness(single(upcoming("v1", "UC1", t0.Add(time.Hour))))
	r := New(h.deps)

	res, err := r.Run(context.Background(), TriggerAuto)
	require.NoError(t, err)
	require.Len(t, res.Events, 1)
	require.Len(t, res.New, 1)
	assert.Equal(t, "v1", res.New[0].ID)
	assert.NotEqual(t, "", res.ID.String())

	res, err = r.Run(context.Background(), TriggerAuto)
	require.NoError(t, err)
	assert.Len(t, res.Events, 1)
	assert.Empty(t, res.New)
	assert.Same(t, res, r.Last())
	assert.True(t, r.IsSynced(res.Events[0]))
}

func TestRescheduledStreamIsNewAgain(t *testing.T) {
	start := t0.Add(time.Hour)
	h := newHarness(func() []source.Source {
		return []source.Source{&fakeSource{name: config.SourceHolodex, events: []model.Event{upcoming("v1", "UC1", start)}}}
	})
	r := New(h.deps)

	_, err := r.Run(context.Background(), TriggerAuto)
	require.NoError(t, err)

	start = start.Add(30 * time.Minute)
	res, err := r.Run(context.Background(), TriggerAuto)
	require.NoError(t, err)
	assert.Len(t, res.New, 1)
}

func TestFailingSourceDoesNotStopOthers(t *testing.T) {
	h := newHarness(func() []source.Source {
		return []source.Source{
			&fakeSource{name: config.SourceHolodex},
			&fakeSource{name: config.SourceNijisanji, events: []model.Event{upcoming("n1", "UC1", t0)}},
		}
	})

	res, err := New(h.deps).Run(context.Background(), TriggerAuto)
	require.NoError(t, err)
	require.Len(t, res.Events, 1)
	assert.Equal(t, "n1", res.Events[0].ID)
}

func TestNotifiesTopThreeUpcoming(t *testing.T) {
	events := []model.Event{
		upcoming("v4", "UC1", t0.Add(4*time.Hour)),
		upcoming("v1", "UC1", t0.Add(1*time.Hour)),
		upcoming("v3", "UC1", t0.Add(3*time.Hour)),
		upcoming("v2", "UC1", t0.Add(2*time.Hour)),
	}
	live := upcoming("live", "UC1", t0)
	live.Status = model.StatusLive
	events = append(events, live)

	h := newHarness(single(events...))
	res, err := New(h.deps).Run(context.Background(), TriggerAuto)
	require.NoError(t, err)

	require.Len(t, h.notifier.calls, 1)
	got := h.notifier.calls[0]
	require.Len(t, got, 3)
	assert.Equal(t, []string{"v1", "v2", "v3"}, []string{got[0].ID, got[1].ID, got[2].ID})
	assert.Equal(t, 5, h.notifier.total)
	assert.Len(t, res.Notified, 3)
}

func TestNotificationDisabled(t *testing.T) {
	h := newHarness(single(upcoming("v1", "UC1", t0.Add(time.Hour))))
	h.cfg.Sync.NotifyOnNewStream = false

	_, err := New(h.deps).Run(context.Background(), TriggerAuto)
	require.NoError(t, err)
	assert.Empty(t, h.notifier.calls)
}

func TestPushWithoutCalendarGrantIsNotice(t *testing.T) {
	h := newHarness(single(upcoming("v1", "UC1", t0.Add(time.Hour))))
	h.cfg.Sync.PushToCalendar = true
	h.deps.Auth = fakeAuth{err: auth.ErrNotAuthenticated}
	r := New(h.deps)

	res, err := r.Run(context.Background(), TriggerAuto)
	require.NoError(t, err)
	assert.Equal(t, "Connect your calendar to sync streams.", res.Notice)
	assert.Empty(t, h.transport.created)
	assert.Len(t, h.tracker.Snapshot(), 1)
	assert.False(t, r.CalendarConnected(context.Background()))
}

func TestPushRecordsPerEventErrors(t *testing.T) {
	h := newHarness(single(
		upcoming("goodVideo01", "UC1", t0.Add(time.Hour)),
		upcoming("badVideo001", "UC1", t0.Add(2*time.Hour)),
	))
	h.cfg.Sync.PushToCalendar = true
	h.transport.reject = map[string]error{
		"badVideo001": &calendar.APIError{Status: 403, Message: "forbidden"},
	}

	res, err := New(h.deps).Run(context.Background(), TriggerAuto)
	require.NoError(t, err)

	require.Len(t, res.Pushed, 1)
	assert.Equal(t, Pushed{EventID: "goodVideo01", CalendarEventID: "cal-1"}, res.Pushed[0])
	require.Len(t, res.PushErrors, 1)
	assert.Equal(t, PushError{EventID: "badVideo001", Status: 403, Message: "forbidden"}, res.PushErrors[0])

	require.Len(t, h.transport.created, 1)
	assert.Equal(t, "🎭 Pekora stream: stream goodVideo01", h.transport.created[0].Summary)
}

func TestStorageFailureCommitsNothing(t *testing.T) {
	h := newHarness(single(upcoming("v1", "UC1", t0.Add(time.Hour))))
	r := New(h.deps)

	h.kv.failSet.Store(true)
	res, err := r.Run(context.Background(), TriggerAuto)
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrStorage)
	require.NotNil(t, res)
	assert.Len(t, res.New, 1)
	assert.Nil(t, r.Last())

	h.kv.failSet.Store(false)
	res, err = r.Run(context.Background(), TriggerAuto)
	require.NoError(t, err)
	assert.Len(t, res.New, 1, "events are new again after a failed commit")
}

func TestLoadFailureIsTerminal(t *testing.T) {
	h := newHarness(single(upcoming("v1", "UC1", t0.Add(time.Hour))))
	h.kv.failGet.Store(true)

	_, err := New(h.deps).Run(context.Background(), TriggerAuto)
	assert.ErrorIs(t, err, store.ErrStorage)
	assert.Empty(t, h.notifier.calls)
}

func TestCancelDuringLoadIsSuperseded(t *testing.T) {
	h := newHarness(single(upcoming("v1", "UC1", t0.Add(time.Hour))))
	inGet := make(chan struct{})
	h.kv.inGet = inGet
	r := New(h.deps)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-inGet
		cancel()
	}()

	_, err := r.Run(ctx, TriggerAuto)
	assert.ErrorIs(t, err, ErrSuperseded)
	assert.NotErrorIs(t, err, store.ErrStorage)
	assert.Nil(t, r.Last())
	assert.Empty(t, h.notifier.calls)
}

func TestConcurrentRunIsRejected(t *testing.T) {
	started := make(chan struct{})
	var calls atomic.Int32
	h := newHarness(func() []source.Source {
		if calls.Add(1) == 1 {
			return []source.Source{&fakeSource{name: config.SourceHolodex, started: started, block: true}}
		}
		return nil
	})
	r := New(h.deps)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := r.Run(ctx, TriggerManual)
		done <- err
	}()
	<-started

	_, err := r.Run(context.Background(), TriggerAuto)
	assert.ErrorIs(t, err, ErrRunInFlight)
	_, err = r.Run(context.Background(), TriggerManual)
	assert.ErrorIs(t, err, ErrRunInFlight)

	cancel()
	assert.ErrorIs(t, <-done, ErrSuperseded)
}

func TestManualSupersedesAuto(t *testing.T) {
	started := make(chan struct{})
	var calls atomic.Int32
	h := newHarness(func() []source.Source {
		if calls.Add(1) == 1 {
			return []source.Source{&fakeSource{name: config.SourceHolodex, started: started, block: true}}
		}
		return []source.Source{&fakeSource{name: config.SourceHolodex, events: []model.Event{upcoming("v1", "UC1", t0.Add(time.Hour))}}}
	})
	r := New(h.deps)

	autoErr := make(chan error, 1)
	go func() {
		_, err := r.Run(context.Background(), TriggerAuto)
		autoErr <- err
	}()
	<-started

	res, err := r.Run(context.Background(), TriggerManual)
	require.NoError(t, err)
	assert.Len(t, res.New, 1)
	assert.Equal(t, TriggerManual, res.Trigger)

	assert.ErrorIs(t, <-autoErr, ErrSuperseded)
	assert.Same(t, res, r.Last())
	assert.Len(t, h.tracker.Snapshot(), 1)
}

func TestAddAndRemoveCalendarEvent(t *testing.T) {
	h := newHarness(single())
	r := New(h.deps)

	id, err := r.AddToCalendar(context.Background(), upcoming("v1", "UC1", t0))
	require.NoError(t, err)
	assert.Equal(t, "cal-1", id)
	require.Len(t, h.transport.created, 1)
	assert.Equal(t, []calendar.Reminder{{Method: "popup", Minutes: 30}}, h.transport.created[0].Reminders.Overrides)

	require.NoError(t, r.RemoveFromCalendar(context.Background(), id))
	assert.Equal(t, []string{"cal-1"}, h.transport.deleted)
	assert.True(t, r.CalendarConnected(context.Background()))
}

func TestAddWithoutTransport(t *testing.T) {
	h := newHarness(single())
	h.deps.Transport = nil

	_, err := New(h.deps).AddToCalendar(context.Background(), upcoming("v1", "UC1", t0))
	assert.ErrorIs(t, err, auth.ErrNotAuthenticated)
}

func TestUserMessage(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{fmt.Errorf("wrap: %w", auth.ErrNotAuthenticated), "Connect your calendar to sync streams."},
		{&calendar.APIError{Status: 403, Message: "no"}, "The calendar rejected the request (status 403)."},
		{fmt.Errorf("save: %w", store.ErrStorage), "Local storage failed, sync progress was not saved. Try again."},
		{ErrRunInFlight, "A refresh is already running."},
		{source.ErrMissingAPIKey, "Set a Holodex API key to search channels."},
		{errors.New("boom"), "Something went wrong. Check the log for details."},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, UserMessage(c.err))
	}
}

func TestNotificationText(t *testing.T) {
	text := NotificationText([]model.Event{upcoming("v1", "UC1", t0)}, 2)
	assert.Equal(t, "2 new streams scheduled\n01/01 19:00 Pekora: stream v1", text)
}
