// Package pipeline runs one refresh: fetch every source, aggregate, find
// what is new, notify, optionally push to the calendar and commit the sync
// state. A Runner is the explicit session object holding every
// collaborator; there is no package-level state.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"vtcal/internal/aggregate"
	"vtcal/internal/auth"
	"vtcal/internal/calendar"
	"vtcal/internal/config"
	appLog "vtcal/internal/log"
	"vtcal/internal/match"
	"vtcal/internal/metrics"
	"vtcal/internal/model"
	"vtcal/internal/source"
	"vtcal/internal/syncstate"
)

// Trigger says who asked for a run.
type Trigger string

const (
	TriggerAuto   Trigger = "auto"
	TriggerManual Trigger = "manual"
)

const (
	maxConcurrentFetches = 4
	notifyTop            = 3
	defaultFetchTimeout  = 15 * time.Second
)

var (
	// ErrRunInFlight is returned when a run is already active and the new
	// request may not supersede it.
	ErrRunInFlight = errors.New("pipeline: a run is already in flight")
	// ErrSuperseded is returned by a run cancelled in favor of a newer one.
	// A superseded run never commits sync state.
	ErrSuperseded = errors.New("pipeline: run superseded")
)

// RosterReader is the read side of the roster.
type RosterReader interface {
	List(ctx context.Context) ([]model.Talent, error)
}

// SourceBuilder creates the adapters for one run.
type SourceBuilder func(cfg config.Config, roster []model.Talent) []source.Source

// Deps are the Runner's collaborators. Transport and Auth are optional;
// without them calendar push is skipped.
type Deps struct {
	Config    func() config.Config
	Roster    RosterReader
	Sources   SourceBuilder
	Matcher   *match.Matcher
	Tracker   *syncstate.Tracker
	Notifier  Notifier
	Transport calendar.Transport
	Auth      auth.Provider
	Metrics   *metrics.Metrics
	Now       func() time.Time
}

// Pushed links an event to the calendar entry created for it.
type Pushed struct {
	EventID         string `json:"event_id"`
	CalendarEventID string `json:"calendar_event_id"`
}

// PushError is a rejected calendar write for one event.
type PushError struct {
	EventID string `json:"event_id"`
	Status  int    `json:"status"`
	Message string `json:"message"`
}

// Result describes one run.
type Result struct {
	ID         uuid.UUID     `json:"id"`
	Trigger    Trigger       `json:"trigger"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Events     []model.Event `json:"events"`
	New        []model.Event `json:"new"`
	Notified   []model.Event `json:"notified,omitempty"`
	Pushed     []Pushed      `json:"pushed,omitempty"`
	PushErrors []PushError   `json:"push_errors,omitempty"`
	// Notice is a user-facing hint for a recovered condition, such as a
	// disconnected calendar.
	Notice string `json:"notice,omitempty"`
}

type inflight struct {
	trigger    Trigger
	generation uint64
	cancel     context.CancelFunc
	done       chan struct{}
}

// Runner executes runs one at a time.
type Runner struct {
	deps Deps

	mu         sync.Mutex
	current    *inflight
	generation uint64

	commitMu     sync.Mutex
	committedGen uint64
	last         *Result
}

func New(deps Deps) *Runner {
	if deps.Matcher == nil {
		deps.Matcher = match.Default()
	}
	if deps.Notifier == nil {
		deps.Notifier = LogNotifier{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Runner{deps: deps}
}

// acquire takes the in-flight latch. A manual trigger cancels an active
// automatic run and waits for it to exit; anything else fails fast.
func (r *Runner) acquire(ctx context.Context, trigger Trigger) (*inflight, context.Context, error) {
	for {
		r.mu.Lock()
		cur := r.current
		if cur == nil {
			r.generation++
			runCtx, cancel := context.WithCancel(ctx)
			run := &inflight{
				trigger:    trigger,
				generation: r.generation,
				cancel:     cancel,
				done:       make(chan struct{}),
			}
			r.current = run
			r.mu.Unlock()
			return run, runCtx, nil
		}
		if trigger != TriggerManual || cur.trigger != TriggerAuto {
			r.mu.Unlock()
			return nil, nil, ErrRunInFlight
		}
		appLog.Info("manual refresh supersedes running auto refresh", "generation", cur.generation)
		cur.cancel()
		done := cur.done
		r.mu.Unlock()

		select {
		case <-done:
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
	}
}

func (r *Runner) release(run *inflight) {
	r.mu.Lock()
	if r.current == run {
		r.current = nil
	}
	r.mu.Unlock()
	run.cancel()
	close(run.done)
}

// Run executes one refresh. Source failures are absorbed; a storage failure
// is returned together with the partial result.
func (r *Runner) Run(ctx context.Context, trigger Trigger) (*Result, error) {
	run, runCtx, err := r.acquire(ctx, trigger)
	if err != nil {
		return nil, err
	}
	defer r.release(run)

	res := &Result{ID: uuid.New(), Trigger: trigger, StartedAt: r.deps.Now()}
	appLog.Info("pipeline run start", "run_id", res.ID, "trigger", trigger, "generation", run.generation)

	err = r.execute(runCtx, run, res)
	res.FinishedAt = r.deps.Now()

	outcome := "ok"
	switch {
	case errors.Is(err, ErrSuperseded):
		outcome = "superseded"
	case err != nil:
		outcome = "error"
	}
	r.deps.Metrics.RunFinished(string(trigger), outcome, res.FinishedAt.Sub(res.StartedAt), res.FinishedAt)

	if err != nil {
		appLog.Error("pipeline run failed", err, "run_id", res.ID, "trigger", trigger, "events", len(res.Events))
		return res, err
	}
	appLog.Info("pipeline run done",
		"run_id", res.ID,
		"events", len(res.Events),
		"new", len(res.New),
		"pushed", len(res.Pushed),
		"push_errors", len(res.PushErrors),
	)
	return res, nil
}

func (r *Runner) execute(ctx context.Context, run *inflight, res *Result) error {
	cfg := r.deps.Config()

	roster, err := r.deps.Roster.List(ctx)
	if err != nil {
		return fmt.Errorf("pipeline: roster: %w", err)
	}

	results := r.fetchAll(ctx, cfg, r.deps.Sources(cfg, roster))
	if ctx.Err() != nil {
		return ErrSuperseded
	}

	res.Events = aggregate.Aggregate(results, roster, policyFor(cfg), r.deps.Matcher)

	if err := r.deps.Tracker.Load(ctx); err != nil {
		if ctx.Err() != nil {
			return ErrSuperseded
		}
		return fmt.Errorf("pipeline: load sync state: %w", err)
	}
	res.New = r.deps.Tracker.FindNew(res.Events)
	r.deps.Metrics.NewEvents(len(res.New))

	if ctx.Err() != nil {
		return ErrSuperseded
	}

	if cfg.Sync.NotifyOnNewStream && len(res.New) > 0 {
		res.Notified = topUpcoming(res.New, notifyTop)
		if len(res.Notified) > 0 {
			if err := r.deps.Notifier.Notify(ctx, res.Notified, len(res.New)); err != nil {
				appLog.Error("notification failed", err, "run_id", res.ID)
			}
		}
	}

	if cfg.Sync.PushToCalendar && len(res.New) > 0 {
		r.push(ctx, cfg, roster, res)
	}

	return r.commit(ctx, run, res)
}

func (r *Runner) fetchAll(ctx context.Context, cfg config.Config, srcs []source.Source) []aggregate.SourceResult {
	timeout := time.Duration(cfg.FetchTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	results := make([]aggregate.SourceResult, len(srcs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentFetches)
	for i, s := range srcs {
		g.Go(func() error {
			sctx, cancel := context.WithTimeout(gctx, timeout)
			defer cancel()

			events := s.Fetch(sctx)
			results[i] = aggregate.SourceResult{Source: s.Name(), Events: events}
			r.deps.Metrics.SourceFetched(s.Name(), len(events))
			appLog.Debug("source done", "source", s.Name(), "events", len(events))
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (r *Runner) push(ctx context.Context, cfg config.Config, roster []model.Talent, res *Result) {
	if r.deps.Transport == nil || r.deps.Auth == nil {
		return
	}
	if _, err := r.deps.Auth.Token(ctx, false); err != nil {
		if errors.Is(err, auth.ErrNotAuthenticated) {
			res.Notice = UserMessage(auth.ErrNotAuthenticated)
			appLog.Warn("calendar push skipped: not connected", "run_id", res.ID, "new", len(res.New))
			return
		}
		res.Notice = UserMessage(err)
		appLog.Error("calendar token failed", err, "run_id", res.ID)
		return
	}

	for _, ev := range res.New {
		if ctx.Err() != nil {
			return
		}
		talent := r.deps.Matcher.ResolveOrPlaceholder(roster, ev)
		payload := calendar.Project(ev, talent, cfg.Sync.ReminderMinutes)

		id, err := r.deps.Transport.CreateEvent(ctx, cfg.Sync.CalendarID, payload)
		if err != nil {
			r.deps.Metrics.CalendarPush(false)
			if errors.Is(err, auth.ErrNotAuthenticated) {
				res.Notice = UserMessage(err)
				return
			}
			pe := PushError{EventID: ev.ID, Message: err.Error()}
			var apiErr *calendar.APIError
			if errors.As(err, &apiErr) {
				pe.Status = apiErr.Status
				pe.Message = apiErr.Message
			}
			res.PushErrors = append(res.PushErrors, pe)
			appLog.Error("calendar push failed", err, "run_id", res.ID, "event_id", ev.ID)
			continue
		}
		r.deps.Metrics.CalendarPush(true)
		res.Pushed = append(res.Pushed, Pushed{EventID: ev.ID, CalendarEventID: id})
	}
}

// commit persists the keys of the whole aggregated set. A run that was
// cancelled or is older than the last committed one leaves the state alone.
func (r *Runner) commit(ctx context.Context, run *inflight, res *Result) error {
	r.commitMu.Lock()
	defer r.commitMu.Unlock()

	if ctx.Err() != nil || run.generation < r.committedGen {
		appLog.Warn("skipping stale sync commit", "run_id", res.ID, "generation", run.generation, "committed", r.committedGen)
		return ErrSuperseded
	}
	if err := r.deps.Tracker.MarkKnown(ctx, syncstate.Keys(res.Events)); err != nil {
		return fmt.Errorf("pipeline: commit sync state: %w", err)
	}
	r.committedGen = run.generation
	r.last = res
	return nil
}

// Last returns the most recent committed result, or nil.
func (r *Runner) Last() *Result {
	r.commitMu.Lock()
	defer r.commitMu.Unlock()
	return r.last
}

// IsSynced reports whether ev's key is in the known-set as of the last load.
func (r *Runner) IsSynced(ev model.Event) bool {
	return r.deps.Tracker.IsKnown(syncstate.DeriveKey(ev))
}

// CalendarConnected probes for a cached grant without prompting.
func (r *Runner) CalendarConnected(ctx context.Context) bool {
	if r.deps.Auth == nil {
		return false
	}
	_, err := r.deps.Auth.Token(ctx, false)
	return err == nil
}

// AddToCalendar pushes a single event on explicit user request and returns
// the calendar's id for it.
func (r *Runner) AddToCalendar(ctx context.Context, ev model.Event) (string, error) {
	if r.deps.Transport == nil {
		return "", auth.ErrNotAuthenticated
	}
	cfg := r.deps.Config()
	roster, err := r.deps.Roster.List(ctx)
	if err != nil {
		return "", fmt.Errorf("pipeline: roster: %w", err)
	}
	talent := r.deps.Matcher.ResolveOrPlaceholder(roster, ev)
	id, err := r.deps.Transport.CreateEvent(ctx, cfg.Sync.CalendarID, calendar.Project(ev, talent, cfg.Sync.ReminderMinutes))
	r.deps.Metrics.CalendarPush(err == nil)
	if err != nil {
		return "", err
	}
	appLog.Info("event added to calendar", "event_id", ev.ID, "calendar_event_id", id)
	return id, nil
}

// RemoveFromCalendar deletes a calendar entry created earlier.
func (r *Runner) RemoveFromCalendar(ctx context.Context, calendarEventID string) error {
	if r.deps.Transport == nil {
		return auth.ErrNotAuthenticated
	}
	cfg := r.deps.Config()
	if err := r.deps.Transport.DeleteEvent(ctx, cfg.Sync.CalendarID, calendarEventID); err != nil {
		return err
	}
	appLog.Info("calendar event removed", "calendar_event_id", calendarEventID)
	return nil
}

func policyFor(cfg config.Config) aggregate.Policy {
	p := aggregate.Policy{ShowAll: make(map[string]bool, len(cfg.Sources))}
	for name, sc := range cfg.Sources {
		p.ShowAll[name] = sc.ShowAll
	}
	return p
}

// topUpcoming returns the n earliest upcoming events.
func topUpcoming(events []model.Event, n int) []model.Event {
	out := make([]model.Event, 0, len(events))
	for _, ev := range events {
		if ev.Status == model.StatusUpcoming {
			out = append(out, ev)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	if len(out) > n {
		out = out[:n]
	}
	return out
}
