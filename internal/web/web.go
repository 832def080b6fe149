package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"vtcal/internal/aggregate"
	"vtcal/internal/auth"
	"vtcal/internal/calendar"
	"vtcal/internal/config"
	appLog "vtcal/internal/log"
	"vtcal/internal/match"
	"vtcal/internal/metrics"
	"vtcal/internal/model"
	"vtcal/internal/pipeline"
	"vtcal/internal/roster"
	"vtcal/internal/source"
)

const maxBodyBytes = 64 << 10

// Pipeline is the run/sync surface the API drives.
type Pipeline interface {
	Run(ctx context.Context, trigger pipeline.Trigger) (*pipeline.Result, error)
	Last() *pipeline.Result
	IsSynced(ev model.Event) bool
	CalendarConnected(ctx context.Context) bool
	AddToCalendar(ctx context.Context, ev model.Event) (string, error)
	RemoveFromCalendar(ctx context.Context, calendarEventID string) error
}

// RosterStore is the roster as the API edits it.
type RosterStore interface {
	List(ctx context.Context) ([]model.Talent, error)
	Add(ctx context.Context, t model.Talent) (bool, error)
	Remove(ctx context.Context, channelID string) (bool, error)
	RegisterFromEvent(ctx context.Context, ev model.Event) (model.Talent, bool, error)
}

// ChannelLookup resolves channels for the roster editor.
type ChannelLookup interface {
	SearchChannels(ctx context.Context, query string) ([]model.Talent, error)
	Channel(ctx context.Context, id string) (model.Talent, error)
}

// Deps are the collaborators behind the HTTP API.
type Deps struct {
	Config   func() config.Config
	Pipeline Pipeline
	Roster   RosterStore
	// Channels binds a lookup client to the configured API key.
	Channels func(apiKey string) ChannelLookup
	Matcher  *match.Matcher
	Metrics  *metrics.Metrics
	Now      func() time.Time
}

// Server provides the HTTP API for schedules, the roster and calendar sync.
type Server struct {
	deps Deps
	mux  *http.ServeMux
}

func NewServer(deps Deps) *Server {
	if deps.Matcher == nil {
		deps.Matcher = match.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	s := &Server{deps: deps, mux: http.NewServeMux()}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	cfg := s.deps.Config()
	if basicAuthEnabled(cfg) {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+cfg.Listen)
		return basicAuthMiddleware(cfg.BasicAuth.Username, cfg.BasicAuth.Password, h)
	}
	return h
}

func basicAuthEnabled(cfg config.Config) bool {
	if cfg.BasicAuth == nil {
		return false
	}
	// Empty credentials count as disabled.
	return cfg.BasicAuth.Username != "" && cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func basicAuthMiddleware(username, password string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="vtcal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	appLog.Info("HTTP server stopped")
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/events", s.handleEvents)
	s.mux.HandleFunc("POST /api/refresh", s.handleRefresh)
	s.mux.HandleFunc("GET /api/export.ics", s.handleExport)

	s.mux.HandleFunc("GET /api/roster", s.handleRosterList)
	s.mux.HandleFunc("POST /api/roster", s.handleRosterAdd)
	s.mux.HandleFunc("DELETE /api/roster/{channelID}", s.handleRosterRemove)
	s.mux.HandleFunc("GET /api/search", s.handleSearch)

	s.mux.HandleFunc("GET /api/calendar/status", s.handleCalendarStatus)
	s.mux.HandleFunc("POST /api/calendar/events", s.handleCalendarAdd)
	s.mux.HandleFunc("DELETE /api/calendar/events/{id}", s.handleCalendarRemove)

	if s.deps.Metrics != nil {
		s.mux.Handle("GET /metrics", s.deps.Metrics.Handler())
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// lastEvents returns the events of the last committed run, running one
// first if none exists yet. The run is an auto run so a read never
// cancels the startup refresh.
func (s *Server) lastEvents(ctx context.Context) (*pipeline.Result, error) {
	if res := s.deps.Pipeline.Last(); res != nil {
		return res, nil
	}
	res, err := s.deps.Pipeline.Run(ctx, pipeline.TriggerAuto)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Server) findEvent(ctx context.Context, id string) (model.Event, bool, error) {
	res, err := s.lastEvents(ctx)
	if err != nil {
		return model.Event{}, false, err
	}
	for _, ev := range res.Events {
		if ev.ID == id {
			return ev, true, nil
		}
	}
	return model.Event{}, false, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}

// writeFailure logs err and answers with its user-facing message.
func writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		appLog.Error("api request failed", err, "method", r.Method, "path", r.URL.Path)
	} else {
		appLog.Debug("api request rejected", "method", r.Method, "path", r.URL.Path, "err", err)
	}
	writeError(w, status, pipeline.UserMessage(err))
}

func statusFor(err error) int {
	var apiErr *calendar.APIError
	switch {
	case errors.Is(err, pipeline.ErrRunInFlight), errors.Is(err, pipeline.ErrSuperseded):
		return http.StatusConflict
	case errors.Is(err, auth.ErrNotAuthenticated):
		return http.StatusUnauthorized
	case errors.As(err, &apiErr):
		return http.StatusBadGateway
	case errors.Is(err, source.ErrMissingAPIKey), errors.Is(err, roster.ErrChannelRequired):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func splitIDs(raw string) map[string]bool {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	out := map[string]bool{}
	for _, id := range strings.Split(raw, ",") {
		if id = strings.TrimSpace(id); id != "" {
			out[id] = true
		}
	}
	return out
}

func sortedCopy(events []model.Event) []model.Event {
	out := append([]model.Event(nil), events...)
	aggregate.SortByStart(out)
	return out
}
