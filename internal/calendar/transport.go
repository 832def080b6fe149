package calendar

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	appLog "vtcal/internal/log"
)

// APIError is a calendar write rejected by the service.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("calendar api error %d: %s", e.Status, e.Message)
}

// Transport writes entries to a calendar service.
type Transport interface {
	CreateEvent(ctx context.Context, calendarID string, p Payload) (string, error)
	// DeleteEvent is idempotent: deleting a missing entry succeeds.
	DeleteEvent(ctx context.Context, calendarID, eventID string) error
}

// TokenProvider hands out calendar credentials. Transports always ask
// non-interactively.
type TokenProvider interface {
	Token(ctx context.Context, interactive bool) (*oauth2.Token, error)
}

// GoogleTransport talks to the Google Calendar API.
type GoogleTransport struct {
	tokens   TokenProvider
	endpoint string
	base     *http.Client
}

var _ Transport = (*GoogleTransport)(nil)

type GoogleOption func(*GoogleTransport)

// WithEndpoint overrides the API base URL.
func WithEndpoint(url string) GoogleOption {
	return func(g *GoogleTransport) { g.endpoint = url }
}

// WithBaseClient sets the HTTP client the OAuth transport wraps.
func WithBaseClient(c *http.Client) GoogleOption {
	return func(g *GoogleTransport) { g.base = c }
}

func NewGoogleTransport(tokens TokenProvider, opts ...GoogleOption) *GoogleTransport {
	g := &GoogleTransport{tokens: tokens}
	for _, o := range opts {
		o(g)
	}
	return g
}

func (g *GoogleTransport) service(ctx context.Context) (*gcal.Service, error) {
	tok, err := g.tokens.Token(ctx, false)
	if err != nil {
		return nil, err
	}
	if g.base != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, g.base)
	}
	opts := []option.ClientOption{option.WithHTTPClient(oauth2.NewClient(ctx, oauth2.StaticTokenSource(tok)))}
	if g.endpoint != "" {
		opts = append(opts, option.WithEndpoint(g.endpoint))
	}
	svc, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("calendar: new service: %w", err)
	}
	return svc, nil
}

// CreateEvent inserts p and returns the service's event id.
func (g *GoogleTransport) CreateEvent(ctx context.Context, calendarID string, p Payload) (string, error) {
	svc, err := g.service(ctx)
	if err != nil {
		return "", err
	}
	created, err := svc.Events.Insert(calendarID, toGoogle(p)).Context(ctx).Do()
	if err != nil {
		return "", apiError("create", err)
	}
	appLog.Debug("calendar event created", "calendar_id", calendarID, "event_id", created.Id)
	return created.Id, nil
}

// DeleteEvent removes an entry; 404 and 410 count as already deleted.
func (g *GoogleTransport) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	svc, err := g.service(ctx)
	if err != nil {
		return err
	}
	err = svc.Events.Delete(calendarID, eventID).Context(ctx).Do()
	if err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && (gerr.Code == http.StatusNotFound || gerr.Code == http.StatusGone) {
			return nil
		}
		return apiError("delete", err)
	}
	return nil
}

func apiError(op string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return &APIError{Status: gerr.Code, Message: gerr.Message}
	}
	return fmt.Errorf("calendar: %s: %w", op, err)
}

func toGoogle(p Payload) *gcal.Event {
	overrides := make([]*gcal.EventReminder, 0, len(p.Reminders.Overrides))
	for _, r := range p.Reminders.Overrides {
		overrides = append(overrides, &gcal.EventReminder{Method: r.Method, Minutes: int64(r.Minutes)})
	}
	return &gcal.Event{
		Summary:     p.Summary,
		Description: p.Description,
		Start:       &gcal.EventDateTime{DateTime: p.Start.DateTime, TimeZone: p.Start.TimeZone},
		End:         &gcal.EventDateTime{DateTime: p.End.DateTime, TimeZone: p.End.TimeZone},
		ColorId:     p.ColorID,
		Reminders: &gcal.EventReminders{
			UseDefault: p.Reminders.UseDefault,
			Overrides:  overrides,
			// UseDefault=false is the zero value and would be dropped.
			ForceSendFields: []string{"UseDefault"},
		},
	}
}
