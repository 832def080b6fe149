package pipeline

import (
	"context"
	"errors"
	"fmt"

	"vtcal/internal/auth"
	"vtcal/internal/calendar"
	"vtcal/internal/roster"
	"vtcal/internal/source"
	"vtcal/internal/store"
)

// UserMessage maps an error to the text shown to the user. Diagnostics
// stay in the log.
func UserMessage(err error) string {
	var apiErr *calendar.APIError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, auth.ErrNotAuthenticated):
		return "Connect your calendar to sync streams."
	case errors.As(err, &apiErr):
		return fmt.Sprintf("The calendar rejected the request (status %d).", apiErr.Status)
	case errors.Is(err, store.ErrStorage):
		return "Local storage failed, sync progress was not saved. Try again."
	case errors.Is(err, ErrRunInFlight):
		return "A refresh is already running."
	case errors.Is(err, ErrSuperseded):
		return "This refresh was replaced by a newer one."
	case errors.Is(err, source.ErrMissingAPIKey):
		return "Set a Holodex API key to search channels."
	case errors.Is(err, roster.ErrChannelRequired):
		return "A channel id is required."
	case errors.Is(err, context.DeadlineExceeded):
		return "The request timed out."
	default:
		return "Something went wrong. Check the log for details."
	}
}
