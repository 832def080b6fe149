package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	appLog "vtcal/internal/log"
	"vtcal/internal/model"
)

// Notifier announces newly discovered streams. top holds at most three of
// the earliest upcoming ones; total is the number of new events found.
type Notifier interface {
	Notify(ctx context.Context, top []model.Event, total int) error
}

var displayZone = func() *time.Location {
	loc, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		return time.FixedZone("JST", 9*60*60)
	}
	return loc
}()

// LogNotifier writes the announcement to the application log.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, top []model.Event, total int) error {
	appLog.Info("new streams found", "count", total, "summary", NotificationText(top, total))
	return nil
}

// NotificationText renders the announcement body, one line per stream.
func NotificationText(top []model.Event, total int) string {
	var b strings.Builder
	if total == 1 {
		b.WriteString("1 new stream scheduled")
	} else {
		fmt.Fprintf(&b, "%d new streams scheduled", total)
	}
	for _, ev := range top {
		fmt.Fprintf(&b, "\n%s %s: %s", ev.Start.In(displayZone).Format("01/02 15:04"), ev.Channel.Name, ev.Title)
	}
	return b.String()
}
