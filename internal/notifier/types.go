package notifier

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/osbits/statuswatch/internal/render"
)

// Event describes one observed status change.
type Event struct {
	Previous   string
	Current    string
	ObservedAt time.Time
	RunID      string
	// Tag is set by the first matching rule, e.g. "approved".
	Tag string
	// Link points the recipient back at the portal.
	Link    string
	Service string
}

// Notifier represents a delivery mechanism.
type Notifier interface {
	ID() string
	Notify(ctx context.Context, event Event) error
}

// Factory carries shared dependencies for building notifiers.
type Factory struct {
	Secrets map[string]string
	Render  *render.Engine
}

func (e Event) previousOrUnknown() string {
	if strings.TrimSpace(e.Previous) == "" {
		return "unknown"
	}
	return e.Previous
}

// Subject is the one-line headline used by email and chat notifiers.
func (e Event) Subject() string {
	name := e.Service
	if name == "" {
		name = "statuswatch"
	}
	subject := fmt.Sprintf("%s: status updated to %q", name, e.Current)
	if e.Tag != "" {
		subject = fmt.Sprintf("[%s] %s", strings.ToUpper(e.Tag), subject)
	}
	return subject
}

// Summary is the plain-text body shared by the text based channels.
func (e Event) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Previous status: %s\n", e.previousOrUnknown())
	fmt.Fprintf(&b, "New status: %s\n", e.Current)
	fmt.Fprintf(&b, "Changed at: %s\n", e.ObservedAt.Format("2006-01-02 15:04:05 MST"))
	if e.Link != "" {
		fmt.Fprintf(&b, "Portal: %s\n", e.Link)
	}
	if e.RunID != "" {
		fmt.Fprintf(&b, "Run: %s\n", e.RunID)
	}
	return b.String()
}

// templateData exposes the event to user templates.
func (e Event) templateData() map[string]any {
	return map[string]any{
		"previous":    e.previousOrUnknown(),
		"current":     e.Current,
		"observed_at": e.ObservedAt.Format(time.RFC3339),
		"changed_at":  e.ObservedAt.Format("02/01/2006 15:04:05"),
		"run_id":      e.RunID,
		"tag":         e.Tag,
		"link":        e.Link,
		"service":     e.Service,
		"subject":     e.Subject(),
	}
}
