// Package audit emits structured audit events for gateway requests:
// who called, what they asked for, and whether the gateway allowed it.
// Event shapes follow NIST SP 800-53 AU-3 (type, time, source, outcome,
// subject, component, target).
package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Event is a single audit record. Use NewEvent to get the required
// fields populated.
type Event struct {
	Metadata Metadata `json:"metadata"`
	// Type identifies what happened, e.g. authz_decision or token_exchange.
	Type string `json:"type"`
	// LoggedAt is the UTC time the event was recorded.
	LoggedAt time.Time `json:"loggedAt"`
	// Source identifies where the request came from, typically the
	// client IP.
	Source Source `json:"source"`
	// Outcome is one of the Outcome* constants.
	Outcome string `json:"outcome"`
	// Subjects identifies who triggered the event.
	Subjects map[string]string `json:"subjects"`
	// Component is the gateway component that recorded the event.
	Component string `json:"component"`
	// Target describes what the operation acted on, e.g. the tool name
	// or endpoint path.
	Target map[string]string `json:"target,omitempty"`
	// Data carries optional request/response payloads for forensics.
	Data *json.RawMessage `json:"data,omitempty"`
}

// Metadata holds tracking fields that are not part of the event body.
type Metadata struct {
	// AuditID uniquely identifies the event.
	AuditID string `json:"auditId"`
	// Extra carries additional tracking fields such as duration.
	Extra map[string]any `json:"extra,omitempty"`
}

// Source identifies the origin of a request.
type Source struct {
	// Type is the source kind, e.g. "network".
	Type string `json:"type"`
	// Value is the concrete source, e.g. an IP address.
	Value string `json:"value"`
	// Extra carries additional source fields such as the user agent.
	Extra map[string]any `json:"extra,omitempty"`
}

// NewEvent returns an Event with a fresh audit ID and the current UTC time.
func NewEvent(eventType string, source Source, outcome string, subjects map[string]string, component string) *Event {
	return &Event{
		Metadata:  Metadata{AuditID: uuid.New().String()},
		Type:      eventType,
		LoggedAt:  time.Now().UTC(),
		Source:    source,
		Outcome:   outcome,
		Subjects:  subjects,
		Component: component,
	}
}

// WithTarget sets the target of the event.
func (e *Event) WithTarget(target map[string]string) *Event {
	e.Target = target
	return e
}

// WithData sets the data of the event. The caller is responsible for
// passing well-formed JSON.
func (e *Event) WithData(data *json.RawMessage) *Event {
	e.Data = data
	return e
}

// LogTo writes the event to the logger at the given level.
func (e *Event) LogTo(ctx context.Context, logger *slog.Logger, level slog.Level) {
	attrs := []slog.Attr{
		slog.String("audit_id", e.Metadata.AuditID),
		slog.String("type", e.Type),
		slog.Time("logged_at", e.LoggedAt),
		slog.String("outcome", e.Outcome),
		slog.String("component", e.Component),
		slog.Group("source",
			slog.String("type", e.Source.Type),
			slog.String("value", e.Source.Value),
			slog.Any("extra", e.Source.Extra),
		),
		slog.Any("subjects", e.Subjects),
	}

	if e.Target != nil {
		attrs = append(attrs, slog.Any("target", e.Target))
	}
	if e.Metadata.Extra != nil {
		attrs = append(attrs, slog.Group("metadata", slog.Any("extra", e.Metadata.Extra)))
	}
	if e.Data != nil {
		attrs = append(attrs, slog.Any("data", e.Data))
	}

	logger.LogAttrs(ctx, level, "audit_event", attrs...)
}
