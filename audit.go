package phlow

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Audit event kinds. Every terminal branch of an authentication decision
// produces exactly one event tagged with one of these.
const (
	// EventAuthSuccess is an exported constant or variable used by the authentication engine.
	EventAuthSuccess = "auth_success"
	// EventCredentialError is an exported constant or variable used by the authentication engine.
	EventCredentialError = "credential_error"
	// EventRateLimited is an exported constant or variable used by the authentication engine.
	EventRateLimited = "rate_limited"
	// EventUnknownPrincipal is an exported constant or variable used by the authentication engine.
	EventUnknownPrincipal = "unknown_principal"
	// EventDirectoryUnavailable is an exported constant or variable used by the authentication engine.
	EventDirectoryUnavailable = "directory_unavailable"
	// EventTokenInvalid is an exported constant or variable used by the authentication engine.
	EventTokenInvalid = "token_invalid"
	// EventPermissionDenied is an exported constant or variable used by the authentication engine.
	EventPermissionDenied = "permission_denied"
	// EventAgentRegistered is an exported constant or variable used by the authentication engine.
	EventAgentRegistered = "agent_registered"
)

// AuditEvent defines a public type used by phlow APIs.
//
// AuditEvent instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AuditEvent struct {
	ID          string            `json:"id"`
	Timestamp   time.Time         `json:"timestamp"`
	EventType   string            `json:"event_type"`
	PrincipalID string            `json:"principal_id,omitempty"`
	TargetID    string            `json:"target_id,omitempty"`
	IP          string            `json:"ip,omitempty"`
	Success     bool              `json:"success"`
	Error       string            `json:"error,omitempty"`
	Detail      map[string]string `json:"detail,omitempty"`
}

// AuditSink persists batches of audit events. Write returns the events it
// failed to persist, in their original order; a non-nil error marks the whole
// batch as failed. The pipeline requeues failed events for the next cycle.
type AuditSink interface {
	Write(ctx context.Context, events []AuditEvent) ([]AuditEvent, error)
}

// NoOpSink discards audit events.
type NoOpSink struct{}

// Write discards the batch.
func (NoOpSink) Write(context.Context, []AuditEvent) ([]AuditEvent, error) {
	return nil, nil
}

// ChannelSink forwards audit events into a buffered channel, one at a time.
type ChannelSink struct {
	events chan AuditEvent
}

// NewChannelSink creates a [ChannelSink] with the given buffer capacity.
func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{
		events: make(chan AuditEvent, buffer),
	}
}

// Write forwards events until the channel or the context blocks; anything not
// forwarded is returned as failed.
func (s *ChannelSink) Write(ctx context.Context, events []AuditEvent) ([]AuditEvent, error) {
	for i, event := range events {
		select {
		case s.events <- event:
		case <-ctx.Done():
			return events[i:], ctx.Err()
		}
	}
	return nil, nil
}

// Events returns the receive side of the sink channel.
func (s *ChannelSink) Events() <-chan AuditEvent {
	return s.events
}

// JSONWriterSink appends audit events as JSON lines to an io.Writer.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

// NewJSONWriterSink creates a [JSONWriterSink] over w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{
		writer: w,
	}
}

// Write appends one JSON line per event. The first write failure marks that
// event and everything after it as failed.
func (s *JSONWriterSink) Write(_ context.Context, events []AuditEvent) ([]AuditEvent, error) {
	if s == nil || s.writer == nil {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, event := range events {
		data, err := json.Marshal(event)
		if err != nil {
			// Unmarshalable events cannot succeed on retry either; drop this
			// one and keep going.
			continue
		}
		if _, err := s.writer.Write(append(data, '\n')); err != nil {
			return events[i:], err
		}
	}
	return nil, nil
}

// registrySink bridges the audit pipeline to Registry.AppendAuditEvents.
type registrySink struct {
	registry Registry
}

func (s registrySink) Write(ctx context.Context, events []AuditEvent) ([]AuditEvent, error) {
	return s.registry.AppendAuditEvents(ctx, events)
}
