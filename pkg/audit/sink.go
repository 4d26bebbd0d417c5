package audit

import (
	"context"
	"errors"
	"fmt"

	"github.com/platinummonkey/wasteintel/pkg/observability"
)

// Sink persists audit events
type Sink interface {
	Write(ctx context.Context, event *Event) error
}

// LogSink writes audit events to the structured logger
type LogSink struct {
	logger *observability.Logger
}

// NewLogSink creates a sink that logs every event at info level
func NewLogSink(logger *observability.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Write logs the event
func (s *LogSink) Write(ctx context.Context, event *Event) error {
	fields := map[string]interface{}{
		"audit_action":  string(event.Action),
		"resource_type": string(event.ResourceType),
		"success":       event.Success,
	}
	if event.UserID != nil {
		fields["actor_id"] = *event.UserID
	}
	if event.ResourceID != nil {
		fields["resource_id"] = *event.ResourceID
	}
	if event.RequestID != "" {
		fields["request_id"] = event.RequestID
	}
	if event.ErrorMessage != "" {
		fields["error_message"] = event.ErrorMessage
	}
	s.logger.WithFields(fields).Info("audit")
	return nil
}

// MultiSink fans an event out to several sinks
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink creates a sink that writes to every given sink
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// Write writes to every sink, continuing past failures, and joins the errors
func (m *MultiSink) Write(ctx context.Context, event *Event) error {
	var errs []error
	for i, sink := range m.sinks {
		if err := sink.Write(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("sink %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}
