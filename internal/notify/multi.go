package notify

import (
	"context"
	"errors"

	"github.com/nerrad567/tailnet-monitor/internal/tracker"
)

// Logger is the logging interface used by LogSink.
type Logger interface {
	Info(msg string, args ...any)
}

// Multi fans an event out to every sink in order. A failing sink does not
// stop delivery to the rest; all errors are joined.
type Multi []tracker.Sink

// Notify calls every non-nil sink.
func (m Multi) Notify(ctx context.Context, ev tracker.Event) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSink writes one info entry per event.
type LogSink struct {
	logger Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Notify logs the event.
func (s *LogSink) Notify(_ context.Context, ev tracker.Event) error {
	if s.logger == nil {
		return nil
	}
	args := []any{
		"event_id", ev.ID,
		"kind", string(ev.Kind),
		"entity_id", ev.EntityID,
		"node_id", ev.NodeID,
		"device_name", ev.DeviceName,
		"user", ev.User,
	}
	for k, v := range ev.Extra {
		args = append(args, k, v)
	}
	s.logger.Info("tailnet event", args...)
	return nil
}
