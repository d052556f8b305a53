package audit

import (
	"context"

	"github.com/sirupsen/logrus"
)

// MultiLogger writes every event to each of its loggers in order. All
// loggers are attempted; the first error is returned.
type MultiLogger struct {
	loggers []Logger
}

// NewMultiLogger creates a logger that fans out to loggers
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	return &MultiLogger{loggers: loggers}
}

// Log implements Logger
func (m *MultiLogger) Log(ctx context.Context, event *Event) error {
	var firstErr error
	for _, l := range m.loggers {
		if err := l.Log(ctx, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// LogrusLogger emits audit events as structured log lines
type LogrusLogger struct {
	logger *logrus.Logger
}

// NewLogrusLogger creates a logger writing to logger
func NewLogrusLogger(logger *logrus.Logger) *LogrusLogger {
	return &LogrusLogger{logger: logger}
}

// Log implements Logger
func (l *LogrusLogger) Log(_ context.Context, event *Event) error {
	entry := l.logger.WithFields(logrus.Fields{
		"audit":         true,
		"firm_id":       event.FirmID,
		"actor_id":      event.ActorID,
		"event_type":    event.Type,
		"status":        event.Status,
		"resource_type": event.ResourceType,
		"resource_id":   event.ResourceID,
		"request_id":    event.RequestID,
	})
	if event.Status == StatusSuccess {
		entry.Info(event.Message)
	} else {
		entry.Warn(event.Message)
	}
	return nil
}
