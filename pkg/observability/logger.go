package observability

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/caseload/pkg/auth"
	"github.com/platinummonkey/caseload/pkg/contextkeys"
)

// Log output formats
const (
	FormatJSON = "json"
	FormatText = "text"
)

// ParseLevel converts a level name into a logrus level. Unknown names fall
// back to info; "warning" is accepted for warn.
func ParseLevel(level string) logrus.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// NewLogger creates a logrus logger. JSON is the default format; "text" is
// meant for local development.
func NewLogger(level, format string, output io.Writer) *logrus.Logger {
	if output == nil {
		output = os.Stdout
	}

	logger := logrus.New()
	logger.SetOutput(output)
	logger.SetLevel(ParseLevel(level))

	if strings.EqualFold(format, FormatText) {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return logger
}

// ValidFormat reports whether format is a supported log format
func ValidFormat(format string) bool {
	switch strings.ToLower(format) {
	case FormatJSON, FormatText:
		return true
	}
	return false
}

// fallback is used when no request logger was attached to the context
var fallback = logrus.StandardLogger()

// SetFallbackLogger sets the logger returned by LoggerFromContext for
// contexts without a request-scoped entry
func SetFallbackLogger(logger *logrus.Logger) {
	if logger != nil {
		fallback = logger
	}
}

// LoggerFromContext returns the request-scoped entry set by
// httputil.RequestLogger, enriched with the caller's user and firm ids
func LoggerFromContext(ctx context.Context) *logrus.Entry {
	entry, ok := ctx.Value(contextkeys.LoggerKey).(*logrus.Entry)
	if !ok {
		entry = logrus.NewEntry(fallback)
		if requestID := contextkeys.GetRequestID(ctx); requestID != "" {
			entry = entry.WithField("request_id", requestID)
		}
	}

	if authCtx := auth.FromContext(ctx); authCtx != nil {
		entry = entry.WithField("user_id", authCtx.UserID)
		if authCtx.FirmID != "" {
			entry = entry.WithField("firm_id", authCtx.FirmID)
		}
	}
	return entry
}

// WithTraceContext adds the active span's trace and span ids to entry
func WithTraceContext(ctx context.Context, entry *logrus.Entry) *logrus.Entry {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return entry
	}
	sc := span.SpanContext()
	return entry.WithFields(logrus.Fields{
		"trace_id": sc.TraceID().String(),
		"span_id":  sc.SpanID().String(),
	})
}
