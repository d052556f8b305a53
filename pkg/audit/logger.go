package audit

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/caseload/pkg/auth"
	"github.com/platinummonkey/caseload/pkg/contextkeys"
)

// Logger persists audit events
type Logger interface {
	Log(ctx context.Context, event *Event) error
}

// Recorder stamps request details onto events and hands them to a Logger.
// A failed write is logged and never fails the request. A nil Recorder
// drops every event.
type Recorder struct {
	sink   Logger
	logger *logrus.Logger
	now    func() time.Time
}

// NewRecorder creates a recorder writing to sink
func NewRecorder(sink Logger, logger *logrus.Logger) *Recorder {
	return &Recorder{sink: sink, logger: logger, now: time.Now}
}

// Record fills the actor, firm, request id and client details from r and
// logs the event. Fields already set on event are kept.
func (rec *Recorder) Record(r *http.Request, event *Event) {
	if rec == nil || rec.sink == nil || event == nil {
		return
	}
	ctx := r.Context()

	if authCtx := auth.FromContext(ctx); authCtx != nil {
		if event.ActorID == "" {
			event.ActorID = authCtx.UserID
		}
		if event.FirmID == "" {
			event.FirmID = authCtx.FirmID
		}
	}
	if event.Status == "" {
		event.Status = StatusSuccess
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = rec.now().UTC()
	}
	event.RequestID = contextkeys.GetRequestID(ctx)
	event.IPAddress = clientIP(r)
	event.UserAgent = r.UserAgent()
	event.Method = r.Method
	event.Path = r.URL.Path

	if event.FirmID == "" {
		rec.logger.WithField("event_type", event.Type).Warn("audit event without firm dropped")
		return
	}
	if err := rec.sink.Log(ctx, event); err != nil {
		rec.logger.WithError(err).WithFields(logrus.Fields{
			"firm_id":    event.FirmID,
			"event_type": event.Type,
		}).Error("failed to record audit event")
	}
}

// clientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then the
// peer address
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
