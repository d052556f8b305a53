package audit

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/caseload/pkg/auth"
	"github.com/platinummonkey/caseload/pkg/httputil"
)

// Searcher reads a firm's audit trail. *DBLogger implements it.
type Searcher interface {
	Search(ctx context.Context, filter SearchFilter) ([]*Event, int, error)
}

// Handlers serves the audit trail of the caller's firm
type Handlers struct {
	store  Searcher
	logger *logrus.Logger
}

// NewHandlers creates new audit handlers
func NewHandlers(store Searcher, logger *logrus.Logger) *Handlers {
	return &Handlers{store: store, logger: logger}
}

// RegisterRoutes registers the audit routes behind gate
func (h *Handlers) RegisterRoutes(router *mux.Router, gate func(http.Handler) http.Handler) {
	router.Handle("/audit/events", gate(http.HandlerFunc(h.ListEvents))).Methods("GET")
}

// ListEvents handles GET /audit/events. Filters: type (repeatable), actor,
// since and until (RFC 3339), limit and offset.
func (h *Handlers) ListEvents(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.FromContext(r.Context())

	page, ok := httputil.ParsePaginationOrError(w, r)
	if !ok {
		return
	}
	filter := SearchFilter{
		FirmID:  authCtx.FirmID,
		ActorID: r.URL.Query().Get("actor"),
		Limit:   page.Limit,
		Offset:  page.Offset,
	}
	for _, t := range r.URL.Query()["type"] {
		filter.Types = append(filter.Types, EventType(t))
	}

	var err error
	if filter.Since, err = parseTime(r, "since"); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if filter.Until, err = parseTime(r, "until"); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	events, total, err := h.store.Search(r.Context(), filter)
	if err != nil {
		h.logger.WithError(err).Error("failed to search audit events")
		httputil.WriteInternalError(w, "failed to search audit events")
		return
	}
	httputil.WritePage(w, events, total, page)
}

func parseTime(r *http.Request, key string) (*time.Time, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, &timeParamError{key: key}
	}
	return &t, nil
}

type timeParamError struct{ key string }

func (e *timeParamError) Error() string {
	return e.key + " must be an RFC 3339 timestamp"
}
