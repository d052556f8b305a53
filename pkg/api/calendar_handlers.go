package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/caseload/pkg/auth"
	"github.com/platinummonkey/caseload/pkg/calendar"
	"github.com/platinummonkey/caseload/pkg/httputil"
)

// CalendarHandlers serves events and reminders. Visibility and edit rights
// come from the calendar privacy rule, not from resource policies.
type CalendarHandlers struct {
	svc    *calendar.Service
	logger *logrus.Logger
}

// NewCalendarHandlers creates new calendar handlers
func NewCalendarHandlers(svc *calendar.Service, logger *logrus.Logger) *CalendarHandlers {
	return &CalendarHandlers{svc: svc, logger: logger}
}

// RegisterRoutes registers calendar routes
func (h *CalendarHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/calendar", h.List).Methods("GET")
	router.HandleFunc("/calendar", h.Create).Methods("POST")
	router.HandleFunc("/calendar/{entry_id}", h.Get).Methods("GET")
	router.HandleFunc("/calendar/{entry_id}", h.Patch).Methods("PATCH")
	router.HandleFunc("/calendar/{entry_id}", h.Delete).Methods("DELETE")
}

// List returns the entries visible to the caller, optionally filtered by
// kind and a [from, to) window on starts_at
func (h *CalendarHandlers) List(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.FromContext(r.Context())

	page, ok := httputil.ParsePaginationOrError(w, r)
	if !ok {
		return
	}

	opts := calendar.ListOptions{Kind: calendar.Kind(r.URL.Query().Get("kind"))}
	if opts.Kind != "" && !opts.Kind.IsValid() {
		httputil.WriteBadRequest(w, "kind must be event or reminder")
		return
	}
	var err error
	if opts.From, err = parseTimeParam(r, "from"); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if opts.To, err = parseTimeParam(r, "to"); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	entries, err := h.svc.List(r.Context(), authCtx.UserID, authCtx.FirmID, opts)
	if err != nil {
		writeError(w, r, nil, err, "failed to list calendar entries")
		return
	}
	httputil.WritePage(w, paginate(entries, page), len(entries), page)
}

// Create stores a new event or reminder
func (h *CalendarHandlers) Create(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.FromContext(r.Context())

	var entry calendar.Entry
	if !httputil.ParseJSONOrError(w, r, &entry) {
		return
	}

	if err := h.svc.Create(r.Context(), authCtx.UserID, authCtx.FirmID, &entry); err != nil {
		writeError(w, r, nil, err, "failed to create calendar entry")
		return
	}
	httputil.WriteCreated(w, &entry)
}

// Get returns one entry. Entries hidden from the caller answer 404.
func (h *CalendarHandlers) Get(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.FromContext(r.Context())

	entry, err := h.svc.Get(r.Context(), authCtx.UserID, authCtx.FirmID, mux.Vars(r)["entry_id"])
	if err != nil {
		writeError(w, r, nil, err, "failed to get calendar entry")
		return
	}
	httputil.WriteSuccess(w, entry)
}

// Patch applies a partial update. Assignees without edit rights may only
// send {"status": ...}.
func (h *CalendarHandlers) Patch(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.FromContext(r.Context())

	raw, err := httputil.ParseRawPatch(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	entry, err := h.svc.Patch(r.Context(), authCtx.UserID, authCtx.FirmID, mux.Vars(r)["entry_id"], raw)
	if err != nil {
		writeError(w, r, nil, err, "failed to update calendar entry")
		return
	}
	httputil.WriteSuccess(w, entry)
}

// Delete removes an entry
func (h *CalendarHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.FromContext(r.Context())

	if err := h.svc.Delete(r.Context(), authCtx.UserID, authCtx.FirmID, mux.Vars(r)["entry_id"]); err != nil {
		writeError(w, r, nil, err, "failed to delete calendar entry")
		return
	}
	httputil.WriteNoContent(w)
}

func parseTimeParam(r *http.Request, key string) (*time.Time, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %q is not an RFC 3339 timestamp", key, value)
	}
	return &t, nil
}

func paginate[T any](items []T, page httputil.Pagination) []T {
	if page.Offset >= len(items) {
		return []T{}
	}
	end := page.Offset + page.Limit
	if end > len(items) {
		end = len(items)
	}
	return items[page.Offset:end]
}
