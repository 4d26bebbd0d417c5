package audit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/wasteintel/pkg/httputil"
	"github.com/platinummonkey/wasteintel/pkg/observability"
)

// Reader serves audit queries
type Reader interface {
	EventSource
	Get(ctx context.Context, id int64) (*Event, error)
	Stats(ctx context.Context, start, end *time.Time) (*Stats, error)
}

// Handlers provides HTTP handlers for audit log API
type Handlers struct {
	reader Reader
}

// NewHandlers creates new audit handlers
func NewHandlers(reader Reader) *Handlers {
	return &Handlers{reader: reader}
}

// RegisterRoutes registers audit log routes. Callers wrap the router with admin checks.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/audit", h.listEvents).Methods(http.MethodGet)
	router.HandleFunc("/audit/export", h.exportEvents).Methods(http.MethodGet)
	router.HandleFunc("/audit/stats", h.getStats).Methods(http.MethodGet)
	router.HandleFunc("/audit/{id:[0-9]+}", h.getEvent).Methods(http.MethodGet)
}

// listEvents handles GET /audit
func (h *Handlers) listEvents(w http.ResponseWriter, r *http.Request) {
	filter, err := ParseFilter(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	events, err := h.reader.Search(r.Context(), filter)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("audit search failed")
		httputil.WriteInternalError(w)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"events": events,
		"count":  len(events),
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

// getEvent handles GET /audit/{id}
func (h *Handlers) getEvent(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		httputil.WriteBadRequest(w, "invalid event ID")
		return
	}

	event, err := h.reader.Get(r.Context(), id)
	if errors.Is(err, ErrEventNotFound) {
		httputil.WriteNotFound(w, "event not found")
		return
	}
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("audit get failed")
		httputil.WriteInternalError(w)
		return
	}

	httputil.WriteSuccess(w, event)
}

// exportEvents handles GET /audit/export
func (h *Handlers) exportEvents(w http.ResponseWriter, r *http.Request) {
	format, ok := ParseExportFormat(r.URL.Query().Get("format"))
	if !ok {
		httputil.WriteBadRequest(w, "format must be json, ndjson or csv")
		return
	}

	filter, err := ParseFilter(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if r.URL.Query().Get("limit") == "" {
		filter.Limit = MaxLimit
	}

	events, err := h.reader.Search(r.Context(), filter)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("audit export failed")
		httputil.WriteInternalError(w)
		return
	}

	contentType, ext := format.ContentType()
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", "attachment; filename=audit-logs."+ext)
	w.WriteHeader(http.StatusOK)

	if err := Export(w, events, format); err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("audit export write failed")
	}
}

// getStats handles GET /audit/stats
func (h *Handlers) getStats(w http.ResponseWriter, r *http.Request) {
	start, err := httputil.ParseQueryTime(r, "start_time")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	end, err := httputil.ParseQueryTime(r, "end_time")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	stats, err := h.reader.Stats(r.Context(), start, end)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("audit stats failed")
		httputil.WriteInternalError(w)
		return
	}

	httputil.WriteSuccess(w, stats)
}

// ParseFilter parses a search filter from query parameters
func ParseFilter(r *http.Request) (Filter, error) {
	query := r.URL.Query()
	var filter Filter
	var err error

	if filter.StartTime, err = httputil.ParseQueryTime(r, "start_time"); err != nil {
		return filter, err
	}
	if filter.EndTime, err = httputil.ParseQueryTime(r, "end_time"); err != nil {
		return filter, err
	}
	if filter.Success, err = httputil.ParseQueryBool(r, "success"); err != nil {
		return filter, err
	}

	filter.UserID = query.Get("user_id")
	filter.ResourceType = ResourceType(query.Get("resource_type"))
	filter.ResourceID = query.Get("resource_id")
	filter.IPAddress = query.Get("ip_address")

	for _, a := range strings.Split(query.Get("actions"), ",") {
		if a = strings.TrimSpace(a); a != "" {
			filter.Actions = append(filter.Actions, Action(a))
		}
	}

	if filter.Limit, err = httputil.ParseQueryInt(r, "limit", DefaultLimit); err != nil {
		return filter, err
	}
	if filter.Limit < 1 || filter.Limit > MaxLimit {
		return filter, fmt.Errorf("limit must be between 1 and %d", MaxLimit)
	}
	if filter.Offset, err = httputil.ParseQueryInt(r, "offset", 0); err != nil {
		return filter, err
	}
	if filter.Offset < 0 {
		return filter, fmt.Errorf("offset must not be negative")
	}

	filter.Ascending = query.Get("sort_order") == "asc"
	return filter, nil
}
