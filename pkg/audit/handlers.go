package audit

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/castellanhq/castellan/pkg/authz"
	"github.com/castellanhq/castellan/pkg/contextkeys"
	"github.com/castellanhq/castellan/pkg/httputil"
	"github.com/castellanhq/castellan/pkg/observability"
)

// Handlers exposes the audit trail over HTTP: search and verification only.
// The mutation routes exist solely to reject with a stable error code, so
// clients probing for an update path get an explicit answer instead of 404.
type Handlers struct {
	searcher *Searcher
	writer   *Writer
	logger   *observability.Logger
}

// NewHandlers creates the audit trail handlers.
func NewHandlers(searcher *Searcher, writer *Writer, logger *observability.Logger) *Handlers {
	return &Handlers{searcher: searcher, writer: writer, logger: logger}
}

// RegisterRoutes attaches the audit routes to the router.
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/audit", h.Search).Methods(http.MethodGet)
	r.HandleFunc("/audit/{uuid}", h.Get).Methods(http.MethodGet)
	r.HandleFunc("/audit/{uuid}/verify", h.Verify).Methods(http.MethodGet)

	r.HandleFunc("/audit/{uuid}", h.RejectMutation).Methods(http.MethodPut, http.MethodPatch, http.MethodDelete)
	r.HandleFunc("/audit", h.RejectMutation).Methods(http.MethodPut, http.MethodPatch, http.MethodDelete)
}

func (h *Handlers) caller(r *http.Request) (*authz.Context, bool) {
	ac, ok := r.Context().Value(contextkeys.AuthzKey).(*authz.Context)
	return ac, ok && ac != nil
}

// canReadAudit reports whether the caller may read the trail for orgID.
// orgID zero means a cross-organization query, superadmin only.
func canReadAudit(ac *authz.Context, orgID int64) bool {
	if ac.Superadmin {
		return true
	}
	if orgID == 0 {
		return false
	}
	return ac.HasPermission(orgID, "audit:read")
}

// Search queries the trail with filters from the query string.
func (h *Handlers) Search(w http.ResponseWriter, r *http.Request) {
	ac, ok := h.caller(r)
	if !ok {
		httputil.WriteAppError(w, httputil.NewAppError(http.StatusUnauthorized, httputil.CodeUnauthorized, "authentication required"), false)
		return
	}

	filter, err := filterFromQuery(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if !canReadAudit(ac, filter.OrgID) {
		httputil.WriteAppError(w, httputil.NewAppError(http.StatusForbidden, httputil.CodeForbidden, "audit:read permission required"), false)
		return
	}

	records, err := h.searcher.Search(r.Context(), filter)
	if err != nil {
		h.logger.WithRequest(r.Context()).WithError(err).Error("audit search failed")
		httputil.WriteError(w, err)
		return
	}
	if records == nil {
		records = []Record{}
	}
	httputil.WriteSuccess(w, records)
}

// Get returns one record by uuid.
func (h *Handlers) Get(w http.ResponseWriter, r *http.Request) {
	ac, ok := h.caller(r)
	if !ok {
		httputil.WriteAppError(w, httputil.NewAppError(http.StatusUnauthorized, httputil.CodeUnauthorized, "authentication required"), false)
		return
	}

	recordUUID := mux.Vars(r)["uuid"]
	record, err := h.searcher.GetByUUID(r.Context(), recordUUID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if !canReadAudit(ac, record.OrgID) {
		httputil.WriteAppError(w, httputil.NewAppError(http.StatusForbidden, httputil.CodeForbidden, "audit:read permission required"), false)
		return
	}
	httputil.WriteSuccess(w, record)
}

// Verify recomputes a record's integrity hash.
func (h *Handlers) Verify(w http.ResponseWriter, r *http.Request) {
	ac, ok := h.caller(r)
	if !ok {
		httputil.WriteAppError(w, httputil.NewAppError(http.StatusUnauthorized, httputil.CodeUnauthorized, "authentication required"), false)
		return
	}

	recordUUID := mux.Vars(r)["uuid"]
	valid, record, err := h.searcher.Verify(r.Context(), recordUUID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if !canReadAudit(ac, record.OrgID) {
		httputil.WriteAppError(w, httputil.NewAppError(http.StatusForbidden, httputil.CodeForbidden, "audit:read permission required"), false)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"uuid":     record.UUID,
		"valid":    valid,
		"expected": ComputeHash(record),
		"stored":   record.Hash,
	})
}

// RejectMutation answers every write-shaped request against the trail with
// the immutability error.
func (h *Handlers) RejectMutation(w http.ResponseWriter, r *http.Request) {
	if h.writer != nil {
		// Routes the rejection through the writer so the mutation metric
		// and operational log fire exactly like programmatic attempts.
		h.writer.Update(r.Context(), 0, nil)
	}
	httputil.WriteAppError(w, httputil.NewAppError(http.StatusBadRequest, httputil.CodeImmutableRecord, ErrImmutableRecord.Error()), false)
}

func filterFromQuery(r *http.Request) (Filter, error) {
	q := r.URL.Query()
	f := Filter{
		UserID:        q.Get("user_id"),
		Action:        q.Get("action"),
		RequestID:     q.Get("request_id"),
		CorrelationID: q.Get("correlation_id"),
		TraceID:       q.Get("trace_id"),
		SourceIP:      q.Get("source_ip"),
		EntityType:    q.Get("entity_type"),
		EntityID:      q.Get("entity_id"),
	}

	if v := q.Get("org_id"); v != "" {
		orgID, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return f, httputil.NewAppError(http.StatusBadRequest, httputil.CodeValidationError, "invalid org_id: "+v)
		}
		f.OrgID = orgID
	}
	for _, c := range splitParam(q.Get("category")) {
		f.Categories = append(f.Categories, Category(c))
	}
	for _, s := range splitParam(q.Get("status")) {
		f.Statuses = append(f.Statuses, Status(s))
	}
	for _, s := range splitParam(q.Get("severity")) {
		f.Severities = append(f.Severities, Severity(s))
	}
	if v := q.Get("min_risk"); v != "" {
		minRisk, err := strconv.Atoi(v)
		if err != nil {
			return f, httputil.NewAppError(http.StatusBadRequest, httputil.CodeValidationError, "invalid min_risk: "+v)
		}
		f.MinRisk = minRisk
	}
	if v := q.Get("from"); v != "" {
		from, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, httputil.NewAppError(http.StatusBadRequest, httputil.CodeValidationError, "invalid from timestamp: "+v)
		}
		f.From = from
	}
	if v := q.Get("to"); v != "" {
		to, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, httputil.NewAppError(http.StatusBadRequest, httputil.CodeValidationError, "invalid to timestamp: "+v)
		}
		f.To = to
	}

	var err error
	if f.Limit, err = httputil.ParseQueryInt(r, "limit", 0); err != nil {
		return f, err
	}
	if f.Offset, err = httputil.ParseQueryInt(r, "offset", 0); err != nil {
		return f, err
	}

	return f, nil
}

func splitParam(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, strings.ToUpper(p))
		}
	}
	return out
}
