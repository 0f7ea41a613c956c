package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/castellanhq/castellan/pkg/audit"
	"github.com/castellanhq/castellan/pkg/contextkeys"
	"github.com/castellanhq/castellan/pkg/httputil"
	"github.com/castellanhq/castellan/pkg/observability"
)

// RecordSink accepts finished audit records. Satisfied by audit.Writer for
// synchronous inserts and by audit.Dispatcher for queued background delivery.
type RecordSink interface {
	Write(ctx context.Context, record *audit.Record) error
}

// AuditBridge records an audit trail entry for every request that matters:
// mutations, authentication and authorization failures, conflicts, and
// server errors. The bridge runs after the response is sent and can never
// change it; a failed audit write is reported on the operational channel and
// counted, nothing more.
type AuditBridge struct {
	sink    RecordSink
	ops     *logrus.Logger
	metrics *observability.Metrics
}

// NewAuditBridge creates the bridge. ops must be the same independent
// channel the sink's writer uses.
func NewAuditBridge(sink RecordSink, ops *logrus.Logger, metrics *observability.Metrics) *AuditBridge {
	if ops == nil {
		ops = logrus.New()
	}
	return &AuditBridge{sink: sink, ops: ops, metrics: metrics}
}

// Handler wraps next with post-response audit recording. A carrier is
// seeded into the context so the auth middleware, which runs later in the
// chain, can hand the resolved identity back to the bridge.
func (b *AuditBridge) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		carrier := &identityCarrier{}
		r = r.WithContext(withCarrier(r.Context(), carrier))

		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		if rec.status == 0 {
			rec.status = http.StatusOK
		}
		if !shouldAudit(r.Method, rec.status) {
			return
		}

		record := b.buildRecord(r, carrier, rec.status)
		if err := b.sink.Write(r.Context(), record); err != nil {
			if b.metrics != nil {
				b.metrics.AuditBridgeDropsTotal.Inc()
			}
			b.ops.WithFields(logrus.Fields{
				"action":     record.Action,
				"status":     rec.status,
				"request_id": record.RequestID,
			}).WithError(err).Error("audit bridge dropped entry")
		}
	})
}

// shouldAudit reports whether a completed request belongs in the trail.
// Reads that succeed are noise; everything that changed state or was denied
// is evidence.
func shouldAudit(method string, status int) bool {
	if status >= http.StatusInternalServerError {
		return true
	}
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusConflict:
		return true
	}
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	}
	return true
}

func (b *AuditBridge) buildRecord(r *http.Request, carrier *identityCarrier, status int) *audit.Record {
	record := &audit.Record{
		Action:        r.Method + " " + routePattern(r),
		Category:      categoryFor(r, status),
		Status:        outcomeFor(status),
		Severity:      severityFor(status),
		Message:       fmt.Sprintf("%s %s -> %d", r.Method, r.URL.Path, status),
		SourceIP:      clientIP(r),
		UserAgent:     r.UserAgent(),
		RequestID:     contextkeys.GetRequestID(r.Context()),
		CorrelationID: r.Header.Get("X-Correlation-ID"),
		Auth:          audit.AuthMethodNone,
		ActorType:     audit.ActorUser,
		Metadata: map[string]interface{}{
			"http_status": status,
			"path":        r.URL.Path,
		},
	}
	if record.CorrelationID == "" {
		record.CorrelationID = record.RequestID
	}

	claims := carrier.claims
	if claims == nil {
		claims = GetClaims(r)
	}
	if claims != nil {
		record.UserID = claims.UserKey()
		record.Username = claims.PreferredUsername
		record.ClientID = claims.ClientID
		record.SessionID = claims.SessionID
		record.Auth = audit.AuthMethodBearer
	}
	ac := carrier.authz
	if ac == nil {
		ac = GetAuthzContext(r)
	}
	if ac != nil {
		if ac.Superadmin {
			record.PrivilegeLevel = audit.PrivilegeSuperadmin
		} else {
			record.PrivilegeLevel = audit.PrivilegeStandard
		}
		if ids := ac.OrgIDs(); len(ids) == 1 {
			record.OrgID = ids[0]
		}
	}

	return record
}

func categoryFor(r *http.Request, status int) audit.Category {
	switch status {
	case http.StatusUnauthorized:
		return audit.CategoryAuth
	case http.StatusForbidden:
		return audit.CategoryAuthorization
	}
	return audit.CategoryAPI
}

func outcomeFor(status int) audit.Status {
	switch {
	case status >= http.StatusInternalServerError:
		return audit.StatusError
	case status >= http.StatusBadRequest:
		return audit.StatusFailure
	default:
		return audit.StatusSuccess
	}
}

func severityFor(status int) audit.Severity {
	switch {
	case status >= http.StatusInternalServerError:
		return audit.SeverityError
	case status >= http.StatusBadRequest:
		return audit.SeverityWarning
	default:
		return audit.SeverityInfo
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Recovery converts panics into 500 envelopes so one bad handler never
// takes the process down.
func Recovery(logger *observability.Logger, includeStack bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.WithRequest(r.Context()).WithField("panic", fmt.Sprintf("%v", rec)).Error("handler panicked")
					appErr := httputil.NewAppError(http.StatusInternalServerError, httputil.CodeInternalError, "internal server error")
					httputil.WriteAppError(w, appErr, includeStack)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
