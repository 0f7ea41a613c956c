package middleware

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/castellanhq/castellan/pkg/contextkeys"
	"github.com/castellanhq/castellan/pkg/observability"
)

// statusRecorder captures the response status and size for logging, metrics,
// and the audit bridge.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

// Logging attaches a request-scoped logger to the context and logs one line
// per completed request with method, path, status, and duration.
func Logging(logger *observability.Logger, metrics *observability.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			reqLogger := logger.WithRequest(r.Context())
			ctx := contextkeys.WithLogger(r.Context(), reqLogger)

			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r.WithContext(ctx))

			if rec.status == 0 {
				rec.status = http.StatusOK
			}
			duration := time.Since(start)

			reqLogger.WithFields(map[string]interface{}{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      rec.status,
				"bytes":       rec.bytes,
				"duration_ms": duration.Milliseconds(),
				"remote_addr": r.RemoteAddr,
			}).Info("request completed")

			if metrics != nil {
				metrics.ObserveHTTPRequest(r.Method, routePattern(r), rec.status, duration)
			}
		})
	}
}

// routePattern returns the mux route template so metrics cardinality stays
// bounded regardless of path parameter values.
func routePattern(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}
