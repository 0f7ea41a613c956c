package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/castellanhq/castellan/pkg/contextkeys"
)

// RequestIDHeader carries the request id on both requests and responses.
const RequestIDHeader = "X-Request-ID"

// RequestID assigns every request an id, honoring one supplied by a trusted
// upstream proxy. The id is echoed on the response and attached to the
// context for logging and audit correlation.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get(RequestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}

		w.Header().Set(RequestIDHeader, reqID)
		ctx := contextkeys.WithRequestID(r.Context(), reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
