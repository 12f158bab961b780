package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/paperdex/paperdex/pkg/logger"
)

const requestIDHeader = "X-Request-ID"

// RequestID returns middleware that tags every request with an ID. An inbound
// X-Request-ID is honoured so IDs survive proxies; otherwise one is minted.
// The ID lands in the request context for logger.FromContext and is echoed
// back on the response.
func RequestID() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(requestIDHeader)
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set(requestIDHeader, id)
			ctx := logger.WithRequestID(r.Context(), id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
