package middleware

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/packfinderz-settlement/api/responses"
	"github.com/angelmondragon/packfinderz-settlement/pkg/logger"
)

const maxRequestIDLength = 128

// RequestID echoes an inbound X-Request-Id when it is usable and mints a
// UUID otherwise. The id lands on the response and in the log context.
func RequestID(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := inboundRequestID(r.Header.Get(responses.RequestIDHeader))
			if !ok {
				id = uuid.NewString()
			}
			w.Header().Set(responses.RequestIDHeader, id)

			if logg == nil {
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(logg.WithRequestID(r.Context(), id)))
		})
	}
}

// inboundRequestID accepts printable ASCII without spaces so forged ids cannot
// break log lines.
func inboundRequestID(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || len(raw) > maxRequestIDLength {
		return "", false
	}
	for i := 0; i < len(raw); i++ {
		if c := raw[i]; c <= ' ' || c > '~' {
			return "", false
		}
	}
	return raw, true
}
