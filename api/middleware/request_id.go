package middleware

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/terminalpay/pkg/logger"
)

const (
	requestIDHeader  = "X-Request-Id"
	cloudTraceHeader = "X-Cloud-Trace-Context"
)

var requestIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// RequestID echoes a well-formed caller request id, reuses the Cloud Load
// Balancer trace id when there is none, and otherwise mints a uuid.
func RequestID(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := requestID(r)
			w.Header().Set(requestIDHeader, reqID)
			ctx := r.Context()
			if logg != nil {
				ctx = logg.WithRequestID(ctx, reqID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func requestID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(requestIDHeader)); requestIDPattern.MatchString(id) {
		return id
	}
	// TRACE_ID/SPAN_ID;o=OPTIONS
	trace, _, _ := strings.Cut(r.Header.Get(cloudTraceHeader), "/")
	if trace = strings.TrimSpace(trace); requestIDPattern.MatchString(trace) {
		return trace
	}
	return uuid.NewString()
}
