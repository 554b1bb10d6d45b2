package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/MrEthical07/twofa"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

// RequestIDHeader is echoed back on every response.
const RequestIDHeader = "X-Request-Id"

// RequestMetadata copies the client IP, User-Agent and request id into the
// request context. It reuses the id assigned by chi's RequestID middleware
// when that runs first.
func RequestMetadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		id := chimw.GetReqID(ctx)
		if id == "" {
			id = strings.TrimSpace(r.Header.Get(RequestIDHeader))
		}
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)

		ctx = twofa.WithRequestID(ctx, id)
		ctx = twofa.WithClientIP(ctx, ClientIP(r))
		if ua := r.UserAgent(); ua != "" {
			ctx = twofa.WithUserAgent(ctx, ua)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClientIP returns the host part of r.RemoteAddr. Put chi's RealIP
// middleware in front when running behind a trusted proxy.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
