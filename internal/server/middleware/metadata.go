package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

const requestIDHeader = "X-Request-ID"

type contextKey struct{}

// RequestMetadata travels with an upgrade request through the chain. Later
// middlewares fill in what they prove about the caller.
type RequestMetadata struct {
	RequestID string
	IP        string
	UserAgent string
	// UserID is the token subject proven at handshake, empty for anonymous upgrades.
	UserID string
}

func ReqMetadataFrom(ctx context.Context) (*RequestMetadata, bool) {
	reqMeta, ok := ctx.Value(contextKey{}).(*RequestMetadata)
	return reqMeta, ok
}

// RequestMetadataMiddleware must be first in the chain. With trustProxy the
// client address is taken from X-Forwarded-For or X-Real-IP when present.
func RequestMetadataMiddleware(trustProxy bool) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := r.Header.Get(requestIDHeader)
			if reqID == "" {
				reqID = uuid.NewString()
			}
			w.Header().Set(requestIDHeader, reqID)

			reqMeta := &RequestMetadata{
				RequestID: reqID,
				IP:        clientIP(r, trustProxy),
				UserAgent: r.UserAgent(),
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextKey{}, reqMeta)))
		})
	}
}

func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if ip := r.Header.Get("X-Real-IP"); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
