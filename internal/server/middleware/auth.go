package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/a-essam23/go-relay/internal/auth"
)

const sessionCookie = "session-token"

// NewAuthMiddleware proves the upgrading user's identity from a session cookie,
// a bearer header or a 'token' query parameter. Without required, requests
// carrying no token pass through anonymously and identify later by announce.
// A token that is present but invalid is always rejected.
func NewAuthMiddleware(logger *slog.Logger, verifier *auth.Verifier, required bool) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {

			// couldn't extract metadata from request so something went wrong with previous middlewares
			reqMeta, ok := ReqMetadataFrom(r.Context())
			if !ok {
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

			tokenString := tokenFrom(r)
			if tokenString == "" || verifier == nil {
				if required {
					logger.Warn("JWT token missing in request", slog.String("ip", reqMeta.IP))
					http.Error(w, "Unauthorized", http.StatusUnauthorized)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			subject, err := verifier.Subject(tokenString)
			if err != nil {
				logger.Warn("Invalid JWT token presented", slog.String("ip", reqMeta.IP), slog.Any("error", err))
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			reqMeta.UserID = subject
			next.ServeHTTP(w, r)
		})
	}
}

func tokenFrom(r *http.Request) string {
	if cookie, err := r.Cookie(sessionCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return r.URL.Query().Get("token")
}
