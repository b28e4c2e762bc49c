package middleware

import (
	"log/slog"
	"net/http"
	"time"
)

// NewRequestLogger logs each request on arrival and again when its handler
// returns. For an upgraded socket the second line marks the end of the session.
func NewRequestLogger(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			attrs := []any{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
			}
			if reqMeta, ok := ReqMetadataFrom(r.Context()); ok {
				attrs = append(attrs, slog.String("requestID", reqMeta.RequestID), slog.String("ip", reqMeta.IP))
			}
			reqLogger := logger.With(attrs...)

			start := time.Now()
			reqLogger.Info("Incoming HTTP request", slog.String("userAgent", r.UserAgent()))
			next.ServeHTTP(w, r)
			reqLogger.Debug("HTTP request finished", slog.Duration("elapsed", time.Since(start)))
		})
	}
}
