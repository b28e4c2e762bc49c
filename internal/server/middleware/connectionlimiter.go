package middleware

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/a-essam23/go-relay/pkg/config"
	"github.com/a-essam23/go-relay/pkg/state"
)

// ErrCycled is the close reason given to a connection evicted by a newer one.
var ErrCycled = errors.New("connection cycled by new connection")

const (
	LimitReject = "reject"
	LimitCycle  = "cycle"
)

// Sessions is the part of the presence table the limiter consults.
type Sessions interface {
	GetUserConnectionCount(userID string) (int, error)
	FindOldestUserConnection(userID string) (*state.Connection, bool)
}

// NewConnectionLimiter caps live connections per handshake identity. It must
// run after the auth middleware; anonymous upgrades are not counted. In cycle
// mode the user's oldest connection is closed to make room.
func NewConnectionLimiter(logger *slog.Logger, sessions Sessions, limit config.ConnectionLimitConfig) Middleware {
	logger = logger.With(slog.String("component", "connection_limiter"))
	return func(next http.Handler) http.Handler {
		if limit.MaxPerUser <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqMeta, ok := ReqMetadataFrom(r.Context())
			if !ok {
				logger.Error("Request metadata missing, check middleware order")
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}
			if reqMeta.UserID == "" {
				next.ServeHTTP(w, r)
				return
			}

			count, err := sessions.GetUserConnectionCount(reqMeta.UserID)
			if err != nil {
				logger.Error("Failed to count user connections", slog.Any("error", err))
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}
			if count < limit.MaxPerUser {
				next.ServeHTTP(w, r)
				return
			}

			logger.Warn("User connection limit reached", slog.String("userID", reqMeta.UserID), slog.Int("count", count))
			switch limit.Mode {
			case LimitReject:
				http.Error(w, "Too Many Active Connections", http.StatusTooManyRequests)
			case LimitCycle:
				if oldest, found := sessions.FindOldestUserConnection(reqMeta.UserID); found {
					logger.Info("Closing oldest connection", slog.String("userID", reqMeta.UserID), slog.String("connID", oldest.ID.String()))
					oldest.Transport.Close(ErrCycled)
				}
				next.ServeHTTP(w, r)
			default:
				logger.Error("Invalid connection limit mode", slog.String("mode", limit.Mode))
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		})
	}
}
