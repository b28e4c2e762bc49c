package directory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/a-essam23/go-relay/internal/model"
	"github.com/redis/go-redis/v9"
)

// presence key: im:presence:<user>, value is the unix time the user came online.
// last seen key: im:lastseen:<user>, value is the unix time of the offline transition.
func presenceKey(user string) string { return "im:presence:" + user }
func lastSeenKey(user string) string { return "im:lastseen:" + user }

// RedisMirror decorates a Directory and copies presence transitions into redis
// so that processes without access to the relay can query who is online.
// The wrapped directory is always written first and stays authoritative.
type RedisMirror struct {
	Directory
	rdb    redis.UniversalClient
	ttl    time.Duration
	logger *slog.Logger
}

func NewRedisMirror(next Directory, rdb redis.UniversalClient, ttl time.Duration, logger *slog.Logger) *RedisMirror {
	return &RedisMirror{
		Directory: next,
		rdb:       rdb,
		ttl:       ttl,
		logger:    logger.With(slog.String("component", "presence_mirror")),
	}
}

func (m *RedisMirror) SetOnline(ctx context.Context, userID string) error {
	err := m.Directory.SetOnline(ctx, userID)
	now := strconv.FormatInt(time.Now().Unix(), 10)
	if mErr := m.rdb.Set(ctx, presenceKey(userID), now, m.ttl).Err(); mErr != nil {
		m.logger.Warn("Failed to mirror online status", slog.String("userID", userID), slog.Any("error", mErr))
		err = errors.Join(err, fmt.Errorf("mirror online: %w", mErr))
	}
	return err
}

func (m *RedisMirror) SetOffline(ctx context.Context, userID string, lastSeen time.Time) error {
	err := m.Directory.SetOffline(ctx, userID, lastSeen)
	_, mErr := m.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, presenceKey(userID))
		p.Set(ctx, lastSeenKey(userID), strconv.FormatInt(lastSeen.Unix(), 10), m.ttl)
		return nil
	})
	if mErr != nil {
		m.logger.Warn("Failed to mirror offline status", slog.String("userID", userID), slog.Any("error", mErr))
		err = errors.Join(err, fmt.Errorf("mirror offline: %w", mErr))
	}
	return err
}

// Refresh renews the TTL of the presence keys of userIDs. Keys are only
// extended, never created, so a refresh racing an offline transition cannot
// resurrect the key SetOffline just deleted.
func (m *RedisMirror) Refresh(ctx context.Context, userIDs []string) error {
	if len(userIDs) == 0 || m.ttl <= 0 {
		return nil
	}
	_, err := m.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, id := range userIDs {
			p.Expire(ctx, presenceKey(id), m.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("refresh presence: %w", err)
	}
	return nil
}

// KeepAlive refreshes the keys of online() three times per TTL until ctx is
// done. Without a TTL keys never expire and there is nothing to renew.
func (m *RedisMirror) KeepAlive(ctx context.Context, online func() []string) {
	if m.ttl <= 0 {
		return
	}
	ticker := time.NewTicker(m.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			users := online()
			if err := m.Refresh(ctx, users); err != nil && ctx.Err() == nil {
				m.logger.Warn("Failed to refresh presence keys", slog.Int("users", len(users)), slog.Any("error", err))
			}
		case <-ctx.Done():
			return
		}
	}
}

// FindUser fills Online from the mirror when the wrapped directory has no
// fresher information.
func (m *RedisMirror) FindUser(ctx context.Context, userID string) (*model.User, error) {
	u, err := m.Directory.FindUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !u.Online {
		if online, lErr := m.Online(ctx, userID); lErr == nil {
			u.Online = online
		}
	}
	return u, nil
}

// Online reports whether the mirror currently holds a presence key for userID.
func (m *RedisMirror) Online(ctx context.Context, userID string) (bool, error) {
	err := m.rdb.Get(ctx, presenceKey(userID)).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
