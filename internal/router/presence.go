package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/a-essam23/go-relay/internal/errs"
	"github.com/a-essam23/go-relay/pkg/state"
)

// handleAnnounce binds the connection to a user. The identity must match the
// handshake subject when there is one, or be proven by a token when required.
func (r *EventRouter) handleAnnounce(c *call, ev Event) error {
	e := ev.(AnnounceEvent)
	if err := r.authorizeAnnounce(c, e); err != nil {
		return err
	}

	unlock := r.presence.lock(e.UserID)
	defer unlock()

	first, err := r.state.Bind(c.conn.ID, e.UserID)
	if err != nil {
		if errors.Is(err, state.ErrAlreadyBound) {
			return fmt.Errorf("%w: %w", errs.ErrUnauthorized, err)
		}
		return err
	}
	c.conn.UserID = e.UserID

	if first {
		if err := r.directory.SetOnline(c.ctx, e.UserID); err != nil {
			// presence stays correct in memory; the durable record catches up on the next transition
			c.logger.Warn("Failed to persist online status", slog.Any("error", err))
		}
		r.broadcastAll(OutUserOnline, presencePayload{UserID: e.UserID})
		c.logger.Info("User came online", slog.String("userID", e.UserID))
	}

	r.sendTo(c.conn.ID, OutOnlineUsers, onlineUsersPayload{Users: r.state.OnlineUsers()})
	return nil
}

func (r *EventRouter) authorizeAnnounce(c *call, e AnnounceEvent) error {
	if c.conn.Subject != "" {
		if c.conn.Subject != e.UserID {
			return fmt.Errorf("%w: handshake identity does not match '%s'", errs.ErrUnauthorized, e.UserID)
		}
		return nil
	}
	if e.Token == "" {
		if r.opts.AuthRequired {
			return fmt.Errorf("%w: announce requires a token", errs.ErrUnauthorized)
		}
		return nil
	}
	if r.opts.Verifier == nil {
		return nil
	}
	subject, err := r.opts.Verifier.Subject(e.Token)
	if err != nil {
		return fmt.Errorf("%w: %w", errs.ErrUnauthorized, err)
	}
	if subject != e.UserID {
		return fmt.Errorf("%w: token subject does not match '%s'", errs.ErrUnauthorized, e.UserID)
	}
	return nil
}

func (r *EventRouter) handleJoinRoom(c *call, ev Event) error {
	e := ev.(RoomEvent)
	if err := r.clientRoom(e.RoomID); err != nil {
		return err
	}
	return r.state.Join(c.conn.ID, e.RoomID)
}

func (r *EventRouter) handleLeaveRoom(c *call, ev Event) error {
	e := ev.(RoomEvent)
	if err := r.clientRoom(e.RoomID); err != nil {
		return err
	}
	return r.state.Leave(c.conn.ID, e.RoomID)
}

// handleTyping relays a typing indicator without touching the store.
func (r *EventRouter) handleTyping(c *call, ev Event) error {
	e := ev.(TypingEvent)
	payload := typingPayload{
		From:        c.conn.UserID,
		RoomID:      e.RoomID,
		RecipientID: e.RecipientID,
		IsTyping:    e.IsTyping,
	}
	if e.RoomID != "" {
		if err := r.clientRoom(e.RoomID); err != nil {
			return err
		}
		r.broadcast(e.RoomID, OutTyping, payload)
		return nil
	}
	r.broadcastToUsers(OutTyping, payload, e.RecipientID)
	return nil
}

// wentOffline publishes the offline edge of userID. It waits for any announce
// of the same user still publishing its online edge, then skips the notice if
// that announce left the user online.
func (r *EventRouter) wentOffline(userID string) {
	unlock := r.presence.lock(userID)
	defer unlock()

	if r.state.IsOnline(userID) {
		r.logger.Debug("User reconnected before going offline", slog.String("userID", userID))
		return
	}
	lastSeen := r.now().UTC()
	ctx, cancel := context.WithTimeout(context.Background(), r.opts.PresenceTimeout)
	defer cancel()
	if err := r.directory.SetOffline(ctx, userID, lastSeen); err != nil {
		r.logger.Warn("Failed to persist offline status", slog.String("userID", userID), slog.Any("error", err))
	}
	r.broadcastAll(OutUserOffline, presencePayload{UserID: userID, LastSeen: &lastSeen})
	r.logger.Info("User went offline", slog.String("userID", userID))
}

// userLocks serializes the presence edges of one user: bind, durable write and
// broadcast happen as a unit so peers never see them out of order.
type userLocks struct {
	mu    sync.Mutex
	locks map[string]*userLock
}

type userLock struct {
	sync.Mutex
	refs int
}

func newUserLocks() *userLocks {
	return &userLocks{locks: make(map[string]*userLock)}
}

func (l *userLocks) lock(userID string) (unlock func()) {
	l.mu.Lock()
	ul, ok := l.locks[userID]
	if !ok {
		ul = &userLock{}
		l.locks[userID] = ul
	}
	ul.refs++
	l.mu.Unlock()

	ul.Lock()
	return func() {
		ul.Unlock()
		l.mu.Lock()
		ul.refs--
		if ul.refs == 0 {
			delete(l.locks, userID)
		}
		l.mu.Unlock()
	}
}

// clientRoom validates a room id supplied by a client. Pairing rooms are
// joined by the server only.
func (r *EventRouter) clientRoom(roomID string) error {
	kind, err := state.ParseRoom(roomID, r.opts.FixedRoom)
	if err != nil {
		return fmt.Errorf("%w: %w", errs.ErrInvalidEvent, err)
	}
	if kind == state.RoomPairing {
		return fmt.Errorf("%w: room '%s' is managed by the server", errs.ErrInvalidEvent, roomID)
	}
	return nil
}
