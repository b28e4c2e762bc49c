// Package pairing keeps the short-lived sessions of the device-link handshake.
package pairing

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/a-essam23/go-relay/internal/errs"
	"github.com/a-essam23/go-relay/pkg/state"
	"github.com/google/uuid"
)

var ErrClosed = errors.New("pairing table is closed")

// ClientInfo describes the primary client that requested a code.
type ClientInfo struct {
	IPAddress string `json:"ipAddress,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
	Label     string `json:"label,omitempty"`
}

type Session struct {
	Code string
	// ConnID is the primary connection joined to Room.
	ConnID    uuid.UUID
	UserID    string
	Room      string
	Client    ClientInfo
	CreatedAt time.Time

	timer *time.Timer
}

// Table is safe for concurrent use. Each session expires on its own timer.
type Table struct {
	mu       sync.Mutex
	sessions map[string]*Session
	byConn   map[uuid.UUID]map[string]struct{}
	closed   bool

	ttl      time.Duration
	onExpire func(Session)
	logger   *slog.Logger
}

func NewTable(ttl time.Duration, logger *slog.Logger) *Table {
	return &Table{
		sessions: make(map[string]*Session),
		byConn:   make(map[uuid.UUID]map[string]struct{}),
		ttl:      ttl,
		logger:   logger.With(slog.String("component", "pairing")),
	}
}

// SetOnExpire registers fn to run, outside the table lock, for every session
// removed by its timer.
func (t *Table) SetOnExpire(fn func(Session)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onExpire = fn
}

// Issue mints an unguessable code for the primary connection connID.
func (t *Table) Issue(connID uuid.UUID, userID string, client ClientInfo) (Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return Session{}, ErrClosed
	}

	code := uuid.NewString()
	sess := &Session{
		Code:      code,
		ConnID:    connID,
		UserID:    userID,
		Room:      state.PairingRoom(code),
		Client:    client,
		CreatedAt: time.Now().UTC(),
	}
	if t.ttl > 0 {
		sess.timer = time.AfterFunc(t.ttl, func() { t.expire(sess) })
	}
	t.sessions[code] = sess
	codes, ok := t.byConn[connID]
	if !ok {
		codes = make(map[string]struct{})
		t.byConn[connID] = codes
	}
	codes[code] = struct{}{}

	t.logger.Debug("Pairing code issued", slog.String("connID", connID.String()), slog.String("userID", userID))
	return *sess, nil
}

// Consume removes and returns the session for code. A consumed, expired or
// unknown code yields an error wrapping errs.ErrNotFound.
func (t *Table) Consume(code string) (Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	sess, ok := t.sessions[code]
	if !ok {
		return Session{}, fmt.Errorf("pairing code: %w", errs.ErrNotFound)
	}
	t.removeLocked(sess)
	return *sess, nil
}

// ReleaseConn drops every session opened by connID and returns their codes.
func (t *Table) ReleaseConn(connID uuid.UUID) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	codes := t.byConn[connID]
	released := make([]string, 0, len(codes))
	for code := range codes {
		if sess, ok := t.sessions[code]; ok {
			t.removeLocked(sess)
			released = append(released, code)
		}
	}
	delete(t.byConn, connID)
	return released
}

// TTL is the lifetime of a session; zero means sessions never expire.
func (t *Table) TTL() time.Duration { return t.ttl }

func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// Close stops every timer and rejects further codes.
func (t *Table) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	for _, sess := range t.sessions {
		if sess.timer != nil {
			sess.timer.Stop()
		}
	}
	t.sessions = make(map[string]*Session)
	t.byConn = make(map[uuid.UUID]map[string]struct{})
}

func (t *Table) expire(sess *Session) {
	t.mu.Lock()
	current, ok := t.sessions[sess.Code]
	if !ok || current != sess {
		// consumed or released before the timer fired
		t.mu.Unlock()
		return
	}
	t.removeLocked(sess)
	onExpire := t.onExpire
	t.mu.Unlock()

	t.logger.Debug("Pairing code expired", slog.String("connID", sess.ConnID.String()))
	if onExpire != nil {
		onExpire(*sess)
	}
}

func (t *Table) removeLocked(sess *Session) {
	if sess.timer != nil {
		sess.timer.Stop()
	}
	delete(t.sessions, sess.Code)
	if codes, ok := t.byConn[sess.ConnID]; ok {
		delete(codes, sess.Code)
		if len(codes) == 0 {
			delete(t.byConn, sess.ConnID)
		}
	}
}
