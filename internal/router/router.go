// Package router dispatches inbound client events to their handlers and fans
// the outcome out to the connections that must observe it.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/a-essam23/go-relay/internal/auth"
	"github.com/a-essam23/go-relay/internal/delivery"
	"github.com/a-essam23/go-relay/internal/directory"
	"github.com/a-essam23/go-relay/internal/errs"
	"github.com/a-essam23/go-relay/internal/pairing"
	"github.com/a-essam23/go-relay/internal/store"
	"github.com/a-essam23/go-relay/pkg/state"
	"github.com/google/uuid"
	"go.uber.org/ratelimit"
)

// Options tune the router. The zero value serves anonymous announces with no pacing.
type Options struct {
	FixedRoom       string
	EventsPerSecond int
	// Verifier checks announce tokens; nil disables token checks.
	Verifier *auth.Verifier
	// AuthRequired rejects announces that are proven neither at handshake nor by token.
	AuthRequired bool
	// PresenceTimeout bounds the directory writes made on disconnect.
	PresenceTimeout time.Duration
}

type handlerFunc func(c *call, ev Event) error

// call is the per-event context handed to a handler.
type call struct {
	ctx    context.Context
	conn   *state.Connection
	logger *slog.Logger
}

type EventRouter struct {
	logger    *slog.Logger
	state     state.Manager
	store     store.MessageStore
	directory directory.Directory
	delivery  *delivery.Machine
	pairing   *pairing.Table
	opts      Options

	handlers map[Kind]handlerFunc
	presence *userLocks

	limiterMu sync.Mutex
	limiters  map[uuid.UUID]ratelimit.Limiter

	now func() time.Time
}

func NewEventRouter(
	logger *slog.Logger,
	stateManager state.Manager,
	messages store.MessageStore,
	dir directory.Directory,
	pairings *pairing.Table,
	opts Options,
) *EventRouter {
	if opts.FixedRoom == "" {
		opts.FixedRoom = "discussion"
	}
	if opts.PresenceTimeout <= 0 {
		opts.PresenceTimeout = 5 * time.Second
	}
	r := &EventRouter{
		logger:    logger.With(slog.String("component", "event_router")),
		state:     stateManager,
		store:     messages,
		directory: dir,
		delivery:  delivery.NewMachine(messages, logger),
		pairing:   pairings,
		opts:      opts,
		handlers:  make(map[Kind]handlerFunc),
		presence:  newUserLocks(),
		limiters:  make(map[uuid.UUID]ratelimit.Limiter),
		now:       time.Now,
	}
	r.registerHandlers()
	pairings.SetOnExpire(r.pairingExpired)
	return r
}

func (r *EventRouter) registerHandlers() {
	r.register(KindAnnounce, r.handleAnnounce)
	r.register(KindJoinRoom, r.handleJoinRoom)
	r.register(KindLeaveRoom, r.handleLeaveRoom)
	r.register(KindSend, r.handleSend)
	r.register(KindAcknowledgeDelivered, r.handleDelivered)
	r.register(KindAcknowledgeRead, r.handleRead)
	r.register(KindEdit, r.handleEdit)
	r.register(KindDeleteEveryone, r.handleDeleteEveryone)
	r.register(KindDeleteForMe, r.handleDeleteForMe)
	r.register(KindReact, r.handleReact)
	r.register(KindTyping, r.handleTyping)
	r.register(KindRequestPairingCode, r.handleRequestPairing)
	r.register(KindCompletePairing, r.handleCompletePairing)
}

func (r *EventRouter) register(kind Kind, fn handlerFunc) {
	if _, exists := r.handlers[kind]; exists {
		panic(fmt.Sprintf("handler already registered: %s", kind))
	}
	r.handlers[kind] = fn
}

// Connected prepares per-connection resources. Call it after the connection
// is registered with the state manager and before its read pump starts.
func (r *EventRouter) Connected(connID uuid.UUID) {
	if r.opts.EventsPerSecond <= 0 {
		return
	}
	r.limiterMu.Lock()
	r.limiters[connID] = ratelimit.New(r.opts.EventsPerSecond)
	r.limiterMu.Unlock()
}

// Disconnected releases every registration held by connID: pairing sessions,
// presence, room memberships. The last connection of a user takes the user offline.
func (r *EventRouter) Disconnected(connID uuid.UUID) {
	r.limiterMu.Lock()
	delete(r.limiters, connID)
	r.limiterMu.Unlock()

	dep, err := r.state.DeregisterConnection(connID)
	// released after deregistering so an in-flight request-pairing-code
	// either lands before the release or fails to join its room
	if codes := r.pairing.ReleaseConn(connID); len(codes) > 0 {
		r.logger.Debug("Released pairing sessions", slog.String("connID", connID.String()), slog.Int("count", len(codes)))
	}
	if err != nil {
		r.logger.Error("Failed to deregister connection", slog.String("connID", connID.String()), slog.Any("error", err))
		return
	}
	if dep.WentOffline {
		r.wentOffline(dep.UserID)
	}
}

// HandleMessage processes one inbound frame. It runs on the connection's read
// pump, so a connection's events are handled strictly in arrival order.
func (r *EventRouter) HandleMessage(ctx context.Context, connID uuid.UUID, msg []byte) {
	r.pace(connID)

	conn, ok := r.state.GetConnection(connID)
	if !ok {
		r.logger.Warn("Dropped message from unregistered connection", slog.String("connID", connID.String()))
		return
	}

	ev, err := Decode(msg)
	if err != nil {
		r.logger.Warn("Rejected malformed event", slog.String("connID", connID.String()), slog.Any("error", err))
		r.localError(connID, EventName(msg), errs.Code(err), err.Error())
		return
	}
	kind := ev.Kind()

	logger := r.logger.With(
		slog.String("connID", connID.String()),
		slog.String("userID", conn.UserID),
		slog.String("event", string(kind)),
	)
	if conn.UserID == "" && kind != KindAnnounce && kind != KindCompletePairing {
		r.fail(logger, connID, kind, fmt.Errorf("%w: announce before '%s'", errs.ErrUnauthorized, kind))
		return
	}

	handler, ok := r.handlers[kind]
	if !ok {
		// decoders and handlers are registered together
		logger.Error("No handler for decoded event")
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("Handler panicked", slog.Any("panic", rec), slog.String("stack", string(debug.Stack())))
			r.localError(connID, string(kind), errs.CodeInternal, "internal error")
		}
	}()

	logger.Debug("Handling event")
	if err := handler(&call{ctx: ctx, conn: conn, logger: logger}, ev); err != nil {
		r.fail(logger, connID, kind, err)
	}
}

// fail applies the error policy: unknown messages are dropped, everything else
// becomes a local-error for the originating connection only.
func (r *EventRouter) fail(logger *slog.Logger, connID uuid.UUID, kind Kind, err error) {
	if errors.Is(err, errs.ErrNotFound) && kind != KindCompletePairing {
		logger.Debug("Dropped event for unknown target", slog.Any("error", err))
		return
	}
	switch {
	case errors.Is(err, errs.ErrUnauthorized), errors.Is(err, errs.ErrInvalidEvent), errors.Is(err, errs.ErrNotFound):
		logger.Warn("Event rejected", slog.Any("error", err))
	default:
		logger.Error("Event failed", slog.Any("error", err))
	}
	r.localError(connID, string(kind), errs.Code(err), err.Error())
}

func (r *EventRouter) pace(connID uuid.UUID) {
	r.limiterMu.Lock()
	limiter, ok := r.limiters[connID]
	r.limiterMu.Unlock()
	if ok {
		limiter.Take()
	}
}

func (r *EventRouter) localError(connID uuid.UUID, event, code, reason string) {
	r.sendTo(connID, OutLocalError, localErrorPayload{Code: code, Reason: reason, Event: event})
}

// --- fan-out helpers ---

func (r *EventRouter) sendTo(connID uuid.UUID, event string, payload any) {
	msg, ok := r.mustEncode(event, payload)
	if !ok {
		return
	}
	if err := r.state.SendTo(connID, msg); err != nil {
		r.logger.Debug("Failed to send to connection", slog.String("connID", connID.String()), slog.String("event", event), slog.Any("error", err))
	}
}

func (r *EventRouter) broadcast(roomID, event string, payload any) int {
	msg, ok := r.mustEncode(event, payload)
	if !ok {
		return 0
	}
	return r.state.Broadcast(roomID, msg)
}

func (r *EventRouter) broadcastToUsers(event string, payload any, userIDs ...string) int {
	msg, ok := r.mustEncode(event, payload)
	if !ok {
		return 0
	}
	sent := 0
	seen := make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		sent += r.state.BroadcastToUser(id, msg)
	}
	return sent
}

func (r *EventRouter) broadcastAll(event string, payload any) int {
	msg, ok := r.mustEncode(event, payload)
	if !ok {
		return 0
	}
	return r.state.BroadcastAll(msg)
}

func (r *EventRouter) mustEncode(event string, payload any) ([]byte, bool) {
	msg, err := encode(event, payload)
	if err != nil {
		r.logger.Error("Failed to encode outbound event", slog.String("event", event), slog.Any("error", err))
		return nil, false
	}
	return msg, true
}
