package statemanager

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/a-essam23/go-relay/pkg/state"
	"github.com/google/uuid"
)

type connEntry struct {
	sink      state.Sink
	meta      state.ConnectionMeta
	userID    string
	bound     bool
	rooms     map[string]struct{}
	createdAt time.Time
}

// InMemoryManager owns the presence table and the room registry.
// Lock order is mu, then roomMu. Sends always happen after both are released.
type InMemoryManager struct {
	conns map[uuid.UUID]*connEntry
	users map[string]map[uuid.UUID]*connEntry
	rooms map[string]map[uuid.UUID]*connEntry

	mu     sync.RWMutex // conns, users, connEntry.userID/bound
	roomMu sync.RWMutex // rooms, connEntry.rooms

	logger *slog.Logger
}

func NewInMemoryManager(logger *slog.Logger) *InMemoryManager {
	return &InMemoryManager{
		conns:  make(map[uuid.UUID]*connEntry),
		users:  make(map[string]map[uuid.UUID]*connEntry),
		rooms:  make(map[string]map[uuid.UUID]*connEntry),
		logger: logger.With(slog.String("component", "state_manager_inmemory")),
	}
}

// compile-time check to ensure InMemoryManager implements Manager.
var _ state.Manager = (*InMemoryManager)(nil)

// --- Connection Lifecycle ---

func (m *InMemoryManager) RegisterConnection(conn state.Sink, meta state.ConnectionMeta) (*state.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	connID := conn.ID()
	if _, exists := m.conns[connID]; exists {
		return nil, state.ErrDuplicate
	}
	entry := &connEntry{
		sink:      conn,
		meta:      meta,
		rooms:     make(map[string]struct{}),
		createdAt: time.Now(),
	}
	m.conns[connID] = entry
	m.logger.Debug("Connection registered", slog.String("connID", connID.String()))
	return snapshot(connID, entry, nil), nil
}

func (m *InMemoryManager) DeregisterConnection(connID uuid.UUID) (state.Departure, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.conns[connID]
	if !ok {
		// connection is already deregistered
		return state.Departure{}, nil
	}
	delete(m.conns, connID)

	var dep state.Departure
	dep.UserID, dep.WentOffline = m.unbindLocked(connID, entry)

	m.roomMu.Lock()
	dep.Rooms = m.leaveAllLocked(connID, entry)
	m.roomMu.Unlock()

	m.logger.Debug("Connection deregistered",
		slog.String("connID", connID.String()),
		slog.String("userID", dep.UserID),
		slog.Bool("wentOffline", dep.WentOffline),
		slog.Int("rooms", len(dep.Rooms)),
	)
	return dep, nil
}

func (m *InMemoryManager) GetConnection(connID uuid.UUID) (*state.Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.conns[connID]
	if !ok {
		return nil, false
	}
	m.roomMu.RLock()
	rooms := roomList(entry)
	m.roomMu.RUnlock()
	return snapshot(connID, entry, rooms), true
}

func (m *InMemoryManager) FindOldestUserConnection(userID string) (*state.Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var (
		oldestID uuid.UUID
		oldest   *connEntry
	)
	for id, entry := range m.users[userID] {
		if oldest == nil || entry.createdAt.Before(oldest.createdAt) {
			oldestID, oldest = id, entry
		}
	}
	if oldest == nil {
		return nil, false
	}
	return snapshot(oldestID, oldest, nil), true
}

func (m *InMemoryManager) GetUserConnectionCount(userID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users[userID]), nil
}

func (m *InMemoryManager) AllConnections() []state.Sink {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]state.Sink, 0, len(m.conns))
	for _, entry := range m.conns {
		out = append(out, entry.sink)
	}
	return out
}

// --- Presence ---

func (m *InMemoryManager) Bind(connID uuid.UUID, userID string) (bool, error) {
	if userID == "" {
		return false, errors.New("cannot bind an empty user identity")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.conns[connID]
	if !ok {
		return false, fmt.Errorf("bind %s: %w", connID, state.ErrUnknownConnection)
	}
	if entry.userID != "" && entry.userID != userID {
		return false, fmt.Errorf("bind %s to '%s': %w", connID, userID, state.ErrAlreadyBound)
	}
	if entry.bound {
		return false, nil
	}

	set, exists := m.users[userID]
	if !exists {
		set = make(map[uuid.UUID]*connEntry)
		m.users[userID] = set
	}
	first := len(set) == 0
	set[connID] = entry
	entry.userID = userID
	entry.bound = true

	m.logger.Debug("Bound connection to user", slog.String("connID", connID.String()), slog.String("userID", userID), slog.Bool("first", first))
	return first, nil
}

func (m *InMemoryManager) Unbind(connID uuid.UUID) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.conns[connID]
	if !ok {
		return "", false
	}
	return m.unbindLocked(connID, entry)
}

func (m *InMemoryManager) unbindLocked(connID uuid.UUID, entry *connEntry) (string, bool) {
	if !entry.bound {
		return entry.userID, false
	}
	entry.bound = false
	set := m.users[entry.userID]
	delete(set, connID)
	if len(set) > 0 {
		return entry.userID, false
	}
	delete(m.users, entry.userID)
	return entry.userID, true
}

func (m *InMemoryManager) IsOnline(userID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users[userID]) > 0
}

func (m *InMemoryManager) OnlineUsers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	users := make([]string, 0, len(m.users))
	for id := range m.users {
		users = append(users, id)
	}
	sort.Strings(users)
	return users
}

func (m *InMemoryManager) ConnectionsFor(userID string) []state.Sink {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set := m.users[userID]
	out := make([]state.Sink, 0, len(set))
	for _, entry := range set {
		out = append(out, entry.sink)
	}
	return out
}

// --- Room & Membership Management ---

func (m *InMemoryManager) Join(connID uuid.UUID, roomID string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.conns[connID]
	if !ok {
		return fmt.Errorf("join '%s': %w", roomID, state.ErrUnknownConnection)
	}

	m.roomMu.Lock()
	defer m.roomMu.Unlock()
	room, exists := m.rooms[roomID]
	if !exists {
		room = make(map[uuid.UUID]*connEntry)
		m.rooms[roomID] = room
	}
	room[connID] = entry
	entry.rooms[roomID] = struct{}{}

	m.logger.Debug("Connection joined room", slog.String("connID", connID.String()), slog.String("roomID", roomID))
	return nil
}

func (m *InMemoryManager) Leave(connID uuid.UUID, roomID string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.conns[connID]
	if !ok {
		return fmt.Errorf("leave '%s': %w", roomID, state.ErrUnknownConnection)
	}

	m.roomMu.Lock()
	defer m.roomMu.Unlock()
	m.leaveLocked(connID, entry, roomID)
	return nil
}

func (m *InMemoryManager) LeaveAll(connID uuid.UUID) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.conns[connID]
	if !ok {
		return nil
	}
	m.roomMu.Lock()
	defer m.roomMu.Unlock()
	return m.leaveAllLocked(connID, entry)
}

func (m *InMemoryManager) leaveAllLocked(connID uuid.UUID, entry *connEntry) []string {
	left := roomList(entry)
	for _, roomID := range left {
		m.leaveLocked(connID, entry, roomID)
	}
	return left
}

func (m *InMemoryManager) leaveLocked(connID uuid.UUID, entry *connEntry, roomID string) {
	delete(entry.rooms, roomID)
	room, ok := m.rooms[roomID]
	if !ok {
		return
	}
	delete(room, connID)
	// For memory hygiene, remove the room if it's now empty.
	if len(room) == 0 {
		delete(m.rooms, roomID)
		m.logger.Debug("Removed empty room", slog.String("roomID", roomID))
	}
}

func (m *InMemoryManager) Members(roomID string) []state.Sink {
	m.roomMu.RLock()
	defer m.roomMu.RUnlock()
	room := m.rooms[roomID]
	out := make([]state.Sink, 0, len(room))
	for _, entry := range room {
		out = append(out, entry.sink)
	}
	return out
}

// RoomCount reports the number of non-empty rooms.
func (m *InMemoryManager) RoomCount() int {
	m.roomMu.RLock()
	defer m.roomMu.RUnlock()
	return len(m.rooms)
}

// --- Delivery ---

func (m *InMemoryManager) Broadcast(roomID string, msg []byte) int {
	return m.fanOut(m.Members(roomID), msg, slog.String("roomID", roomID))
}

func (m *InMemoryManager) BroadcastToUser(userID string, msg []byte) int {
	return m.fanOut(m.ConnectionsFor(userID), msg, slog.String("userID", userID))
}

func (m *InMemoryManager) BroadcastAll(msg []byte) int {
	m.mu.RLock()
	targets := make([]state.Sink, 0, len(m.conns))
	for _, entry := range m.conns {
		if entry.bound {
			targets = append(targets, entry.sink)
		}
	}
	m.mu.RUnlock()
	return m.fanOut(targets, msg, slog.String("target", "all"))
}

func (m *InMemoryManager) SendTo(connID uuid.UUID, msg []byte) error {
	m.mu.RLock()
	entry, ok := m.conns[connID]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("send %s: %w", connID, state.ErrUnknownConnection)
	}
	return entry.sink.Send(msg)
}

// fanOut sends to a snapshot taken by the caller. A target closed in the
// meantime is skipped.
func (m *InMemoryManager) fanOut(targets []state.Sink, msg []byte, attr slog.Attr) int {
	sent := 0
	for _, sink := range targets {
		if err := sink.Send(msg); err != nil {
			m.logger.Debug("Skipped closed target", attr, slog.String("connID", sink.ID().String()), slog.Any("error", err))
			continue
		}
		sent++
	}
	return sent
}

func roomList(entry *connEntry) []string {
	rooms := make([]string, 0, len(entry.rooms))
	for r := range entry.rooms {
		rooms = append(rooms, r)
	}
	sort.Strings(rooms)
	return rooms
}

// snapshot copies entry; UserID is reported only while the connection is bound.
func snapshot(id uuid.UUID, entry *connEntry, rooms []string) *state.Connection {
	userID := ""
	if entry.bound {
		userID = entry.userID
	}
	return &state.Connection{
		ID:        id,
		IPAddress: entry.meta.IPAddress,
		UserAgent: entry.meta.UserAgent,
		Subject:   entry.meta.Subject,
		Transport: entry.sink,
		UserID:    userID,
		Rooms:     rooms,
		CreatedAt: entry.createdAt,
	}
}
