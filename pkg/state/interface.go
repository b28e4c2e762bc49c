package state

import (
	"github.com/google/uuid"
)

// PresenceTable maps user identities to their live connections.
type PresenceTable interface {
	// Bind associates a connection with a user. first is true when this
	// binding moved the user from offline to online.
	Bind(connID uuid.UUID, userID string) (first bool, err error)
	// Unbind detaches the connection from its user. last is true when the
	// user has no connection left. Unbinding an unbound connection is a no-op.
	Unbind(connID uuid.UUID) (userID string, last bool)
	IsOnline(userID string) bool
	OnlineUsers() []string
	ConnectionsFor(userID string) []Sink
}

// RoomRegistry tracks which connections are joined to which rooms.
type RoomRegistry interface {
	Join(connID uuid.UUID, roomID string) error
	Leave(connID uuid.UUID, roomID string) error
	// LeaveAll removes the connection from every room and returns them.
	LeaveAll(connID uuid.UUID) []string
	Members(roomID string) []Sink
	// Broadcast sends msg to a snapshot of the room's members and returns the
	// number of successful sends. Closed members are skipped.
	Broadcast(roomID string, msg []byte) int
	// BroadcastToUser treats the user identity as an implicit room covering
	// every device of that user.
	BroadcastToUser(userID string, msg []byte) int
}

type Manager interface {
	PresenceTable
	RoomRegistry

	// --- Connection Lifecycle ---
	RegisterConnection(conn Sink, meta ConnectionMeta) (*Connection, error)
	// DeregisterConnection unbinds the connection and leaves all rooms in one step.
	DeregisterConnection(connID uuid.UUID) (Departure, error)
	GetConnection(connID uuid.UUID) (*Connection, bool)
	FindOldestUserConnection(userID string) (*Connection, bool)
	GetUserConnectionCount(userID string) (int, error)
	AllConnections() []Sink

	// SendTo delivers msg to exactly one connection.
	SendTo(connID uuid.UUID, msg []byte) error
	// BroadcastAll delivers msg to every bound connection.
	BroadcastAll(msg []byte) int
}

// ConnectionMeta is captured at upgrade time.
type ConnectionMeta struct {
	IPAddress string
	UserAgent string
	Subject   string
}
