package state

import (
	"time"

	"github.com/google/uuid"
)

// Sink is the sending half of a live connection. *transport.Connection
// implements it; Send on a closed sink returns an error and never panics.
type Sink interface {
	ID() uuid.UUID
	Send(msg []byte) error
	Close(err error)
}

// Connection is a snapshot of one registered transport-layer connection.
type Connection struct {
	ID        uuid.UUID
	IPAddress string
	UserAgent string
	// Subject is the identity proven at handshake time, empty for anonymous upgrades.
	Subject   string
	Transport Sink
	// UserID is set once by Bind and never changes afterwards.
	UserID    string
	Rooms     []string
	CreatedAt time.Time
}

// Departure describes what a deregistration released.
type Departure struct {
	UserID      string
	WentOffline bool
	Rooms       []string
}
