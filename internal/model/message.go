// Package model holds the domain entities moved through the relay.
package model

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/a-essam23/go-relay/internal/errs"
)

type Kind string

const (
	KindText     Kind = "text"
	KindImage    Kind = "image"
	KindVideo    Kind = "video"
	KindDocument Kind = "document"
	KindLocation Kind = "location"
	KindCall     Kind = "call"
)

func (k Kind) Valid() bool {
	switch k {
	case KindText, KindImage, KindVideo, KindDocument, KindLocation, KindCall:
		return true
	}
	return false
}

// Status is the delivery indicator of a direct message. It only moves forward.
type Status string

const (
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
)

// Rank orders statuses; unknown values rank below sent.
func (s Status) Rank() int {
	switch s {
	case StatusSent:
		return 0
	case StatusDelivered:
		return 1
	case StatusRead:
		return 2
	}
	return -1
}

// Before reports whether s strictly precedes other in sent < delivered < read.
func (s Status) Before(other Status) bool { return s.Rank() < other.Rank() }

func StatusFromRank(rank int) (Status, error) {
	switch rank {
	case 0:
		return StatusSent, nil
	case 1:
		return StatusDelivered, nil
	case 2:
		return StatusRead, nil
	}
	return "", fmt.Errorf("unknown status rank %d", rank)
}

type Reaction struct {
	UserID string `json:"userId"`
	Emoji  string `json:"emoji"`
}

type Receipt struct {
	UserID string    `json:"userId"`
	ReadAt time.Time `json:"readAt"`
}

// Message is addressed either to one recipient or to one room, never both.
type Message struct {
	ID          string     `json:"id"`
	SenderID    string     `json:"senderId"`
	RecipientID string     `json:"recipientId,omitempty"`
	RoomID      string     `json:"roomId,omitempty"`
	Kind        Kind       `json:"kind"`
	Content     string     `json:"content"`
	MediaURL    string     `json:"mediaUrl,omitempty"`
	FileName    string     `json:"fileName,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	Status      Status     `json:"status,omitempty"`
	ReadBy      []Receipt  `json:"readBy,omitempty"`
	Reactions   []Reaction `json:"reactions,omitempty"`
	Edited      bool       `json:"edited"`
	DeletedFor  []string   `json:"-"`
}

func (m *Message) IsDirect() bool { return m.RecipientID != "" }

// Validate checks the addressing mode, the kind and the content of a new message.
func (m *Message) Validate() error {
	hasRecipient := m.RecipientID != ""
	hasRoom := m.RoomID != ""
	if hasRecipient == hasRoom {
		return fmt.Errorf("%w: exactly one of recipientId or roomId is required", errs.ErrInvalidEvent)
	}
	if m.SenderID == "" {
		return fmt.Errorf("%w: sender is unknown", errs.ErrInvalidEvent)
	}
	if m.Kind == "" {
		m.Kind = KindText
	}
	if !m.Kind.Valid() {
		return fmt.Errorf("%w: unknown message kind '%s'", errs.ErrInvalidEvent, m.Kind)
	}
	if strings.TrimSpace(m.Content) == "" && m.MediaURL == "" {
		return fmt.Errorf("%w: content cannot be empty", errs.ErrInvalidEvent)
	}
	return nil
}

// HasReceipt reports whether userID already acknowledged this room message.
func (m *Message) HasReceipt(userID string) bool {
	return slices.ContainsFunc(m.ReadBy, func(r Receipt) bool { return r.UserID == userID })
}

// UpsertReaction replaces the reaction of userID, or appends it.
func (m *Message) UpsertReaction(userID, emoji string) {
	for i := range m.Reactions {
		if m.Reactions[i].UserID == userID {
			m.Reactions[i].Emoji = emoji
			return
		}
	}
	m.Reactions = append(m.Reactions, Reaction{UserID: userID, Emoji: emoji})
}

func (m *Message) HiddenFor(userID string) bool { return slices.Contains(m.DeletedFor, userID) }

// Clone returns a deep copy so callers never share slices with a store.
func (m *Message) Clone() *Message {
	c := *m
	c.ReadBy = slices.Clone(m.ReadBy)
	c.Reactions = slices.Clone(m.Reactions)
	c.DeletedFor = slices.Clone(m.DeletedFor)
	return &c
}
