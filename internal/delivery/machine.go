// Package delivery advances messages through sent, delivered and read.
//
// Direct messages carry a single forward-only status. Room messages carry an
// accumulating set of read receipts instead, because "delivered" stops being
// meaningful once a message has more than one recipient.
package delivery

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/a-essam23/go-relay/internal/errs"
	"github.com/a-essam23/go-relay/internal/model"
	"github.com/a-essam23/go-relay/internal/store"
)

// Outcome tells the router whether an acknowledgment changed anything and
// therefore whether a notice must go out.
type Outcome struct {
	Message *model.Message
	// Changed is false for a repeated or regressing acknowledgment.
	Changed bool
	// Status is the new status of a direct message.
	Status model.Status
	// ReadBy is the user appended to a room message's receipts.
	ReadBy string
}

type Machine struct {
	store  store.MessageStore
	logger *slog.Logger
}

func NewMachine(s store.MessageStore, logger *slog.Logger) *Machine {
	return &Machine{
		store:  s,
		logger: logger.With(slog.String("component", "delivery")),
	}
}

// Delivered records that userID's client received the direct message id.
// Only the recipient may acknowledge; room messages have no delivered state
// and yield an unchanged outcome.
func (m *Machine) Delivered(ctx context.Context, id, userID string) (Outcome, error) {
	msg, err := m.store.Get(ctx, id)
	if err != nil {
		return Outcome{}, err
	}
	if !msg.IsDirect() {
		return Outcome{Message: msg}, nil
	}
	if msg.RecipientID != userID {
		return Outcome{}, fmt.Errorf("%w: only the recipient acknowledges message %s", errs.ErrUnauthorized, id)
	}
	return m.advance(ctx, msg, model.StatusDelivered)
}

// Read records an explicit read acknowledgment. For a direct message this
// moves the status to read, possibly skipping delivered. For a room message
// it appends a receipt for userID; the sender's own acknowledgment is ignored.
func (m *Machine) Read(ctx context.Context, id, userID string) (Outcome, error) {
	msg, err := m.store.Get(ctx, id)
	if err != nil {
		return Outcome{}, err
	}
	if msg.IsDirect() {
		if msg.RecipientID != userID {
			return Outcome{}, fmt.Errorf("%w: only the recipient acknowledges message %s", errs.ErrUnauthorized, id)
		}
		return m.advance(ctx, msg, model.StatusRead)
	}

	if msg.SenderID == userID {
		return Outcome{Message: msg}, nil
	}
	added, err := m.store.AddReadReceipt(ctx, id, userID)
	if err != nil {
		return Outcome{}, err
	}
	if added {
		m.logger.Debug("Read receipt added", slog.String("messageID", id), slog.String("userID", userID))
	}
	return Outcome{Message: msg, Changed: added, ReadBy: userID}, nil
}

// ReadConversation marks every direct message from peerID to readerID as read
// and returns the ids that moved.
func (m *Machine) ReadConversation(ctx context.Context, readerID, peerID string) ([]string, error) {
	if peerID == "" || peerID == readerID {
		return nil, fmt.Errorf("%w: invalid conversation peer '%s'", errs.ErrInvalidEvent, peerID)
	}
	ids, err := m.store.MarkConversationRead(ctx, peerID, readerID)
	if err != nil {
		return nil, err
	}
	m.logger.Debug("Conversation marked read",
		slog.String("readerID", readerID),
		slog.String("peerID", peerID),
		slog.Int("changed", len(ids)),
	)
	return ids, nil
}

func (m *Machine) advance(ctx context.Context, msg *model.Message, status model.Status) (Outcome, error) {
	applied, err := m.store.SetStatus(ctx, msg.ID, status)
	if err != nil {
		return Outcome{}, err
	}
	if !applied {
		// backward or repeated transitions are no-ops
		return Outcome{Message: msg, Status: msg.Status}, nil
	}
	msg.Status = status
	return Outcome{Message: msg, Changed: true, Status: status}, nil
}
