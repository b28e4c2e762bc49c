// Package store defines the durable message persistence contract consumed by the
// event router, together with an in-memory implementation.
package store

import (
	"context"

	"github.com/a-essam23/go-relay/internal/model"
)

// MessageStore is the message lifecycle adapter. Every method returns an error
// wrapping errs.ErrNotFound when id does not resolve and errs.ErrStoreUnavailable
// when the backend cannot be reached.
type MessageStore interface {
	// Create assigns an identifier, a timestamp and the initial status.
	Create(ctx context.Context, msg *model.Message) (*model.Message, error)
	Get(ctx context.Context, id string) (*model.Message, error)

	// SetStatus applies status only when it is strictly later than the current one.
	// applied is false for a no-op; a regression is never an error.
	SetStatus(ctx context.Context, id string, status model.Status) (applied bool, err error)

	// AddReadReceipt appends userID to the receipt list unless it is already present.
	AddReadReceipt(ctx context.Context, id, userID string) (added bool, err error)

	// SetContent replaces the content and marks the message edited.
	SetContent(ctx context.Context, id, content string) error

	// AddReaction upserts the reaction of userID and returns the full reaction list.
	AddReaction(ctx context.Context, id, userID, emoji string) ([]model.Reaction, error)

	SoftDeleteFor(ctx context.Context, id, userID string) error
	HardDelete(ctx context.Context, id string) error

	// MarkConversationRead advances every direct message from senderID to
	// recipientID to read and returns the ids that changed.
	MarkConversationRead(ctx context.Context, senderID, recipientID string) ([]string, error)
}
