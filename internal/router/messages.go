package router

import (
	"fmt"
	"log/slog"

	"github.com/a-essam23/go-relay/internal/errs"
	"github.com/a-essam23/go-relay/internal/model"
	"github.com/a-essam23/go-relay/pkg/emoji"
)

func (r *EventRouter) handleSend(c *call, ev Event) error {
	e := ev.(SendEvent)
	msg := &model.Message{
		SenderID:    c.conn.UserID,
		RecipientID: e.RecipientID,
		RoomID:      e.RoomID,
		Kind:        e.MsgKind,
		Content:     e.Content,
		MediaURL:    e.MediaURL,
		FileName:    e.FileName,
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	if !msg.IsDirect() {
		if err := r.clientRoom(msg.RoomID); err != nil {
			return err
		}
	}

	stored, err := r.store.Create(c.ctx, msg)
	if err != nil {
		return err
	}
	sent := r.toAudience(stored, OutMessageReceived, stored)
	c.logger.Debug("Message relayed", slog.String("messageID", stored.ID), slog.Int("targets", sent))
	return nil
}

func (r *EventRouter) handleDelivered(c *call, ev Event) error {
	e := ev.(MessageEvent)
	out, err := r.delivery.Delivered(c.ctx, e.MessageID, c.conn.UserID)
	if err != nil {
		return err
	}
	if out.Changed {
		r.broadcastToUsers(OutStatusUpdate, statusPayload{MessageID: out.Message.ID, Status: out.Status}, out.Message.SenderID)
	}
	return nil
}

func (r *EventRouter) handleRead(c *call, ev Event) error {
	e := ev.(ReadEvent)
	if e.PeerID != "" {
		return r.readConversation(c, e.PeerID)
	}

	out, err := r.delivery.Read(c.ctx, e.MessageID, c.conn.UserID)
	if err != nil {
		return err
	}
	if !out.Changed {
		return nil
	}
	if out.Message.IsDirect() {
		r.broadcastToUsers(OutStatusUpdate, statusPayload{MessageID: out.Message.ID, Status: out.Status}, out.Message.SenderID)
		return nil
	}
	r.broadcast(out.Message.RoomID, OutReadBy, readByPayload{
		MessageID: out.Message.ID,
		RoomID:    out.Message.RoomID,
		UserID:    out.ReadBy,
		ReadAt:    r.now().UTC(),
	})
	return nil
}

// readConversation is the bulk read issued when a recipient opens a direct chat.
func (r *EventRouter) readConversation(c *call, peerID string) error {
	ids, err := r.delivery.ReadConversation(c.ctx, c.conn.UserID, peerID)
	if err != nil {
		return err
	}
	for _, id := range ids {
		r.broadcastToUsers(OutStatusUpdate, statusPayload{MessageID: id, Status: model.StatusRead}, peerID)
	}
	return nil
}

func (r *EventRouter) handleEdit(c *call, ev Event) error {
	e := ev.(EditEvent)
	msg, err := r.ownMessage(c, e.MessageID)
	if err != nil {
		return err
	}
	if err := r.store.SetContent(c.ctx, msg.ID, e.Content); err != nil {
		return err
	}
	r.toAudience(msg, OutMessageEdited, editedPayload{MessageID: msg.ID, Content: e.Content})
	return nil
}

// handleDeleteEveryone removes the message durably before announcing it, so a
// failed delete is never broadcast.
func (r *EventRouter) handleDeleteEveryone(c *call, ev Event) error {
	e := ev.(MessageEvent)
	msg, err := r.ownMessage(c, e.MessageID)
	if err != nil {
		return err
	}
	if err := r.store.HardDelete(c.ctx, msg.ID); err != nil {
		return err
	}
	r.toAudience(msg, OutMessageDeleted, deletedPayload{MessageID: msg.ID})
	return nil
}

func (r *EventRouter) handleDeleteForMe(c *call, ev Event) error {
	e := ev.(MessageEvent)
	if err := r.store.SoftDeleteFor(c.ctx, e.MessageID, c.conn.UserID); err != nil {
		return err
	}
	r.broadcastToUsers(OutMessageDeleted, deletedPayload{MessageID: e.MessageID, ForMe: true}, c.conn.UserID)
	return nil
}

func (r *EventRouter) handleReact(c *call, ev Event) error {
	e := ev.(ReactEvent)
	if err := emoji.ValidateReaction(e.Emoji); err != nil {
		return fmt.Errorf("%w: %w", errs.ErrInvalidEvent, err)
	}
	msg, err := r.store.Get(c.ctx, e.MessageID)
	if err != nil {
		return err
	}
	reactions, err := r.store.AddReaction(c.ctx, msg.ID, c.conn.UserID, e.Emoji)
	if err != nil {
		return err
	}
	r.toAudience(msg, OutReactionUpdate, reactionsPayload{MessageID: msg.ID, Reactions: reactions})
	return nil
}

// ownMessage fetches id and checks that the caller sent it.
func (r *EventRouter) ownMessage(c *call, id string) (*model.Message, error) {
	msg, err := r.store.Get(c.ctx, id)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != c.conn.UserID {
		return nil, fmt.Errorf("%w: message %s belongs to another sender", errs.ErrUnauthorized, id)
	}
	return msg, nil
}

// toAudience resolves the targets of msg the way a send does: every device of
// both parties for a direct message, the room's members otherwise.
func (r *EventRouter) toAudience(msg *model.Message, event string, payload any) int {
	if msg.IsDirect() {
		return r.broadcastToUsers(event, payload, msg.SenderID, msg.RecipientID)
	}
	return r.broadcast(msg.RoomID, event, payload)
}
