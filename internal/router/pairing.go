package router

import (
	"fmt"
	"log/slog"

	"github.com/a-essam23/go-relay/internal/errs"
	"github.com/a-essam23/go-relay/internal/model"
	"github.com/a-essam23/go-relay/internal/pairing"
	"github.com/google/uuid"
)

// handleRequestPairingCode mints a code for an authenticated primary and joins
// it to the code's room. Only the primary learns the code.
func (r *EventRouter) handleRequestPairing(c *call, ev Event) error {
	e := ev.(RequestPairingEvent)
	sess, err := r.pairing.Issue(c.conn.ID, c.conn.UserID, pairing.ClientInfo{
		IPAddress: c.conn.IPAddress,
		UserAgent: c.conn.UserAgent,
		Label:     e.Label,
	})
	if err != nil {
		return err
	}
	if err := r.state.Join(c.conn.ID, sess.Room); err != nil {
		// roll back so the code cannot be completed without a listener
		_, _ = r.pairing.Consume(sess.Code)
		return err
	}

	payload := pairingIssuedPayload{Code: sess.Code}
	if ttl := r.pairing.TTL(); ttl > 0 {
		payload.ExpiresAt = sess.CreatedAt.Add(ttl)
	}
	r.sendTo(c.conn.ID, OutPairingCodeIssued, payload)
	return nil
}

// handleCompletePairing is sent by the secondary client. The session is
// consumed exactly once; the credential reaches only the primary's room.
func (r *EventRouter) handleCompletePairing(c *call, ev Event) error {
	e := ev.(CompletePairingEvent)
	if _, err := r.directory.FindUser(c.ctx, e.UserID); err != nil {
		return err
	}

	sess, err := r.pairing.Consume(e.Code)
	if err != nil {
		return err
	}
	if sess.UserID != e.UserID {
		r.state.Leave(sess.ConnID, sess.Room)
		return fmt.Errorf("%w: pairing code was issued to another user", errs.ErrUnauthorized)
	}

	label := e.Label
	if label == "" {
		label = sess.Client.Label
	}
	device := &model.LinkedDevice{
		ID:        uuid.NewString(),
		UserID:    e.UserID,
		Label:     label,
		UserAgent: c.conn.UserAgent,
		IPAddress: c.conn.IPAddress,

		PrimaryUserAgent: sess.Client.UserAgent,
		PrimaryIP:        sess.Client.IPAddress,
	}
	if err := r.directory.AddLinkedDevice(c.ctx, device); err != nil {
		r.state.Leave(sess.ConnID, sess.Room)
		return fmt.Errorf("record linked device: %w", err)
	}

	sent := r.broadcast(sess.Room, OutPairingAuthSuccess, pairingSuccessPayload{
		Credential: e.Credential,
		UserID:     e.UserID,
		DeviceID:   device.ID,
	})
	if err := r.state.Leave(sess.ConnID, sess.Room); err != nil {
		c.logger.Debug("Primary left before pairing completed", slog.Any("error", err))
	}
	c.logger.Info("Device linked", slog.String("userID", e.UserID), slog.String("deviceID", device.ID), slog.Int("notified", sent))
	return nil
}

// pairingExpired runs on the session's timer.
func (r *EventRouter) pairingExpired(sess pairing.Session) {
	r.state.Leave(sess.ConnID, sess.Room)
	r.sendTo(sess.ConnID, OutPairingCodeExpired, pairingExpiredPayload{Code: sess.Code})
}
