package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/a-essam23/go-relay/internal/errs"
	"github.com/a-essam23/go-relay/internal/model"
	"github.com/a-essam23/go-relay/internal/store"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// MessageRepo implements store.MessageStore. Status is persisted as its rank so
// forward-only updates are a single conditional UPDATE.
type MessageRepo struct{ db *DB }

var _ store.MessageStore = (*MessageRepo)(nil)

func NewMessageRepo(db *DB) *MessageRepo { return &MessageRepo{db: db} }

func (r *MessageRepo) Create(ctx context.Context, msg *model.Message) (*model.Message, error) {
	const q = `
INSERT INTO messages (id, sender_id, recipient_id, room_id, kind, content, media_url, file_name, status)
VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6, $7, $8, 0)
RETURNING created_at`
	stored := msg.Clone()
	stored.ID = uuid.NewString()
	stored.Edited = false
	stored.ReadBy, stored.Reactions, stored.DeletedFor = nil, nil, nil
	stored.Status = ""
	if stored.IsDirect() {
		stored.Status = model.StatusSent
	}

	err := r.db.Pool.QueryRow(ctx, q,
		stored.ID, stored.SenderID, stored.RecipientID, stored.RoomID,
		string(stored.Kind), stored.Content, stored.MediaURL, stored.FileName,
	).Scan(&stored.CreatedAt)
	if err != nil {
		return nil, classify(err, "create message")
	}
	return stored, nil
}

func (r *MessageRepo) Get(ctx context.Context, id string) (*model.Message, error) {
	const q = `
SELECT id::text, sender_id, COALESCE(recipient_id, ''), COALESCE(room_id, ''), kind, content,
       media_url, file_name, status, edited, created_at
FROM messages WHERE id=$1`
	if !validID(id) {
		return nil, fmt.Errorf("message '%s': %w", id, errs.ErrNotFound)
	}
	var (
		m    model.Message
		kind string
		rank int
	)
	err := r.db.Pool.QueryRow(ctx, q, id).Scan(
		&m.ID, &m.SenderID, &m.RecipientID, &m.RoomID, &kind, &m.Content,
		&m.MediaURL, &m.FileName, &rank, &m.Edited, &m.CreatedAt,
	)
	if err != nil {
		return nil, classify(err, "get message")
	}
	m.Kind = model.Kind(kind)
	if m.IsDirect() {
		if m.Status, err = model.StatusFromRank(rank); err != nil {
			return nil, err
		}
	}
	if err := r.loadDetails(ctx, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *MessageRepo) loadDetails(ctx context.Context, m *model.Message) error {
	const receipts = `SELECT user_id, read_at FROM message_receipts WHERE message_id=$1 ORDER BY read_at`
	rows, err := r.db.Pool.Query(ctx, receipts, m.ID)
	if err != nil {
		return classify(err, "load receipts")
	}
	m.ReadBy, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Receipt, error) {
		var rc model.Receipt
		err := row.Scan(&rc.UserID, &rc.ReadAt)
		return rc, err
	})
	if err != nil {
		return classify(err, "scan receipts")
	}

	m.Reactions, err = r.reactions(ctx, m.ID)
	if err != nil {
		return err
	}

	const hidden = `SELECT user_id FROM message_hidden WHERE message_id=$1`
	rows, err = r.db.Pool.Query(ctx, hidden, m.ID)
	if err != nil {
		return classify(err, "load hidden")
	}
	m.DeletedFor, err = pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return classify(err, "scan hidden")
	}
	return nil
}

func (r *MessageRepo) reactions(ctx context.Context, id string) ([]model.Reaction, error) {
	const q = `SELECT user_id, emoji FROM message_reactions WHERE message_id=$1 ORDER BY updated_at`
	rows, err := r.db.Pool.Query(ctx, q, id)
	if err != nil {
		return nil, classify(err, "load reactions")
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Reaction, error) {
		var rc model.Reaction
		err := row.Scan(&rc.UserID, &rc.Emoji)
		return rc, err
	})
	if err != nil {
		return nil, classify(err, "scan reactions")
	}
	return out, nil
}

func (r *MessageRepo) SetStatus(ctx context.Context, id string, status model.Status) (bool, error) {
	const q = `UPDATE messages SET status=$2 WHERE id=$1 AND recipient_id IS NOT NULL AND status < $2`
	if status.Rank() < 0 {
		return false, fmt.Errorf("%w: unknown status '%s'", errs.ErrInvalidEvent, status)
	}
	if !validID(id) {
		return false, fmt.Errorf("message '%s': %w", id, errs.ErrNotFound)
	}
	tag, err := r.db.Pool.Exec(ctx, q, id, status.Rank())
	if err != nil {
		return false, classify(err, "set status")
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	return false, r.mustExist(ctx, id)
}

func (r *MessageRepo) AddReadReceipt(ctx context.Context, id, userID string) (bool, error) {
	const q = `
INSERT INTO message_receipts (message_id, user_id, read_at) VALUES ($1, $2, $3)
ON CONFLICT (message_id, user_id) DO NOTHING`
	if !validID(id) {
		return false, fmt.Errorf("message '%s': %w", id, errs.ErrNotFound)
	}
	tag, err := r.db.Pool.Exec(ctx, q, id, userID, time.Now().UTC())
	if err != nil {
		return false, classify(err, "add read receipt")
	}
	return tag.RowsAffected() == 1, nil
}

func (r *MessageRepo) SetContent(ctx context.Context, id, content string) error {
	const q = `UPDATE messages SET content=$2, edited=true WHERE id=$1`
	if !validID(id) {
		return fmt.Errorf("message '%s': %w", id, errs.ErrNotFound)
	}
	tag, err := r.db.Pool.Exec(ctx, q, id, content)
	if err != nil {
		return classify(err, "set content")
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("message '%s': %w", id, errs.ErrNotFound)
	}
	return nil
}

func (r *MessageRepo) AddReaction(ctx context.Context, id, userID, emoji string) ([]model.Reaction, error) {
	const q = `
INSERT INTO message_reactions (message_id, user_id, emoji, updated_at) VALUES ($1, $2, $3, $4)
ON CONFLICT (message_id, user_id) DO UPDATE SET emoji=EXCLUDED.emoji, updated_at=EXCLUDED.updated_at`
	if !validID(id) {
		return nil, fmt.Errorf("message '%s': %w", id, errs.ErrNotFound)
	}
	if _, err := r.db.Pool.Exec(ctx, q, id, userID, emoji, time.Now().UTC()); err != nil {
		return nil, classify(err, "add reaction")
	}
	return r.reactions(ctx, id)
}

func (r *MessageRepo) SoftDeleteFor(ctx context.Context, id, userID string) error {
	const q = `
INSERT INTO message_hidden (message_id, user_id) VALUES ($1, $2)
ON CONFLICT (message_id, user_id) DO NOTHING`
	if !validID(id) {
		return fmt.Errorf("message '%s': %w", id, errs.ErrNotFound)
	}
	_, err := r.db.Pool.Exec(ctx, q, id, userID)
	return classify(err, "soft delete")
}

func (r *MessageRepo) HardDelete(ctx context.Context, id string) error {
	const q = `DELETE FROM messages WHERE id=$1`
	if !validID(id) {
		return fmt.Errorf("message '%s': %w", id, errs.ErrNotFound)
	}
	tag, err := r.db.Pool.Exec(ctx, q, id)
	if err != nil {
		return classify(err, "hard delete")
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("message '%s': %w", id, errs.ErrNotFound)
	}
	return nil
}

func (r *MessageRepo) MarkConversationRead(ctx context.Context, senderID, recipientID string) ([]string, error) {
	const q = `
UPDATE messages SET status=$3
WHERE sender_id=$1 AND recipient_id=$2 AND status < $3
RETURNING id::text`
	rows, err := r.db.Pool.Query(ctx, q, senderID, recipientID, model.StatusRead.Rank())
	if err != nil {
		return nil, classify(err, "mark conversation read")
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, classify(err, "scan read ids")
	}
	return ids, nil
}

func (r *MessageRepo) mustExist(ctx context.Context, id string) error {
	const q = `SELECT EXISTS(SELECT 1 FROM messages WHERE id=$1)`
	var ok bool
	if err := r.db.Pool.QueryRow(ctx, q, id).Scan(&ok); err != nil {
		return classify(err, "check message")
	}
	if !ok {
		return fmt.Errorf("message '%s': %w", id, errs.ErrNotFound)
	}
	return nil
}

// validID rejects ids that could never match the uuid primary key.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
