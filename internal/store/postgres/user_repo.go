package postgres

import (
	"context"
	"time"

	"github.com/a-essam23/go-relay/internal/directory"
	"github.com/a-essam23/go-relay/internal/model"
	"github.com/google/uuid"
)

// UserRepo implements directory.Directory using PostgreSQL.
type UserRepo struct{ db *DB }

var _ directory.Directory = (*UserRepo)(nil)

func NewUserRepo(db *DB) *UserRepo { return &UserRepo{db: db} }

func (r *UserRepo) FindUser(ctx context.Context, userID string) (*model.User, error) {
	const q = `SELECT id, name, online, last_seen FROM users WHERE id=$1`
	var (
		u        model.User
		lastSeen *time.Time
	)
	if err := r.db.Pool.QueryRow(ctx, q, userID).Scan(&u.ID, &u.Name, &u.Online, &lastSeen); err != nil {
		return nil, classify(err, "find user")
	}
	if lastSeen != nil {
		u.LastSeen = *lastSeen
	}
	return &u, nil
}

func (r *UserRepo) SetOnline(ctx context.Context, userID string) error {
	const q = `
INSERT INTO users (id, online, last_seen) VALUES ($1, true, $2)
ON CONFLICT (id) DO UPDATE SET online=true, last_seen=EXCLUDED.last_seen`
	_, err := r.db.Pool.Exec(ctx, q, userID, time.Now().UTC())
	return classify(err, "set online")
}

func (r *UserRepo) SetOffline(ctx context.Context, userID string, lastSeen time.Time) error {
	const q = `
INSERT INTO users (id, online, last_seen) VALUES ($1, false, $2)
ON CONFLICT (id) DO UPDATE SET online=false, last_seen=EXCLUDED.last_seen`
	_, err := r.db.Pool.Exec(ctx, q, userID, lastSeen.UTC())
	return classify(err, "set offline")
}

func (r *UserRepo) AddLinkedDevice(ctx context.Context, d *model.LinkedDevice) error {
	const q = `
INSERT INTO linked_devices (id, user_id, label, user_agent, ip_address, primary_user_agent, primary_ip, linked_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.LinkedAt.IsZero() {
		d.LinkedAt = time.Now().UTC()
	}
	_, err := r.db.Pool.Exec(ctx, q, d.ID, d.UserID, d.Label, d.UserAgent, d.IPAddress, d.PrimaryUserAgent, d.PrimaryIP, d.LinkedAt)
	return classify(err, "add linked device")
}
