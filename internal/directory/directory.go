// Package directory defines the user-directory collaborator: user lookup,
// durable online/offline status and linked-device records.
package directory

import (
	"context"
	"time"

	"github.com/a-essam23/go-relay/internal/model"
)

type Directory interface {
	// FindUser returns errs.ErrNotFound for unknown users.
	FindUser(ctx context.Context, userID string) (*model.User, error)
	SetOnline(ctx context.Context, userID string) error
	SetOffline(ctx context.Context, userID string, lastSeen time.Time) error
	// AddLinkedDevice assigns ID and LinkedAt when they are empty.
	AddLinkedDevice(ctx context.Context, device *model.LinkedDevice) error
}
