package directory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/a-essam23/go-relay/internal/errs"
	"github.com/a-essam23/go-relay/internal/model"
	"github.com/google/uuid"
)

// Memory is a process-local directory. Users are created on their first
// SetOnline, so a fresh process only knows users that have announced.
type Memory struct {
	mu      sync.RWMutex
	users   map[string]*model.User
	devices map[string][]model.LinkedDevice
}

var _ Directory = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		users:   make(map[string]*model.User),
		devices: make(map[string][]model.LinkedDevice),
	}
}

// AddUser registers a user without marking it online.
func (m *Memory) AddUser(u model.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = &u
}

func (m *Memory) FindUser(ctx context.Context, userID string) (*model.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[userID]
	if !ok {
		return nil, fmt.Errorf("user '%s': %w", userID, errs.ErrNotFound)
	}
	cp := *u
	return &cp, nil
}

func (m *Memory) SetOnline(ctx context.Context, userID string) error {
	return m.setStatus(ctx, userID, true, time.Now().UTC())
}

func (m *Memory) SetOffline(ctx context.Context, userID string, lastSeen time.Time) error {
	return m.setStatus(ctx, userID, false, lastSeen.UTC())
}

func (m *Memory) setStatus(ctx context.Context, userID string, online bool, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		u = &model.User{ID: userID}
		m.users[userID] = u
	}
	u.Online = online
	u.LastSeen = at
	return nil
}

func (m *Memory) AddLinkedDevice(ctx context.Context, d *model.LinkedDevice) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[d.UserID]; !ok {
		return fmt.Errorf("user '%s': %w", d.UserID, errs.ErrNotFound)
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.LinkedAt.IsZero() {
		d.LinkedAt = time.Now().UTC()
	}
	m.devices[d.UserID] = append(m.devices[d.UserID], *d)
	return nil
}

func (m *Memory) LinkedDevices(userID string) []model.LinkedDevice {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.devices[userID])
}
