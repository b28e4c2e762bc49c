package store

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/a-essam23/go-relay/internal/errs"
	"github.com/a-essam23/go-relay/internal/model"
	"github.com/google/uuid"
)

// MemoryStore keeps messages in a map. A single mutex serializes every write,
// which gives the per-message compare-and-set semantics the router relies on.
type MemoryStore struct {
	mu       sync.RWMutex
	messages map[string]*model.Message
	now      func() time.Time
}

var _ MessageStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages: make(map[string]*model.Message),
		now:      time.Now,
	}
}

func (s *MemoryStore) Create(ctx context.Context, msg *model.Message) (*model.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stored := msg.Clone()
	stored.ID = uuid.NewString()
	stored.CreatedAt = s.now().UTC()
	stored.Edited = false
	stored.ReadBy = nil
	stored.Reactions = nil
	stored.DeletedFor = nil
	if stored.IsDirect() {
		stored.Status = model.StatusSent
	} else {
		stored.Status = ""
	}

	s.mu.Lock()
	s.messages[stored.ID] = stored
	s.mu.Unlock()
	return stored.Clone(), nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*model.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, notFound(id)
	}
	return m.Clone(), nil
}

func (s *MemoryStore) SetStatus(ctx context.Context, id string, status model.Status) (bool, error) {
	if status.Rank() < 0 {
		return false, fmt.Errorf("%w: unknown status '%s'", errs.ErrInvalidEvent, status)
	}
	return s.update(ctx, id, func(m *model.Message) bool {
		if !m.IsDirect() || !m.Status.Before(status) {
			return false
		}
		m.Status = status
		return true
	})
}

func (s *MemoryStore) AddReadReceipt(ctx context.Context, id, userID string) (bool, error) {
	return s.update(ctx, id, func(m *model.Message) bool {
		if m.HasReceipt(userID) {
			return false
		}
		m.ReadBy = append(m.ReadBy, model.Receipt{UserID: userID, ReadAt: s.now().UTC()})
		return true
	})
}

func (s *MemoryStore) SetContent(ctx context.Context, id, content string) error {
	_, err := s.update(ctx, id, func(m *model.Message) bool {
		m.Content = content
		m.Edited = true
		return true
	})
	return err
}

func (s *MemoryStore) AddReaction(ctx context.Context, id, userID, emoji string) ([]model.Reaction, error) {
	var reactions []model.Reaction
	_, err := s.update(ctx, id, func(m *model.Message) bool {
		m.UpsertReaction(userID, emoji)
		reactions = slices.Clone(m.Reactions)
		return true
	})
	if err != nil {
		return nil, err
	}
	return reactions, nil
}

func (s *MemoryStore) SoftDeleteFor(ctx context.Context, id, userID string) error {
	_, err := s.update(ctx, id, func(m *model.Message) bool {
		if m.HiddenFor(userID) {
			return false
		}
		m.DeletedFor = append(m.DeletedFor, userID)
		return true
	})
	return err
}

func (s *MemoryStore) HardDelete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[id]; !ok {
		return notFound(id)
	}
	delete(s.messages, id)
	return nil
}

func (s *MemoryStore) MarkConversationRead(ctx context.Context, senderID, recipientID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var changed []*model.Message
	for _, m := range s.messages {
		if m.SenderID != senderID || m.RecipientID != recipientID {
			continue
		}
		if m.Status.Before(model.StatusRead) {
			m.Status = model.StatusRead
			changed = append(changed, m)
		}
	}
	sort.Slice(changed, func(i, j int) bool { return changed[i].CreatedAt.Before(changed[j].CreatedAt) })
	ids := make([]string, len(changed))
	for i, m := range changed {
		ids[i] = m.ID
	}
	return ids, nil
}

// Len reports the number of stored messages.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

func (s *MemoryStore) update(ctx context.Context, id string, fn func(m *model.Message) bool) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return false, notFound(id)
	}
	return fn(m), nil
}

func notFound(id string) error {
	return fmt.Errorf("message '%s': %w", id, errs.ErrNotFound)
}
