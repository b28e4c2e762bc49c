package delivery

import (
	"context"
	"testing"

	"github.com/a-essam23/go-relay/internal/errs"
	"github.com/a-essam23/go-relay/internal/model"
	"github.com/a-essam23/go-relay/internal/store"
	"github.com/a-essam23/go-relay/pkg/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*Machine, *store.MemoryStore) {
	t.Helper()
	s := store.NewMemoryStore()
	return NewMachine(s, logging.Discard()), s
}

func direct(t *testing.T, s *store.MemoryStore, from, to string) *model.Message {
	t.Helper()
	m, err := s.Create(context.Background(), &model.Message{SenderID: from, RecipientID: to, Content: "hi"})
	require.NoError(t, err)
	return m
}

func TestDelivered_AdvancesOnce(t *testing.T) {
	mc, s := setup(t)
	ctx := context.Background()
	msg := direct(t, s, "u1", "u2")

	out, err := mc.Delivered(ctx, msg.ID, "u2")
	require.NoError(t, err)
	assert.True(t, out.Changed)
	assert.Equal(t, model.StatusDelivered, out.Status)
	assert.Equal(t, "u1", out.Message.SenderID)

	out, err = mc.Delivered(ctx, msg.ID, "u2")
	require.NoError(t, err)
	assert.False(t, out.Changed)
}

func TestDelivered_OnlyRecipient(t *testing.T) {
	mc, s := setup(t)
	msg := direct(t, s, "u1", "u2")

	_, err := mc.Delivered(context.Background(), msg.ID, "u1")
	assert.ErrorIs(t, err, errs.ErrUnauthorized)

	stored, _ := s.Get(context.Background(), msg.ID)
	assert.Equal(t, model.StatusSent, stored.Status)
}

func TestDelivered_RoomMessageIsNoop(t *testing.T) {
	mc, s := setup(t)
	msg, err := s.Create(context.Background(), &model.Message{SenderID: "u1", RoomID: "group:1", Content: "x"})
	require.NoError(t, err)

	out, err := mc.Delivered(context.Background(), msg.ID, "u2")
	require.NoError(t, err)
	assert.False(t, out.Changed)
}

func TestDelivered_AfterReadIsNoop(t *testing.T) {
	mc, s := setup(t)
	ctx := context.Background()
	msg := direct(t, s, "u1", "u2")

	out, err := mc.Read(ctx, msg.ID, "u2")
	require.NoError(t, err)
	assert.True(t, out.Changed, "sent -> read shortcut is legal")
	assert.Equal(t, model.StatusRead, out.Status)

	out, err = mc.Delivered(ctx, msg.ID, "u2")
	require.NoError(t, err)
	assert.False(t, out.Changed)
	assert.Equal(t, model.StatusRead, out.Status)

	stored, _ := s.Get(ctx, msg.ID)
	assert.Equal(t, model.StatusRead, stored.Status)
}

func TestRead_RoomReceiptsAreIdempotent(t *testing.T) {
	mc, s := setup(t)
	ctx := context.Background()
	msg, err := s.Create(ctx, &model.Message{SenderID: "u1", RoomID: "group:42", Content: "x"})
	require.NoError(t, err)

	out, err := mc.Read(ctx, msg.ID, "u2")
	require.NoError(t, err)
	assert.True(t, out.Changed)
	assert.Equal(t, "u2", out.ReadBy)

	out, err = mc.Read(ctx, msg.ID, "u2")
	require.NoError(t, err)
	assert.False(t, out.Changed)

	// the sender reading their own message leaves no receipt
	out, err = mc.Read(ctx, msg.ID, "u1")
	require.NoError(t, err)
	assert.False(t, out.Changed)

	stored, _ := s.Get(ctx, msg.ID)
	require.Len(t, stored.ReadBy, 1)
	assert.Equal(t, "u2", stored.ReadBy[0].UserID)
}

func TestRead_NotFound(t *testing.T) {
	mc, _ := setup(t)
	_, err := mc.Read(context.Background(), "missing", "u2")
	assert.ErrorIs(t, err, errs.ErrNotFound)
	_, err = mc.Delivered(context.Background(), "missing", "u2")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestReadConversation(t *testing.T) {
	mc, s := setup(t)
	ctx := context.Background()
	a := direct(t, s, "u1", "u2")
	b := direct(t, s, "u1", "u2")
	_ = direct(t, s, "u2", "u1")
	_, err := mc.Delivered(ctx, b.ID, "u2")
	require.NoError(t, err)

	ids, err := mc.ReadConversation(ctx, "u2", "u1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a.ID, b.ID}, ids)

	ids, err = mc.ReadConversation(ctx, "u2", "u1")
	require.NoError(t, err)
	assert.Empty(t, ids)

	_, err = mc.ReadConversation(ctx, "u2", "u2")
	assert.ErrorIs(t, err, errs.ErrInvalidEvent)
}
