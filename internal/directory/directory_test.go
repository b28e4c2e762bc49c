package directory

import (
	"context"
	"testing"
	"time"

	"github.com/a-essam23/go-relay/internal/errs"
	"github.com/a-essam23/go-relay/internal/model"
	"github.com/a-essam23/go-relay/pkg/logging"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_StatusTransitions(t *testing.T) {
	d := NewMemory()
	ctx := context.Background()

	_, err := d.FindUser(ctx, "u1")
	require.ErrorIs(t, err, errs.ErrNotFound)

	require.NoError(t, d.SetOnline(ctx, "u1"))
	u, err := d.FindUser(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, u.Online)

	seen := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, d.SetOffline(ctx, "u1", seen))
	u, err = d.FindUser(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, u.Online)
	assert.Equal(t, seen, u.LastSeen)
}

func TestMemory_AddLinkedDevice(t *testing.T) {
	d := NewMemory()
	ctx := context.Background()

	err := d.AddLinkedDevice(ctx, &model.LinkedDevice{UserID: "ghost"})
	require.ErrorIs(t, err, errs.ErrNotFound)

	d.AddUser(model.User{ID: "u1"})
	dev := &model.LinkedDevice{UserID: "u1", Label: "laptop"}
	require.NoError(t, d.AddLinkedDevice(ctx, dev))
	assert.NotEmpty(t, dev.ID)
	assert.False(t, dev.LinkedAt.IsZero())

	devices := d.LinkedDevices("u1")
	require.Len(t, devices, 1)
	assert.Equal(t, "laptop", devices[0].Label)
}

func TestRedisMirror_Keys(t *testing.T) {
	assert.Equal(t, "im:presence:u1", presenceKey("u1"))
	assert.Equal(t, "im:lastseen:u1", lastSeenKey("u1"))
}

func TestRedisMirror_UnreachableStillWritesPrimary(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer rdb.Close()

	inner := NewMemory()
	m := NewRedisMirror(inner, rdb, time.Minute, logging.Discard())
	ctx := context.Background()

	err := m.SetOnline(ctx, "u1")
	require.Error(t, err)
	u, err := inner.FindUser(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, u.Online)

	err = m.SetOffline(ctx, "u1", time.Now())
	require.Error(t, err)
	u, err = inner.FindUser(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, u.Online)

	// mirror lookup failures do not hide the primary record
	u, err = m.FindUser(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, u.Online)
}

func newMirror(t *testing.T, ttl time.Duration) (*RedisMirror, *Memory, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	inner := NewMemory()
	return NewRedisMirror(inner, rdb, ttl, logging.Discard()), inner, mr
}

func TestRedisMirror_OnlineOffline(t *testing.T) {
	m, inner, mr := newMirror(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, m.SetOnline(ctx, "u1"))
	assert.True(t, mr.Exists(presenceKey("u1")))
	assert.Equal(t, time.Hour, mr.TTL(presenceKey("u1")))
	online, err := m.Online(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, online)

	seen := time.Unix(1700000000, 0)
	require.NoError(t, m.SetOffline(ctx, "u1", seen))
	assert.False(t, mr.Exists(presenceKey("u1")))
	last, err := mr.Get(lastSeenKey("u1"))
	require.NoError(t, err)
	assert.Equal(t, "1700000000", last)
	assert.Equal(t, time.Hour, mr.TTL(lastSeenKey("u1")))

	online, err = m.Online(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, online)
	u, err := inner.FindUser(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, u.Online)
}

func TestRedisMirror_FindUserFallsBackToMirror(t *testing.T) {
	m, inner, mr := newMirror(t, time.Hour)
	ctx := context.Background()
	inner.AddUser(model.User{ID: "u1"})

	// another relay process marked u1 online
	require.NoError(t, mr.Set(presenceKey("u1"), "1"))
	u, err := m.FindUser(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, u.Online)
}

func TestRedisMirror_RefreshOutlivesTTL(t *testing.T) {
	m, _, mr := newMirror(t, time.Minute)
	ctx := context.Background()
	require.NoError(t, m.SetOnline(ctx, "u1"))

	for i := 0; i < 5; i++ {
		mr.FastForward(40 * time.Second)
		require.NoError(t, m.Refresh(ctx, []string{"u1"}))
	}
	assert.True(t, mr.Exists(presenceKey("u1")), "a connected user must stay in the mirror")
	assert.Equal(t, time.Minute, mr.TTL(presenceKey("u1")))

	require.NoError(t, m.SetOffline(ctx, "u1", time.Now()))
	require.NoError(t, m.Refresh(ctx, []string{"u1"}))
	assert.False(t, mr.Exists(presenceKey("u1")), "refresh must not resurrect an offline user")
}

func TestRedisMirror_KeepAlive(t *testing.T) {
	m, _, mr := newMirror(t, 90*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, m.SetOnline(ctx, "u1"))
	mr.SetTTL(presenceKey("u1"), time.Millisecond)

	done := make(chan struct{})
	go func() {
		m.KeepAlive(ctx, func() []string { return []string{"u1"} })
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return mr.TTL(presenceKey("u1")) == 90*time.Millisecond
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("keepalive did not stop")
	}
}
