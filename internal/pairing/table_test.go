package pairing

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/a-essam23/go-relay/internal/errs"
	"github.com/a-essam23/go-relay/pkg/logging"
	"github.com/a-essam23/go-relay/pkg/state"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndConsume(t *testing.T) {
	tbl := NewTable(time.Minute, logging.Discard())
	defer tbl.Close()
	connID := uuid.New()

	sess, err := tbl.Issue(connID, "alice", ClientInfo{UserAgent: "phone"})
	require.NoError(t, err)
	assert.NotEmpty(t, sess.Code)
	assert.Equal(t, state.PairingRoom(sess.Code), sess.Room)
	assert.True(t, strings.HasPrefix(sess.Room, state.PairingPrefix))
	assert.Equal(t, 1, tbl.Len())

	got, err := tbl.Consume(sess.Code)
	require.NoError(t, err)
	assert.Equal(t, connID, got.ConnID)
	assert.Equal(t, "alice", got.UserID)
	assert.Equal(t, "phone", got.Client.UserAgent)

	_, err = tbl.Consume(sess.Code)
	assert.ErrorIs(t, err, errs.ErrNotFound, "a code is single-use")
	assert.Equal(t, 0, tbl.Len())
}

func TestCodesAreUnique(t *testing.T) {
	tbl := NewTable(0, logging.Discard())
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		sess, err := tbl.Issue(uuid.New(), "u", ClientInfo{})
		require.NoError(t, err)
		_, dup := seen[sess.Code]
		require.False(t, dup)
		seen[sess.Code] = struct{}{}
	}
}

func TestExpiry(t *testing.T) {
	tbl := NewTable(20*time.Millisecond, logging.Discard())
	defer tbl.Close()

	expired := make(chan Session, 1)
	tbl.SetOnExpire(func(s Session) { expired <- s })

	sess, err := tbl.Issue(uuid.New(), "alice", ClientInfo{})
	require.NoError(t, err)

	select {
	case got := <-expired:
		assert.Equal(t, sess.Code, got.Code)
	case <-time.After(time.Second):
		t.Fatal("session did not expire")
	}
	_, err = tbl.Consume(sess.Code)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestConsumeStopsExpiry(t *testing.T) {
	tbl := NewTable(20*time.Millisecond, logging.Discard())
	defer tbl.Close()

	var fired bool
	var mu sync.Mutex
	tbl.SetOnExpire(func(Session) {
		mu.Lock()
		fired = true
		mu.Unlock()
	})

	sess, err := tbl.Issue(uuid.New(), "alice", ClientInfo{})
	require.NoError(t, err)
	_, err = tbl.Consume(sess.Code)
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.False(t, fired)
}

func TestReleaseConn(t *testing.T) {
	tbl := NewTable(time.Minute, logging.Discard())
	defer tbl.Close()
	primary, other := uuid.New(), uuid.New()

	a, _ := tbl.Issue(primary, "alice", ClientInfo{})
	b, _ := tbl.Issue(primary, "alice", ClientInfo{})
	c, _ := tbl.Issue(other, "bob", ClientInfo{})

	released := tbl.ReleaseConn(primary)
	assert.ElementsMatch(t, []string{a.Code, b.Code}, released)
	assert.Equal(t, 1, tbl.Len())

	_, err := tbl.Consume(a.Code)
	assert.ErrorIs(t, err, errs.ErrNotFound)
	_, err = tbl.Consume(c.Code)
	assert.NoError(t, err)

	assert.Empty(t, tbl.ReleaseConn(primary))
}

func TestConcurrentConsumeSucceedsOnce(t *testing.T) {
	tbl := NewTable(time.Minute, logging.Discard())
	defer tbl.Close()
	sess, _ := tbl.Issue(uuid.New(), "alice", ClientInfo{})

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := tbl.Consume(sess.Code); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestClose(t *testing.T) {
	tbl := NewTable(time.Minute, logging.Discard())
	_, _ = tbl.Issue(uuid.New(), "alice", ClientInfo{})
	tbl.Close()
	assert.Equal(t, 0, tbl.Len())
	_, err := tbl.Issue(uuid.New(), "alice", ClientInfo{})
	assert.ErrorIs(t, err, ErrClosed)
}
