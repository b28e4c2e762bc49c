package statemanager_test

import (
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/a-essam23/go-relay/pkg/logging"
	"github.com/a-essam23/go-relay/pkg/state"
	"github.com/a-essam23/go-relay/pkg/state/statemanager"
	"github.com/a-essam23/go-relay/pkg/state/statetest"
)

// --- Test Suite Setup ---

func newTestManager() *statemanager.InMemoryManager {
	return statemanager.NewInMemoryManager(logging.Discard())
}

func register(t *testing.T, m *statemanager.InMemoryManager) *statetest.Sink {
	t.Helper()
	sink := statetest.NewSink()
	if _, err := m.RegisterConnection(sink, state.ConnectionMeta{IPAddress: "127.0.0.1"}); err != nil {
		t.Fatalf("RegisterConnection failed: %v", err)
	}
	return sink
}

func bind(t *testing.T, m *statemanager.InMemoryManager, sink *statetest.Sink, userID string) bool {
	t.Helper()
	first, err := m.Bind(sink.ID(), userID)
	if err != nil {
		t.Fatalf("Bind(%s) failed: %v", userID, err)
	}
	return first
}

// --- Connection Lifecycle Tests ---

func TestConnectionLifecycle(t *testing.T) {
	m := newTestManager()
	sink := statetest.NewSink()

	stateConn, err := m.RegisterConnection(sink, state.ConnectionMeta{IPAddress: "10.0.0.1", UserAgent: "test"})
	if err != nil {
		t.Fatalf("RegisterConnection failed: %v", err)
	}
	if stateConn.ID != sink.ID() {
		t.Errorf("Registered connection ID mismatch")
	}
	if stateConn.UserID != "" {
		t.Errorf("Fresh connection should be anonymous, got %q", stateConn.UserID)
	}

	if _, err := m.RegisterConnection(sink, state.ConnectionMeta{}); !errors.Is(err, state.ErrDuplicate) {
		t.Errorf("Expected ErrDuplicate on second register, got %v", err)
	}

	retrieved, found := m.GetConnection(sink.ID())
	if !found {
		t.Fatal("GetConnection failed to find registered connection")
	}
	if retrieved.IPAddress != "10.0.0.1" || retrieved.UserAgent != "test" {
		t.Errorf("Metadata not preserved: %+v", retrieved)
	}

	if _, err := m.DeregisterConnection(sink.ID()); err != nil {
		t.Fatalf("DeregisterConnection failed: %v", err)
	}
	if _, found := m.GetConnection(sink.ID()); found {
		t.Error("Found connection after it should have been deregistered")
	}

	// a second deregister is a no-op
	dep, err := m.DeregisterConnection(sink.ID())
	if err != nil || dep.UserID != "" {
		t.Errorf("Expected empty departure on repeated deregister, got %+v, %v", dep, err)
	}
}

// --- Presence Tests ---

func TestPresence_MultipleDevices(t *testing.T) {
	m := newTestManager()
	userID := "alice"
	sinks := []*statetest.Sink{register(t, m), register(t, m), register(t, m)}

	for i, s := range sinks {
		first := bind(t, m, s, userID)
		if first != (i == 0) {
			t.Errorf("Bind #%d: expected first=%v, got %v", i, i == 0, first)
		}
	}
	if !m.IsOnline(userID) {
		t.Fatal("Expected user to be online")
	}
	if n, _ := m.GetUserConnectionCount(userID); n != 3 {
		t.Errorf("Expected 3 connections, got %d", n)
	}

	for i, s := range sinks {
		dep, err := m.DeregisterConnection(s.ID())
		if err != nil {
			t.Fatalf("DeregisterConnection failed: %v", err)
		}
		last := i == len(sinks)-1
		if dep.WentOffline != last {
			t.Errorf("Deregister #%d: expected WentOffline=%v, got %v", i, last, dep.WentOffline)
		}
		if dep.UserID != userID {
			t.Errorf("Deregister #%d: expected user %s, got %s", i, userID, dep.UserID)
		}
		if m.IsOnline(userID) == last {
			t.Errorf("Deregister #%d: unexpected online state", i)
		}
	}
}

func TestPresence_BindIsIdempotent(t *testing.T) {
	m := newTestManager()
	sink := register(t, m)

	if !bind(t, m, sink, "bob") {
		t.Error("First bind should report first=true")
	}
	if bind(t, m, sink, "bob") {
		t.Error("Repeated bind should report first=false")
	}
	if n, _ := m.GetUserConnectionCount("bob"); n != 1 {
		t.Errorf("Expected 1 connection after repeated bind, got %d", n)
	}
}

func TestPresence_IdentityIsImmutable(t *testing.T) {
	m := newTestManager()
	sink := register(t, m)
	bind(t, m, sink, "carol")

	_, err := m.Bind(sink.ID(), "mallory")
	if !errors.Is(err, state.ErrAlreadyBound) {
		t.Fatalf("Expected ErrAlreadyBound, got %v", err)
	}
	if m.IsOnline("mallory") {
		t.Error("Rejected bind must not mark the other identity online")
	}

	// identity survives unbind too
	m.Unbind(sink.ID())
	if _, err := m.Bind(sink.ID(), "mallory"); !errors.Is(err, state.ErrAlreadyBound) {
		t.Errorf("Expected ErrAlreadyBound after unbind, got %v", err)
	}
}

func TestPresence_UnbindAndErrors(t *testing.T) {
	m := newTestManager()
	sink := register(t, m)

	if _, last := m.Unbind(sink.ID()); last {
		t.Error("Unbinding an unbound connection must not report last")
	}
	if _, err := m.Bind(sink.ID(), ""); err == nil {
		t.Error("Expected error binding empty identity")
	}
	other := statetest.NewSink()
	if _, err := m.Bind(other.ID(), "dave"); !errors.Is(err, state.ErrUnknownConnection) {
		t.Errorf("Expected ErrUnknownConnection, got %v", err)
	}

	bind(t, m, sink, "dave")
	userID, last := m.Unbind(sink.ID())
	if userID != "dave" || !last {
		t.Errorf("Expected (dave, true), got (%s, %v)", userID, last)
	}
	if conn, _ := m.GetConnection(sink.ID()); conn.UserID != "" {
		t.Errorf("Unbound connection should report no user, got %q", conn.UserID)
	}
}

func TestPresence_OnlineUsersSorted(t *testing.T) {
	m := newTestManager()
	for _, u := range []string{"zed", "amy", "kim"} {
		bind(t, m, register(t, m), u)
	}
	register(t, m) // anonymous

	got := m.OnlineUsers()
	want := []string{"amy", "kim", "zed"}
	if len(got) != len(want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Expected %v, got %v", want, got)
			break
		}
	}
}

func TestFindOldestUserConnection(t *testing.T) {
	m := newTestManager()
	userID := "user-cycle"
	conn1 := register(t, m)
	time.Sleep(5 * time.Millisecond) // Ensure timestamps are different
	conn2 := register(t, m)
	bind(t, m, conn2, userID)
	bind(t, m, conn1, userID)

	oldest, found := m.FindOldestUserConnection(userID)
	if !found {
		t.Fatal("Expected to find oldest connection, but did not")
	}
	if oldest.ID != conn1.ID() {
		t.Errorf("Expected oldest connection ID to be %s, got %s", conn1.ID(), oldest.ID)
	}
	if _, found := m.FindOldestUserConnection("nobody"); found {
		t.Error("Expected no connection for unknown user")
	}
}

// --- Room Management Tests ---

func TestRoomMembership(t *testing.T) {
	m := newTestManager()
	roomID := "group:1"
	conn1, conn2 := register(t, m), register(t, m)

	if err := m.Join(conn1.ID(), roomID); err != nil {
		t.Fatalf("conn1 failed to join room: %v", err)
	}
	if err := m.Join(conn2.ID(), roomID); err != nil {
		t.Fatalf("conn2 failed to join room: %v", err)
	}
	// joining twice does not duplicate membership
	if err := m.Join(conn2.ID(), roomID); err != nil {
		t.Fatalf("conn2 failed to re-join room: %v", err)
	}
	if n := len(m.Members(roomID)); n != 2 {
		t.Fatalf("Expected 2 members in room, got %d", n)
	}

	if err := m.Leave(conn1.ID(), roomID); err != nil {
		t.Fatalf("conn1 failed to leave room: %v", err)
	}
	members := m.Members(roomID)
	if len(members) != 1 || members[0].ID() != conn2.ID() {
		t.Fatalf("Expected only conn2 to remain, got %d members", len(members))
	}

	// leaving a room one is not in is a no-op
	if err := m.Leave(conn1.ID(), roomID); err != nil {
		t.Errorf("Leave on non-member returned %v", err)
	}

	// Test empty room cleanup
	m.Leave(conn2.ID(), roomID)
	if m.RoomCount() != 0 {
		t.Errorf("Expected room to be removed after last member left, got %d rooms", m.RoomCount())
	}
}

func TestRoomMembership_UnknownConnection(t *testing.T) {
	m := newTestManager()
	ghost := statetest.NewSink()
	if err := m.Join(ghost.ID(), "discussion"); !errors.Is(err, state.ErrUnknownConnection) {
		t.Errorf("Expected ErrUnknownConnection on join, got %v", err)
	}
	if err := m.Leave(ghost.ID(), "discussion"); !errors.Is(err, state.ErrUnknownConnection) {
		t.Errorf("Expected ErrUnknownConnection on leave, got %v", err)
	}
	if rooms := m.LeaveAll(ghost.ID()); rooms != nil {
		t.Errorf("Expected nil rooms for unknown connection, got %v", rooms)
	}
}

func TestDeregisterLeavesAllRooms(t *testing.T) {
	m := newTestManager()
	sink := register(t, m)
	peer := register(t, m)
	bind(t, m, sink, "erin")

	for _, r := range []string{"discussion", "group:a", "announcement:b"} {
		if err := m.Join(sink.ID(), r); err != nil {
			t.Fatalf("Join %s failed: %v", r, err)
		}
	}
	m.Join(peer.ID(), "group:a")

	conn, _ := m.GetConnection(sink.ID())
	if len(conn.Rooms) != 3 {
		t.Fatalf("Expected 3 rooms in snapshot, got %v", conn.Rooms)
	}

	dep, _ := m.DeregisterConnection(sink.ID())
	if len(dep.Rooms) != 3 || !dep.WentOffline {
		t.Errorf("Unexpected departure: %+v", dep)
	}
	if n := len(m.Members("group:a")); n != 1 {
		t.Errorf("Expected peer to remain in group:a, got %d members", n)
	}
	if m.RoomCount() != 1 {
		t.Errorf("Expected only group:a to survive, got %d rooms", m.RoomCount())
	}
}

// --- Delivery Tests ---

func TestBroadcastTargeting(t *testing.T) {
	m := newTestManager()
	a1, a2 := register(t, m), register(t, m)
	b := register(t, m)
	anon := register(t, m)
	bind(t, m, a1, "alice")
	bind(t, m, a2, "alice")
	bind(t, m, b, "bob")
	m.Join(a1.ID(), "group:x")
	m.Join(b.ID(), "group:x")

	if n := m.Broadcast("group:x", []byte("room")); n != 2 {
		t.Errorf("Expected 2 room sends, got %d", n)
	}
	if n := m.BroadcastToUser("alice", []byte("user")); n != 2 {
		t.Errorf("Expected 2 user sends, got %d", n)
	}
	if n := m.BroadcastAll([]byte("all")); n != 3 {
		t.Errorf("Expected 3 sends to bound connections, got %d", n)
	}
	if err := m.SendTo(anon.ID(), []byte("direct")); err != nil {
		t.Errorf("SendTo failed: %v", err)
	}

	expect := map[*statetest.Sink][]string{
		a1:   {"room", "user", "all"},
		a2:   {"user", "all"},
		b:    {"room", "all"},
		anon: {"direct"},
	}
	for sink, want := range expect {
		got := sink.Strings()
		if len(got) != len(want) {
			t.Errorf("conn %s: expected %v, got %v", sink.ID(), want, got)
			continue
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("conn %s: expected %v, got %v", sink.ID(), want, got)
				break
			}
		}
	}

	if err := m.SendTo(statetest.NewSink().ID(), []byte("x")); !errors.Is(err, state.ErrUnknownConnection) {
		t.Errorf("Expected ErrUnknownConnection, got %v", err)
	}
}

func TestBroadcastSkipsClosedMembers(t *testing.T) {
	m := newTestManager()
	live, dead := register(t, m), register(t, m)
	m.Join(live.ID(), "discussion")
	m.Join(dead.ID(), "discussion")
	dead.Close(nil)

	if n := m.Broadcast("discussion", []byte("hi")); n != 1 {
		t.Errorf("Expected 1 successful send, got %d", n)
	}
	if len(live.Messages()) != 1 {
		t.Error("Live member did not receive the broadcast")
	}
	if n := m.Broadcast("nowhere", []byte("hi")); n != 0 {
		t.Errorf("Expected 0 sends to an empty room, got %d", n)
	}
}

// --- Concurrency Tests ---

func TestConcurrentBindJoinDeregister(t *testing.T) {
	m := newTestManager()
	const workers = 50
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sink := statetest.NewSink()
			if _, err := m.RegisterConnection(sink, state.ConnectionMeta{}); err != nil {
				t.Errorf("RegisterConnection failed: %v", err)
				return
			}
			userID := "user" + strconv.Itoa(i%5)
			if _, err := m.Bind(sink.ID(), userID); err != nil {
				t.Errorf("Bind failed: %v", err)
			}
			m.Join(sink.ID(), "discussion")
			m.Join(sink.ID(), "group:"+strconv.Itoa(i%3))
			m.Broadcast("discussion", []byte("ping"))
			m.BroadcastAll([]byte("all"))
			m.DeregisterConnection(sink.ID())
		}(i)
	}
	wg.Wait()

	if users := m.OnlineUsers(); len(users) != 0 {
		t.Errorf("Expected no online users, got %v", users)
	}
	if m.RoomCount() != 0 {
		t.Errorf("Expected all rooms removed, got %d", m.RoomCount())
	}
	if conns := m.AllConnections(); len(conns) != 0 {
		t.Errorf("Expected no connections, got %d", len(conns))
	}
}
