package ws

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
)

type stubConn struct {
	mu       sync.Mutex
	received [][]byte
	failWith error
	closed   bool
}

func (s *stubConn) Enqueue(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	s.received = append(s.received, payload)
	return nil
}

func (s *stubConn) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *stubConn) messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.received))
	for _, p := range s.received {
		out = append(out, string(p))
	}
	return out
}

func newTestHub() *Hub {
	return NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestSendToUserWithoutConnectionsIsNoop(t *testing.T) {
	hub := newTestHub()
	hub.SendToUser("ghost", []byte("hello"))
	if got := hub.CountConnections(); got != 0 {
		t.Fatalf("expected empty registry, got %d connections", got)
	}
}

func TestSendToUserReachesEveryConnection(t *testing.T) {
	hub := newTestHub()
	first := &stubConn{}
	second := &stubConn{}
	other := &stubConn{}
	hub.Register("alice", first)
	hub.Register("alice", second)
	hub.Register("bob", other)

	hub.SendToUser("alice", []byte("direct"))

	for i, conn := range []*stubConn{first, second} {
		if msgs := conn.messages(); len(msgs) != 1 || msgs[0] != "direct" {
			t.Fatalf("alice connection %d: unexpected messages %v", i, msgs)
		}
	}
	if msgs := other.messages(); len(msgs) != 0 {
		t.Fatalf("bob must not receive a direct message, got %v", msgs)
	}
}

func TestBroadcastReachesAllUsers(t *testing.T) {
	hub := newTestHub()
	conns := make([]*stubConn, 4)
	for i := range conns {
		conns[i] = &stubConn{}
		hub.Register(fmt.Sprintf("user-%d", i%2), conns[i])
	}

	hub.Broadcast([]byte("fanout"))

	for i, conn := range conns {
		if msgs := conn.messages(); len(msgs) != 1 || msgs[0] != "fanout" {
			t.Fatalf("connection %d: unexpected messages %v", i, msgs)
		}
	}
}

func TestUnregisterPrunesEmptyEntries(t *testing.T) {
	hub := newTestHub()
	conn := &stubConn{}
	hub.Register("alice", conn)
	if got := hub.Connections("alice"); got != 1 {
		t.Fatalf("expected one connection, got %d", got)
	}
	hub.Unregister("alice", conn)
	if got := hub.Connections("alice"); got != 0 {
		t.Fatalf("expected entry pruned, got %d", got)
	}
	if got := hub.CountConnections(); got != 0 {
		t.Fatalf("expected empty registry, got %d", got)
	}
}

func TestUnregisterIsIdempotent(t *testing.T) {
	hub := newTestHub()
	conn := &stubConn{}
	sibling := &stubConn{}
	hub.Register("alice", conn)
	hub.Register("alice", sibling)

	hub.Unregister("alice", conn)
	hub.Unregister("alice", conn)
	hub.Unregister("bob", conn)

	if got := hub.Connections("alice"); got != 1 {
		t.Fatalf("expected sibling to survive, got %d connections", got)
	}
	hub.SendToUser("alice", []byte("still here"))
	if msgs := sibling.messages(); len(msgs) != 1 {
		t.Fatalf("sibling should still receive messages, got %v", msgs)
	}
	if msgs := conn.messages(); len(msgs) != 0 {
		t.Fatalf("removed connection must not receive messages, got %v", msgs)
	}
}

func TestBroadcastEvictsFailingConnection(t *testing.T) {
	hub := newTestHub()
	stuck := &stubConn{failWith: ErrSendBufferFull}
	healthy := &stubConn{}
	hub.Register("alice", stuck)
	hub.Register("bob", healthy)

	hub.Broadcast([]byte("first"))
	hub.Broadcast([]byte("second"))

	if !stuck.closed {
		t.Fatalf("expected stuck connection to be closed")
	}
	if got := hub.Connections("alice"); got != 0 {
		t.Fatalf("expected stuck connection evicted, got %d", got)
	}
	if msgs := healthy.messages(); len(msgs) != 2 {
		t.Fatalf("healthy peer must receive both broadcasts, got %v", msgs)
	}
}

func TestRegistryBookkeepingUnderConcurrency(t *testing.T) {
	hub := newTestHub()
	const perUser = 32
	users := []string{"alice", "bob", "carol"}

	var wg sync.WaitGroup
	conns := make(map[string][]*stubConn)
	var mu sync.Mutex
	for _, user := range users {
		for i := 0; i < perUser; i++ {
			wg.Add(1)
			go func(user string) {
				defer wg.Done()
				conn := &stubConn{}
				hub.Register(user, conn)
				mu.Lock()
				conns[user] = append(conns[user], conn)
				mu.Unlock()
			}(user)
		}
	}
	wg.Wait()

	for _, user := range users {
		if got := hub.Connections(user); got != perUser {
			t.Fatalf("user %s: expected %d connections, got %d", user, perUser, got)
		}
	}

	// Unregister half of each user's connections concurrently with
	// broadcasts; the survivors must be exactly the unremoved half.
	for _, user := range users {
		for i := 0; i < perUser/2; i++ {
			wg.Add(1)
			go func(user string, conn *stubConn) {
				defer wg.Done()
				hub.Unregister(user, conn)
			}(user, conns[user][i])
		}
	}
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			hub.Broadcast([]byte("noise"))
		}()
	}
	wg.Wait()

	for _, user := range users {
		if got := hub.Connections(user); got != perUser/2 {
			t.Fatalf("user %s: expected %d connections after removal, got %d", user, perUser/2, got)
		}
	}
	if got := hub.CountConnections(); got != len(users)*perUser/2 {
		t.Fatalf("unexpected total connections: %d", got)
	}
}

func TestShutdownClosesEverything(t *testing.T) {
	hub := newTestHub()
	conns := []*stubConn{{}, {}, {}}
	for i, conn := range conns {
		hub.Register(fmt.Sprintf("user-%d", i), conn)
	}
	hub.Shutdown()
	if got := hub.CountConnections(); got != 0 {
		t.Fatalf("expected empty registry after shutdown, got %d", got)
	}
	for i, conn := range conns {
		if !conn.closed {
			t.Fatalf("connection %d not closed on shutdown", i)
		}
	}
}

func TestEvictionErrorPropagation(t *testing.T) {
	hub := newTestHub()
	conn := &stubConn{failWith: errors.New("broken pipe")}
	hub.Register("alice", conn)
	hub.SendToUser("alice", []byte("payload"))
	if got := hub.Connections("alice"); got != 0 {
		t.Fatalf("expected failing connection to be dropped, got %d", got)
	}
	if !conn.closed {
		t.Fatalf("expected failing connection to be closed")
	}
}
