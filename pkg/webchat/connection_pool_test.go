package webchat

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type stubConn struct {
	mu       sync.Mutex
	writes   int
	blockCh  chan struct{}
	closedCh chan struct{}
}

func newStubConn(blockWrites bool) *stubConn {
	blockCh := make(chan struct{})
	if !blockWrites {
		close(blockCh)
	}
	return &stubConn{blockCh: blockCh, closedCh: make(chan struct{})}
}

func (s *stubConn) WriteMessage(_ int, _ []byte) error {
	select {
	case <-s.closedCh:
		return errors.New("closed")
	case <-s.blockCh:
	}
	s.mu.Lock()
	s.writes++
	s.mu.Unlock()
	return nil
}

func (s *stubConn) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.closedCh:
		return nil
	default:
		close(s.closedCh)
		return nil
	}
}

func (s *stubConn) SetWriteDeadline(_ time.Time) error {
	return nil
}

func TestConnectionPoolDropsOnFullBuffer(t *testing.T) {
	pool := NewConnectionPool("c1", 0, nil)
	pool.sendBuffer = 1
	pool.writeTimeout = 0

	conn := newStubConn(true)
	pool.Add(conn)

	pool.Broadcast([]byte("one"))
	pool.Broadcast([]byte("two"))
	pool.Broadcast([]byte("three"))

	require.Eventually(t, func() bool {
		return pool.Count() == 0
	}, time.Second, 10*time.Millisecond)
}

func TestConnectionPoolBroadcastsInOrder(t *testing.T) {
	pool := NewConnectionPool("c1", 0, nil)
	conn := newRecordingConn()
	pool.Add(conn)

	pool.Broadcast([]byte("a"))
	pool.Broadcast([]byte("b"))
	pool.Broadcast([]byte("c"))

	require.Eventually(t, func() bool {
		return len(conn.messages()) == 3
	}, time.Second, 10*time.Millisecond)
	require.Equal(t, []string{"a", "b", "c"}, conn.messages())
}

func TestConnectionPoolIdleCallback(t *testing.T) {
	fired := make(chan struct{}, 1)
	pool := NewConnectionPool("c1", 20*time.Millisecond, func() { fired <- struct{}{} })

	conn := newRecordingConn()
	pool.Add(conn)
	pool.Remove(conn)

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("idle callback did not fire")
	}
	require.True(t, pool.IsEmpty())
}

type recordingConn struct {
	mu     sync.Mutex
	msgs   []string
	closed bool
}

func newRecordingConn() *recordingConn { return &recordingConn{} }

func (r *recordingConn) WriteMessage(_ int, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errors.New("closed")
	}
	r.msgs = append(r.msgs, string(data))
	return nil
}

func (r *recordingConn) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

func (r *recordingConn) SetWriteDeadline(time.Time) error { return nil }

func (r *recordingConn) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.msgs...)
}
