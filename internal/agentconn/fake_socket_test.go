package agentconn

import (
	"errors"
	"sync"
	"time"
)

// fakeSocket is an in-process Socket double: ReadMessage delivers frames
// fed in via push, WriteMessage records every outbound message for
// assertions, and Close unblocks any pending ReadMessage.
type fakeSocket struct {
	mu       sync.Mutex
	in       chan []byte
	out      [][]byte
	closed   bool
	closeCh  chan struct{}
	closeVal sync.Once
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{
		in:      make(chan []byte, 32),
		closeCh: make(chan struct{}),
	}
}

func (s *fakeSocket) push(payload []byte) {
	s.in <- payload
}

func (s *fakeSocket) ReadMessage() (int, []byte, error) {
	select {
	case msg := <-s.in:
		return 1, msg, nil
	case <-s.closeCh:
		return 0, nil, errors.New("fake socket closed")
	}
}

func (s *fakeSocket) WriteMessage(_ int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("fake socket closed")
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	s.out = append(s.out, cp)
	return nil
}

func (s *fakeSocket) Close() error {
	s.closeVal.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.closeCh)
	})
	return nil
}

func (s *fakeSocket) SetReadDeadline(time.Time) error   { return nil }
func (s *fakeSocket) SetWriteDeadline(time.Time) error  { return nil }
func (s *fakeSocket) SetPongHandler(func(string) error) {}
func (s *fakeSocket) SetReadLimit(int64)                {}

func (s *fakeSocket) writes() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.out))
	copy(out, s.out)
	return out
}
