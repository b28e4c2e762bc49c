// Package statetest provides a recording state.Sink for tests.
package statetest

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

var ErrSinkClosed = errors.New("sink closed")

// Sink records every message it is sent. After Close, Send fails.
type Sink struct {
	id uuid.UUID

	mu       sync.Mutex
	messages [][]byte
	closed   bool
	closeErr error
}

func NewSink() *Sink {
	return &Sink{id: uuid.New()}
}

func (s *Sink) ID() uuid.UUID { return s.id }

func (s *Sink) Send(msg []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSinkClosed
	}
	s.messages = append(s.messages, append([]byte(nil), msg...))
	return nil
}

func (s *Sink) Close(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.closeErr = err
}

func (s *Sink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// CloseErr is the error passed to the first Close call.
func (s *Sink) CloseErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeErr
}

// Messages returns a copy of everything sent so far.
func (s *Sink) Messages() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.messages))
	copy(out, s.messages)
	return out
}

// Strings is Messages as strings.
func (s *Sink) Strings() []string {
	msgs := s.Messages()
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = string(m)
	}
	return out
}

// Reset drops the recorded messages.
func (s *Sink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
}
