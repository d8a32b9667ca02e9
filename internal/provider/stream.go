package provider

import (
	"io"
	"sync"
)

// Stream is a lazy, finite, non-restartable sequence of text fragments with
// an explicit completion marker. One producer (the adapter goroutine), one
// consumer. Recv returns fragments in arrival order and io.EOF once the
// backend signals completion; any other error ends the stream permanently.
//
// Closing the stream stops consumption and lets the producer unblock; it does
// not signal the backend to stop generating.
type Stream struct {
	items chan streamItem

	closeOnce sync.Once
	closed    chan struct{}

	recvDone bool
}

type streamItem struct {
	fragment string
	err      error
}

// streamBuffer decouples producer bursts from consumer rendering.
const streamBuffer = 32

// NewStream creates an open stream. Adapters push fragments with Push and
// must call Finish exactly once.
func NewStream() *Stream {
	return &Stream{
		items:  make(chan streamItem, streamBuffer),
		closed: make(chan struct{}),
	}
}

// Recv returns the next fragment. io.EOF marks normal completion. Calling
// Recv again after any error returns the same terminal condition.
func (s *Stream) Recv() (string, error) {
	if s.recvDone {
		return "", io.EOF
	}
	select {
	case item, ok := <-s.items:
		if !ok {
			s.recvDone = true
			return "", io.EOF
		}
		if item.err != nil {
			s.recvDone = true
			return "", item.err
		}
		return item.fragment, nil
	case <-s.closed:
		s.recvDone = true
		return "", io.EOF
	}
}

// Close abandons the stream. Pending and future fragments are discarded.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

// Push delivers one fragment to the consumer. It reports false once the
// consumer has closed the stream, letting producers bail out early.
func (s *Stream) Push(fragment string) bool {
	select {
	case s.items <- streamItem{fragment: fragment}:
		return true
	case <-s.closed:
		return false
	}
}

// Finish terminates the stream: a nil err becomes the completion marker,
// a non-nil err is delivered to the consumer on its next Recv.
func (s *Stream) Finish(err error) {
	if err != nil {
		select {
		case s.items <- streamItem{err: err}:
		case <-s.closed:
		}
	}
	close(s.items)
}

// drain consumes the remaining fragments and returns their concatenation.
func (s *Stream) drain() (string, error) {
	var sb []byte
	for {
		frag, err := s.Recv()
		if err == io.EOF {
			return string(sb), nil
		}
		if err != nil {
			return string(sb), err
		}
		sb = append(sb, frag...)
	}
}
