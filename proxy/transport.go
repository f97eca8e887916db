package proxy

import (
	"errors"
	"sync"
)

// ErrTransportClosed is returned by Send and Receive after either side of
// the transport closed.
var ErrTransportClosed = errors.New("proxy transport closed")

// Transport moves messages between a client and a worker. Implementations
// must allow Send and Receive from different goroutines; Receive blocks
// until a message arrives or the transport fails.
type Transport interface {
	Send(Message) error
	Receive() (Message, error)
	Close() error
}

// Pipe returns two connected in-memory transports, one per side. Closing
// either end fails both. The buffer bounds how many messages a side can
// send ahead of the other side receiving.
func Pipe(buffer int) (Transport, Transport) {
	ab := make(chan Message, buffer)
	ba := make(chan Message, buffer)
	shared := &pipeShared{done: make(chan struct{})}
	a := &pipeEnd{out: ab, in: ba, shared: shared}
	b := &pipeEnd{out: ba, in: ab, shared: shared}
	return a, b
}

type pipeShared struct {
	once sync.Once
	done chan struct{}
}

func (s *pipeShared) close() {
	s.once.Do(func() { close(s.done) })
}

type pipeEnd struct {
	out    chan Message
	in     chan Message
	shared *pipeShared
}

func (e *pipeEnd) Send(m Message) error {
	select {
	case <-e.shared.done:
		return ErrTransportClosed
	case e.out <- m:
		return nil
	}
}

func (e *pipeEnd) Receive() (Message, error) {
	// Drain buffered messages before reporting closure, so a reply sent
	// just before Close is not lost.
	select {
	case m := <-e.in:
		return m, nil
	default:
	}
	select {
	case <-e.shared.done:
		return Message{}, ErrTransportClosed
	case m := <-e.in:
		return m, nil
	}
}

func (e *pipeEnd) Close() error {
	e.shared.close()
	return nil
}
