package realtime

import (
	"errors"
	"sync"
)

// ErrTransportClosed is returned by reads and writes after Close.
var ErrTransportClosed = errors.New("realtime: transport closed")

// Transport is one bidirectional message channel to a peer. WriteMessage is
// called from a single goroutine per connection (the mailbox writer);
// ReadMessage is called from the connection's read loop.
type Transport interface {
	WriteMessage(m Message) error
	ReadMessage() (Message, error)
	Close() error
}

// Pipe is an in-process Transport. NewPipe returns the two ends of a
// connection; a message written to one end is read from the other.
type Pipe struct {
	in   chan Message
	out  chan Message
	done chan struct{}
	once *sync.Once
}

// NewPipe builds a connected transport pair. Closing either end closes both.
func NewPipe() (client, server *Pipe) {
	a := make(chan Message, 64)
	b := make(chan Message, 64)
	done := make(chan struct{})
	once := &sync.Once{}
	client = &Pipe{in: a, out: b, done: done, once: once}
	server = &Pipe{in: b, out: a, done: done, once: once}
	return client, server
}

func (p *Pipe) WriteMessage(m Message) error {
	select {
	case p.out <- m:
		return nil
	case <-p.done:
		return ErrTransportClosed
	}
}

func (p *Pipe) ReadMessage() (Message, error) {
	select {
	case m := <-p.in:
		return m, nil
	case <-p.done:
		return Message{}, ErrTransportClosed
	}
}

// Close tears down both ends.
func (p *Pipe) Close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}
