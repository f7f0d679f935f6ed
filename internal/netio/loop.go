// Package netio runs the single-goroutine-per-session event loop that
// drives a protocol decoder against a live net.Conn, translating its
// outcomes into sessionOpened / messageReceived / sessionClosed /
// exceptionCaught callbacks. It is protocol-neutral: mysqlclient and
// pgclient each supply a Step function that knows how to read and dispatch
// one message of their own wire format.
package netio

import (
	"errors"
	"io"
	"net"
	"sync"
)

// Handlers are the four lifecycle callbacks a protocol handler hangs off a
// session's transport. Any of them may be nil.
type Handlers struct {
	SessionOpened   func()
	MessageReceived func()
	SessionClosed   func(err error)
	ExceptionCaught func(err error)
}

// StepFunc consumes exactly one protocol message from r and dispatches it
// against whatever session state the caller closed over (e.g.
// mysqlwire.Decoder.Step or pgwire.Decoder.Step bound to a dbsession.Session).
type StepFunc func(r io.Reader) error

// Loop owns one goroutine reading from conn until Step returns an error or
// Stop is called. Any error returned by Step ends the loop: io.EOF is
// reported to SessionClosed as a clean close, anything else goes to
// ExceptionCaught and then SessionClosed. A Step that delivers a failure
// to the affected request and returns nil keeps the loop running.
type Loop struct {
	conn     net.Conn
	step     StepFunc
	handlers Handlers

	closeOnce sync.Once
	stopped   chan struct{}
}

// Start launches the read loop in its own goroutine and returns
// immediately; SessionOpened fires synchronously before the goroutine is
// spawned so callers can rely on ordering relative to their own setup.
func Start(conn net.Conn, step StepFunc, handlers Handlers) *Loop {
	l := &Loop{conn: conn, step: step, handlers: handlers, stopped: make(chan struct{})}
	if handlers.SessionOpened != nil {
		handlers.SessionOpened()
	}
	go l.run()
	return l
}

func (l *Loop) run() {
	for {
		select {
		case <-l.stopped:
			return
		default:
		}

		err := l.step(l.conn)
		if err != nil {
			if errors.Is(err, io.EOF) {
				l.finish(nil)
			} else {
				if l.handlers.ExceptionCaught != nil {
					l.handlers.ExceptionCaught(err)
				}
				l.finish(err)
			}
			return
		}
		if l.handlers.MessageReceived != nil {
			l.handlers.MessageReceived()
		}
	}
}

func (l *Loop) finish(err error) {
	if l.handlers.SessionClosed != nil {
		l.handlers.SessionClosed(err)
	}
}

// Stop tears down the transport immediately, interrupting the pending
// blocking read in run() and causing it to exit on the next error it sees.
func (l *Loop) Stop() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.stopped)
		err = l.conn.Close()
	})
	return err
}
