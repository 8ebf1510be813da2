// Package loop provides the single-threaded event-loop abstraction the
// resolver core is built on. The core never touches a timer directly: it
// posts closures to a Loop and they run strictly one at a time, in the
// order posted. This keeps every resolver/registry/request-table mutation
// free of locks, matching the single-threaded cooperative model the core
// assumes, while socket reads happen concurrently on their own goroutines
// (Go's netpoller parks them cheaply; nothing is busy-polled).
//
// The event-loop primitive itself is an external collaborator per the
// resolver's design: only this interface is consumed. Loop is the default,
// goroutine-backed implementation.
package loop

import (
	"sync"
	"time"
)

// Timer is a handle returned by Scheduler.AfterFunc.
type Timer interface {
	// Stop cancels the timer. Returns false if it already fired or was
	// already stopped.
	Stop() bool
}

// Scheduler schedules a callback to run on the loop goroutine after d.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// Loop is a Scheduler implementation backed by one dispatch goroutine.
// Readers (sockets) run their blocking read on their own goroutine and
// hand each datagram to the loop via Post, so all resolver state mutation
// happens on the single dispatch goroutine.
type Loop struct {
	post chan func()
	quit chan struct{}

	closeOnce sync.Once
}

// New creates a Loop. Call Run in its own goroutine.
func New() *Loop {
	return &Loop{
		post: make(chan func(), 256),
		quit: make(chan struct{}),
	}
}

// Post schedules f to run on the loop goroutine. Safe to call from any
// goroutine, including the loop goroutine itself. A Post after Close is a
// silent no-op: the loop is shutting down and nothing will run it anyway.
func (l *Loop) Post(f func()) {
	select {
	case l.post <- f:
	case <-l.quit:
	}
}

// Run drives the loop until Close is called. It blocks, so callers
// typically invoke it as `go loop.Run()`.
func (l *Loop) Run() {
	for {
		select {
		case f := <-l.post:
			f()
		case <-l.quit:
			l.drain()
			return
		}
	}
}

// drain runs any callbacks already queued before the loop stops, so a
// final Post (e.g. a shutdown notification) is not lost.
func (l *Loop) drain() {
	for {
		select {
		case f := <-l.post:
			f()
		default:
			return
		}
	}
}

// Close stops the loop after any already-queued work has run. It does not
// wait for outstanding reader goroutines; callers close their sockets
// first, which unblocks any pending ReadFromUDP with an error.
func (l *Loop) Close() {
	l.closeOnce.Do(func() {
		close(l.quit)
	})
}

// AfterFunc implements Scheduler. The callback runs via Post, so it always
// executes on the loop goroutine even though time.AfterFunc's own runtime
// timer goroutine is what fires it.
func (l *Loop) AfterFunc(d time.Duration, f func()) Timer {
	t := time.AfterFunc(d, func() {
		l.Post(f)
	})
	return timerHandle{t}
}

type timerHandle struct{ t *time.Timer }

func (h timerHandle) Stop() bool { return h.t.Stop() }
