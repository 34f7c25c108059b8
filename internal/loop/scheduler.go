// Package loop provides the single execution context the chat engine runs on.
//
// Every component mutates its state only from callbacks delivered through a
// Scheduler, so no component needs its own locking. Loop is the production
// implementation; Manual drives the same callbacks from virtual time in tests.
package loop

import "time"

// Timer is a pending one-shot or repeating callback.
type Timer interface {
	// Stop cancels the callback. It reports whether the timer was still
	// pending. After Stop returns the callback never runs, even if it had
	// already fired and was waiting in the queue.
	Stop() bool
}

// Scheduler runs callbacks on the engine's execution context.
type Scheduler interface {
	Now() time.Time
	// AfterFunc runs f once after d.
	AfterFunc(d time.Duration, f func()) Timer
	// Every runs f every d until stopped.
	Every(d time.Duration, f func()) Timer
	// Go runs work off the execution context and then runs then on it.
	// Blocking requests go in work; state changes go in then.
	Go(work func(), then func())
	// Post queues f. Safe to call from any goroutine.
	Post(f func())
	// Call runs f on the execution context and waits for it to return.
	// Calling it from inside a callback deadlocks a Loop.
	Call(f func())
}
