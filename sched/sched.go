// Package sched abstracts the host scheduling primitives (frame callbacks,
// delayed callbacks, idle slots) behind one interface so the engine's
// phase and budget logic can be driven by a real ticker in production and
// by a virtual clock in tests.
//
// Both implementations run every callback on a single logical turn: the
// production loop's goroutine, or the caller's goroutine under the
// virtual clock. Engine state mutated only from callbacks therefore needs
// no locking.
package sched

import "time"

// CancelFunc deregisters a previously scheduled callback. Safe to call
// more than once.
type CancelFunc func()

// Scheduler is the minimal host-loop surface the engine depends on.
type Scheduler interface {
	// OnFrame registers fn to run every frame until cancelled.
	OnFrame(fn func(now time.Time)) CancelFunc

	// After runs fn once, no sooner than d from now. Resolution is the
	// frame interval.
	After(d time.Duration, fn func()) CancelFunc

	// OnIdle runs fn once in an idle slot after frame work, passing the
	// time budget it should stay within.
	OnIdle(fn func(budget time.Duration), budget time.Duration) CancelFunc
}
