// Package worker defines the cooperative stop/join contract every long-running
// component in this daemon satisfies, generalized from
// original_source/keilib/worker.py's Worker(threading.Thread) base class into
// Go's embed-a-struct-and-satisfy-an-interface idiom.
package worker

import (
	"context"
	"sync/atomic"
)

// Worker is the capability contract the supervisor holds its workers behind.
type Worker interface {
	// Run executes the worker's main loop. It returns when ctx is done or
	// Stop has been called, honouring the signal within at most one outer
	// iteration plus the longest in-flight I/O timeout.
	Run(ctx context.Context)
	// Stop requests the worker to terminate and blocks until it has.
	Stop()
	// Alive reports whether Run is currently executing. The supervisor polls
	// this to detect and restart dead workers.
	Alive() bool
}

// Base provides the stop/join plumbing shared by every worker implementation.
// Embed it and call MarkStarted/MarkDone from Run.
type Base struct {
	stopCh chan struct{}
	done   chan struct{}
	alive  atomic.Bool
}

// NewBase constructs a Base ready for one Run/Stop cycle. A worker restarted
// by the supervisor gets a fresh Base (and a fresh concrete worker instance),
// matching the original's "recreate and restart" supervisor behavior.
func NewBase() Base {
	return Base{
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Stopping returns a channel that is closed once Stop has been requested.
// Run implementations select on this between blocking operations.
func (b *Base) Stopping() <-chan struct{} {
	return b.stopCh
}

// ShouldStop is a non-blocking check of the same signal as Stopping.
func (b *Base) ShouldStop() bool {
	select {
	case <-b.stopCh:
		return true
	default:
		return false
	}
}

// Stop sets the stop signal and waits for the worker's Run to return.
func (b *Base) Stop() {
	select {
	case <-b.stopCh:
		// already stopping
	default:
		close(b.stopCh)
	}
	<-b.done
}

// MarkStarted flags the worker alive. Call at the top of Run.
func (b *Base) MarkStarted() {
	b.alive.Store(true)
}

// MarkDone flags the worker dead and unblocks any pending Stop call. Call via
// defer at the top of Run.
func (b *Base) MarkDone() {
	b.alive.Store(false)
	close(b.done)
}

// Alive reports whether Run is currently executing.
func (b *Base) Alive() bool {
	return b.alive.Load()
}
