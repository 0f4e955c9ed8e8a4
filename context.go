package rob

import (
	"fmt"
	"runtime"
	"sync/atomic"
	"unsafe"
)

// Context is the executor-internal record for one scheduled attempt at an
// item. Exactly one FreeList slot backs a Context for its entire
// lifetime; scheduling destructs and reconstructs it in place with a new
// item rather than allocating.
type Context[T any] struct {
	item T

	state      atomic.Int32
	executed   atomic.Bool
	owner      atomic.Int32
	lostConflict bool

	neighborhood []Lockable
	userHandle   UserContext[T]

	exec *Executor[T]
}

// reinit destructs-then-reconstructs the slot in place for a freshly
// scheduled item, the Go analogue of the original runtime's
// "ctx->~Ctxt(); new (ctx) Ctxt(item, executor)".
func (c *Context[T]) reinit(item T, owner int, exec *Executor[T]) {
	c.item = item
	c.state.Store(int32(StateUnscheduled))
	c.executed.Store(false)
	c.owner.Store(int32(owner))
	c.lostConflict = false
	if c.neighborhood != nil {
		c.neighborhood = c.neighborhood[:0]
	}
	c.userHandle.reset()
	c.userHandle.ctx = c
	c.exec = exec
}

func (c *Context[T]) ownerID() int { return int(c.owner.Load()) }

func (c *Context[T]) hasState(s State) bool {
	return State(c.state.Load()) == s
}

func (c *Context[T]) setState(s State) {
	c.state.Store(int32(s))
}

func (c *Context[T]) casState(from, to State) bool {
	return c.state.CompareAndSwap(int32(from), int32(to))
}

func (c *Context[T]) hasExecuted() bool { return c.executed.Load() }

// acquire is the retry loop driving conflict resolution for one Lockable
// (the "subAcquire" of the original runtime, surfaced to user code via
// UserContext.Acquire rather than an implicit thread-local context, to
// avoid the global mutable state the original runtime relies on). On
// AcquireFail it resolves the conflict; on AcquireNewOwner it extends the
// neighborhood; on AcquireAlreadyOwner it is a no-op.
func (c *Context[T]) acquire(l Lockable) {
	for {
		if c.exec.stopping.Load() {
			return
		}
		switch l.TryAcquire(c) {
		case AcquireNewOwner:
			c.neighborhood = append(c.neighborhood, l)
			return
		case AcquireAlreadyOwner:
			return
		case AcquireFail:
			owner := l.GetOwner()
			that, ok := owner.(*Context[T])
			if owner == nil || !ok {
				// Momentarily unowned between a release and the next
				// acquire, or owned by something stale; retry.
				continue
			}
			if c.resolveConflict(that, l) {
				// We lost the conflict: stop retrying and let the
				// in-flight operator run to completion without this
				// lock. Its effects will be discarded on abort.
				c.lostConflict = true
				return
			}
			// We won and aborted `that` (or it was already ABORT_DONE);
			// retry acquiring the now-free lockable.
		}
	}
}

// resolveConflict decides a race between this (c) and that for ownership
// of l. Returns true iff c loses and must self-abort.
func (c *Context[T]) resolveConflict(that *Context[T], l Lockable) bool {
	if !c.exec.ctxtLess(c, that) {
		// that has priority; c loses.
		c.setState(StateAbortSelf)
		return true
	}

	// c has priority over that: cause that to abort.
	if that.hasState(StateCommitting) || that.hasState(StateCommitDone) {
		panic(fmt.Sprintf("rob: invariant violation: higher-priority context lost to %v which is already %s", l, State(that.state.Load())))
	}

	switch {
	case that.hasState(StateAbortDone):
		// Already gone; nothing to do.
	case that.casState(StateScheduled, StateAbortSelf) || that.hasState(StateAbortSelf):
		c.helpAbort(that)
	case that.casState(StateReadyToCommit, StateAbortHelp):
		that.setState(StateAborting)
		that.doAbort()
		c.exec.stats.abortByOther.Add(1)
	}
	return false
}

// helpAbort spins until `that` either finishes its own abort, or has
// finished executing without observing the ABORT_SELF signal, in which
// case c claims responsibility and performs the abort on that's behalf.
// It also bails out once the executor is shutting down, so a peer stuck
// mid-operator (for instance because it panicked before reaching a
// terminal state) can never strand this worker in the spin forever.
func (c *Context[T]) helpAbort(that *Context[T]) {
	for {
		if c.exec.stopping.Load() {
			return
		}
		if that.hasState(StateAbortDone) {
			return
		}
		if that.hasExecuted() {
			if that.casState(StateAbortSelf, StateAbortHelp) {
				that.setState(StateAborting)
				that.doAbort()
				c.exec.stats.abortByOther.Add(1)
				return
			}
			// Someone else (that's own owner thread, most likely) is
			// already handling the abort; keep spinning for ABORT_DONE.
		}
		runtime.Gosched()
	}
}

// doCommit materializes effects, releases locks, and republishes pushed
// items onto workerID's pending queue (the queue local to whichever
// worker is running the commit sweep, not necessarily c's own owner).
// Caller must hold the ReorderBuffer mutex and have already set state to
// StateCommitting.
func (c *Context[T]) doCommit(workerID int) {
	c.userHandle.commit()
	c.releaseLocks()
	c.exec.push(workerID, c.userHandle.PushBuffer())
	c.userHandle.reset()
	c.setState(StateCommitDone)
}

// doAbort rolls back effects, releases locks, and returns the item to a
// pending queue.
func (c *Context[T]) doAbort() {
	c.userHandle.rollback()
	c.releaseLocks()
	c.exec.pushAbort(c.item, c.ownerID())
	c.userHandle.reset()
	c.setState(StateAbortDone)
}

func (c *Context[T]) releaseLocks() {
	for _, l := range c.neighborhood {
		if l.GetOwner() == c {
			l.Release(c)
		}
	}
}

// ptrLess provides the stable pointer tie-break used when two items
// compare equal (neither precedes the other) under the user comparator.
func ptrLess[T any](a, b *Context[T]) bool {
	return uintptr(unsafe.Pointer(a)) < uintptr(unsafe.Pointer(b))
}
