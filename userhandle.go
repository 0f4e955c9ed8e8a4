package rob

// RollbackFunc undoes one speculative side effect recorded during the
// execution of an operator. Rollback hooks run in reverse registration
// order, matching "perform undo actions in reverse order" in the original
// runtime's doAbort.
type RollbackFunc func()

// UserContext is the handle passed to NhFunc and OpFunc. It is opaque to
// the executor beyond the three lifecycle primitives: commit, rollback and
// reset. The executor never inspects PushBuffer's contents; it only moves
// them into PendingQueues on commit and discards them after Rollback on
// abort.
type UserContext[T any] struct {
	pushBuffer []T
	rollbacks  []RollbackFunc
	ctx        *Context[T]
}

// Acquire attempts to take ownership of l on behalf of the current
// iteration, resolving any conflict. It is the entry point NhFunc and
// OpFunc use in place of the original runtime's implicit thread-local
// "current context".
func (u *UserContext[T]) Acquire(l Lockable) {
	u.ctx.acquire(l)
}

// Push appends a new item to be enqueued once (and only if) the current
// iteration commits.
func (u *UserContext[T]) Push(item T) {
	u.pushBuffer = append(u.pushBuffer, item)
}

// OnRollback registers a hook to run if the current iteration aborts.
// Hooks run most-recently-registered first.
func (u *UserContext[T]) OnRollback(fn RollbackFunc) {
	u.rollbacks = append(u.rollbacks, fn)
}

// PushBuffer returns the items pushed so far this iteration.
func (u *UserContext[T]) PushBuffer() []T {
	return u.pushBuffer
}

// commit materializes side effects; for UserContext there are none beyond
// what the registered hooks represent, since commit is a rollback no-op.
// It exists so callers symmetric with Galois's UserContextAccess::commit()
// have a single call site regardless of outcome.
func (u *UserContext[T]) commit() {}

// rollback runs undo hooks in reverse order.
func (u *UserContext[T]) rollback() {
	for i := len(u.rollbacks) - 1; i >= 0; i-- {
		u.rollbacks[i]()
	}
}

// reset clears buffers and hooks so the UserContext can be reused by the
// next item scheduled into this slot.
func (u *UserContext[T]) reset() {
	u.pushBuffer = u.pushBuffer[:0]
	u.rollbacks = u.rollbacks[:0]
}
