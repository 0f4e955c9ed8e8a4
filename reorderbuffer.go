package rob

import "github.com/emirpasic/gods/trees/binaryheap"

// ReorderBuffer is the global min-heap of live contexts ordered by item
// priority with a stable pointer tie-break. It is not
// internally synchronized: every method here must be called while
// holding the executor's single ROB mutex, exactly as the original
// runtime's robMutex guards both scheduling and the commit sweep.
type ReorderBuffer[T any] struct {
	heap *binaryheap.Heap
	less func(a, b *Context[T]) bool
}

func newReorderBuffer[T any](less func(a, b *Context[T]) bool) *ReorderBuffer[T] {
	cmp := func(x, y interface{}) int {
		a, b := x.(*Context[T]), y.(*Context[T])
		switch {
		case less(a, b):
			return -1
		case less(b, a):
			return 1
		default:
			return 0
		}
	}
	return &ReorderBuffer[T]{heap: binaryheap.NewWith(cmp), less: less}
}

func (r *ReorderBuffer[T]) push(c *Context[T]) { r.heap.Push(c) }

func (r *ReorderBuffer[T]) top() (*Context[T], bool) {
	v, ok := r.heap.Peek()
	if !ok {
		return nil, false
	}
	return v.(*Context[T]), true
}

func (r *ReorderBuffer[T]) pop() *Context[T] {
	v, _ := r.heap.Pop()
	return v.(*Context[T])
}

func (r *ReorderBuffer[T]) empty() bool { return r.heap.Empty() }

func (r *ReorderBuffer[T]) size() int { return r.heap.Size() }

// drainAll pops every context out, in heap order, for reclaimGlobally.
func (r *ReorderBuffer[T]) drainAll() []*Context[T] {
	out := make([]*Context[T], 0, r.heap.Size())
	for {
		v, ok := r.heap.Pop()
		if !ok {
			break
		}
		out = append(out, v.(*Context[T]))
	}
	return out
}

// clearROB is the commit gatekeeper sweep: pop ABORT_DONE entries
// and reclaim them, commit the head while it is READY_TO_COMMIT and is
// the earliest live item, and fall back to reclaimGlobally if the ROB is
// stuck non-empty with no free slots anywhere.
func (e *Executor[T]) clearROB(workerID int) bool {
	didWork := false

	e.robMu.Lock()
	for {
		head, ok := e.rob.top()
		if !ok {
			break
		}

		if head.hasState(StateAbortDone) {
			e.rob.pop()
			e.reclaim(head)
			didWork = true
			continue
		}

		if head.hasState(StateReadyToCommit) && e.pending.IsEarliest(head.item) {
			head.setState(StateCommitting)
			head.doCommit(workerID)
			e.rob.pop()
			e.reclaim(head)
			didWork = true
			e.stats.numCommitted.Add(1)
			continue
		}

		break
	}

	if !e.rob.empty() && e.allFreeListsEmpty() {
		e.reclaimGlobally()
	}
	e.robMu.Unlock()

	return didWork
}

// reclaim returns ctx's slot to its owner's FreeList. Caller must hold
// the ROB mutex, the only safe point since scheduling also holds it.
func (e *Executor[T]) reclaim(ctx *Context[T]) {
	e.freeLists[ctx.ownerID()].push(ctx)
}

func (e *Executor[T]) allFreeListsEmpty() bool {
	for _, fl := range e.freeLists {
		if !fl.empty() {
			return false
		}
	}
	return true
}

// reclaimGlobally breaks a live-lock where the ROB is non-empty, every
// FreeList is empty (nobody can schedule a replacement), and an
// ABORT_DONE entry sits behind the head so clearROB's loop never pops it: drain
// the ROB, return every ABORT_DONE entry to its owner, and re-push the
// rest in their original relative order. Caller must hold the ROB mutex.
func (e *Executor[T]) reclaimGlobally() {
	e.stats.numGlobalCleanups.Add(1)

	drained := e.rob.drainAll()
	remaining := make([]*Context[T], 0, len(drained))
	for _, ctx := range drained {
		if ctx.hasState(StateAbortDone) {
			e.reclaim(ctx)
		} else {
			remaining = append(remaining, ctx)
		}
	}
	for _, ctx := range remaining {
		e.rob.push(ctx)
	}
}
