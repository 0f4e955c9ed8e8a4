package rob

import (
	"sync"
	"sync/atomic"

	"github.com/emirpasic/gods/trees/binaryheap"
)

// pendingHeap is one worker's min-heap of not-yet-scheduled items, guarded
// by its own mutex. size mirrors the heap's length so callers can cheaply
// probe emptiness without taking the lock.
type pendingHeap[T any] struct {
	mu   sync.Mutex
	heap *binaryheap.Heap
	size atomic.Int32
}

// PendingQueues is the collection of per-worker pending heaps plus the
// scheduling policies that pick the next item to run.
type PendingQueues[T any] struct {
	heaps []*pendingHeap[T]
	less  Less[T]
}

func newPendingQueues[T any](numWorkers int, less Less[T]) *PendingQueues[T] {
	cmp := func(x, y interface{}) int {
		a, b := x.(T), y.(T)
		switch {
		case less(a, b):
			return -1
		case less(b, a):
			return 1
		default:
			return 0
		}
	}
	heaps := make([]*pendingHeap[T], numWorkers)
	for i := range heaps {
		heaps[i] = &pendingHeap[T]{heap: binaryheap.NewWith(cmp)}
	}
	return &PendingQueues[T]{heaps: heaps, less: less}
}

func (p *PendingQueues[T]) numWorkers() int { return len(p.heaps) }

// Push enqueues items onto worker workerID's heap. Used both for initial
// items and for items a committed operator pushed.
func (p *PendingQueues[T]) Push(workerID int, items []T) {
	if len(items) == 0 {
		return
	}
	h := p.heaps[workerID]
	h.mu.Lock()
	for _, it := range items {
		h.heap.Push(it)
	}
	h.mu.Unlock()
	h.size.Add(int32(len(items)))
}

// pushAbort re-enqueues an aborted item per the configured return policy.
func (p *PendingQueues[T]) pushAbort(item T, owner int, policy AbortReturnPolicy) {
	target := owner
	if policy == AbortReturnTreeSerialized {
		target = owner / 2
	}
	p.Push(target, []T{item})
}

func (p *PendingQueues[T]) popFrom(workerID int) (T, bool) {
	h := p.heaps[workerID]
	h.mu.Lock()
	v, ok := h.heap.Pop()
	h.mu.Unlock()
	var zero T
	if !ok {
		return zero, false
	}
	h.size.Add(-1)
	return v.(T), true
}

func (p *PendingQueues[T]) emptyHint(workerID int) bool {
	return p.heaps[workerID].size.Load() == 0
}

// EmptyAll is a best-effort, lock-free snapshot across every worker's
// heap, used only to decide whether the executor loop may stop spinning;
// it is re-checked under lock wherever correctness depends on it.
func (p *PendingQueues[T]) EmptyAll() bool {
	for i := range p.heaps {
		if !p.emptyHint(i) {
			return false
		}
	}
	return true
}

// findGlobalMin locks each worker's heap in turn, peeks, releases, and
// tracks the smallest item's owning worker.
func (p *PendingQueues[T]) findGlobalMin() (minWorker int, found bool) {
	var minItem T
	for i, h := range p.heaps {
		h.mu.Lock()
		top, ok := h.heap.Peek()
		h.mu.Unlock()
		if ok {
			it := top.(T)
			if !found || p.less(it, minItem) {
				minItem = it
				minWorker = i
				found = true
			}
		}
	}
	return
}

// findFirstNonEmpty scans starting at `start`, returning the first
// non-empty worker heap (thread-local-first scheduling policy).
func (p *PendingQueues[T]) findFirstNonEmpty(start int) (workerID int, found bool) {
	n := len(p.heaps)
	for i := 0; i < n; i++ {
		tid := (start + i) % n
		if !p.emptyHint(tid) {
			return tid, true
		}
	}
	return 0, false
}

// IsEarliest reports whether no pending item is strictly less than x. It
// is evaluated by briefly locking each pending heap in turn; concurrent
// pushes of larger-or-equal items cannot invalidate a true result, and a
// racing smaller push only delays a commit to the next sweep.
func (p *PendingQueues[T]) IsEarliest(x T) bool {
	for _, h := range p.heaps {
		h.mu.Lock()
		top, ok := h.heap.Peek()
		h.mu.Unlock()
		if ok && p.less(top.(T), x) {
			return false
		}
	}
	return true
}
