package rob

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/zhiqiangxu/util"
)

// NhFunc is the pre-execution hook: it touches Lockables (through
// UserContext.Acquire) to stake out the item's neighborhood before the
// main operator runs. It may cause this or other contexts to abort.
type NhFunc[T any] func(item T, uc *UserContext[T])

// OpFunc executes the iteration. It may push new items via
// uc.Push and register rollback hooks via uc.OnRollback.
type OpFunc[T any] func(item T, uc *UserContext[T])

// Executor is the reorder-buffer speculative ordered executor. Build one
// with NewExecutor and drive it with Run, or use the convenience entry
// point ForEachOrderedROB.
type Executor[T any] struct {
	less   Less[T]
	nhFunc NhFunc[T]
	opFunc OpFunc[T]

	numWorkers          int
	windowSize          int
	schedulingPolicy    SchedulingPolicy
	abortReturnPolicy   AbortReturnPolicy
	terminationStrategy TerminationStrategy
	loopName            string
	logger              *logrus.Logger

	pending   *PendingQueues[T]
	rob       *ReorderBuffer[T]
	robMu     sync.Mutex
	freeLists []*FreeList[T]

	term terminationDetector

	stats counters

	stopping atomic.Bool
	firstErr atomic.Pointer[error]
}

// NewExecutor builds an Executor over the given item comparator and
// hooks, ready to receive initial items via PushInitial before Run is
// called.
func NewExecutor[T any](less Less[T], nhFunc NhFunc[T], opFunc OpFunc[T], opts ...Option) *Executor[T] {
	cfg := config{
		numWorkers:          runtime.GOMAXPROCS(0),
		windowSize:          1024,
		schedulingPolicy:    ScheduleGlobalMinFirst,
		abortReturnPolicy:   AbortReturnTreeSerialized,
		terminationStrategy: TerminationRing,
		logger:              logrus.New(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.numWorkers < 1 {
		cfg.numWorkers = 1
	}

	e := &Executor[T]{
		less:                less,
		nhFunc:              nhFunc,
		opFunc:              opFunc,
		numWorkers:          cfg.numWorkers,
		windowSize:          cfg.windowSize,
		schedulingPolicy:    cfg.schedulingPolicy,
		abortReturnPolicy:   cfg.abortReturnPolicy,
		terminationStrategy: cfg.terminationStrategy,
		loopName:            cfg.loopName,
		logger:              cfg.logger,
		pending:             newPendingQueues(cfg.numWorkers, less),
	}
	e.rob = newReorderBuffer(e.ctxtLess)
	e.freeLists = make([]*FreeList[T], cfg.numWorkers)
	for i := range e.freeLists {
		e.freeLists[i] = newFreeList[T](cfg.windowSize)
	}
	e.term = newTerminationDetector(cfg.terminationStrategy, cfg.numWorkers)
	return e
}

// ctxtLess is the Context-level comparator: item order, with a stable
// pointer tie-break when two items compare equal under less.
func (e *Executor[T]) ctxtLess(a, b *Context[T]) bool {
	if a == b {
		return false
	}
	if e.less(a.item, b.item) {
		return true
	}
	if e.less(b.item, a.item) {
		return false
	}
	return ptrLess(a, b)
}

// PushInitial seeds the pending queues with the starting item set,
// round-robining across workers the way push_initial's do_all spreads
// the tail of the range across active threads.
func (e *Executor[T]) PushInitial(items []T) {
	for i, it := range items {
		e.pending.Push(i%e.numWorkers, []T{it})
	}
}

// push enqueues operator-pushed items onto the calling worker's own
// pending queue (the "local" queue at the point doCommit runs, which is
// not necessarily the item's original owner).
func (e *Executor[T]) push(workerID int, items []T) {
	e.pending.Push(workerID, items)
}

// pushAbort returns ctx's item to a pending queue per the configured
// abort-return policy.
func (e *Executor[T]) pushAbort(item T, owner int) {
	e.pending.pushAbort(item, owner, e.abortReturnPolicy)
}

// Run spawns the worker pool and blocks until every worker has observed
// global termination, or a worker's operator panics. A panic from
// NhFunc/OpFunc tears the whole pool down and is returned here, wrapped
// with github.com/pkg/errors so the original stack trace survives.
func (e *Executor[T]) Run() error {
	var wg sync.WaitGroup
	// Every token holder is set up before any worker starts, so a token
	// forwarded by an early worker is never wiped by a later one's setup.
	for i := 0; i < e.numWorkers; i++ {
		e.term.initializeWorker(i)
	}
	for i := 0; i < e.numWorkers; i++ {
		id := i
		util.GoFunc(&wg, func() { e.runWorker(id) })
	}
	wg.Wait()

	if ep := e.firstErr.Load(); ep != nil {
		return *ep
	}
	return nil
}

// Stats returns a snapshot of the executor's counters.
func (e *Executor[T]) Stats() Stats {
	return e.stats.snapshot()
}

func (e *Executor[T]) runWorker(id int) {
	defer func() {
		if r := recover(); r != nil {
			err, ok := r.(error)
			if !ok {
				err = fmt.Errorf("%v", r)
			}
			wrapped := errors.Wrapf(err, "rob: worker %d panicked running loop %q", id, e.loopName)
			e.firstErr.CompareAndSwap(nil, &wrapped)
			e.stopping.Store(true)
		}
	}()

	for {
		didWork := false

		for {
			if e.stopping.Load() {
				return
			}

			ctx := e.schedule(id)
			if ctx != nil {
				didWork = true
				e.logger.WithFields(logrus.Fields{"loop": e.loopName, "worker": id}).Debug("scheduled context")

				e.applyOperator(ctx)

				if !ctx.casState(StateScheduled, StateReadyToCommit) {
					if ctx.casState(StateAbortSelf, StateAborting) {
						if ctx.lostConflict {
							e.stats.abortSelfByConflict.Add(1)
						} else {
							e.stats.abortSelfBySignal.Add(1)
						}
						ctx.doAbort()
						e.logger.WithFields(logrus.Fields{"loop": e.loopName, "worker": id}).Debug("aborting self after reading signal")
					}
				}
				ctx.executed.Store(true)
			}

			if e.clearROB(id) {
				didWork = true
			}

			if e.robEmpty() && e.pending.EmptyAll() {
				break
			}
		}

		e.term.localTermination(id, didWork)

		if e.stopping.Load() || e.term.globalTermination() {
			return
		}
	}
}

// applyOperator runs NhFunc then, unless the neighborhood acquisition
// already drove this context into ABORT_SELF, OpFunc.
func (e *Executor[T]) applyOperator(ctx *Context[T]) {
	e.nhFunc(ctx.item, &ctx.userHandle)
	if ctx.hasState(StateScheduled) {
		e.opFunc(ctx.item, &ctx.userHandle)
	}
}

func (e *Executor[T]) schedule(workerID int) *Context[T] {
	switch e.schedulingPolicy {
	case ScheduleThreadLocalFirst:
		return e.scheduleThreadLocalFirst(workerID)
	default:
		return e.scheduleGlobalMinFirst(workerID)
	}
}

// scheduleGlobalMinFirst is the default scheduling policy: under the ROB
// mutex, peek every worker's pending heap to find the global minimum,
// then schedule it into the calling worker's slot.
func (e *Executor[T]) scheduleGlobalMinFirst(workerID int) *Context[T] {
	if e.freeLists[workerID].emptyHint() || e.pending.EmptyAll() {
		return nil
	}

	e.robMu.Lock()
	defer e.robMu.Unlock()

	if e.freeLists[workerID].empty() {
		return nil
	}

	minWorker, found := e.pending.findGlobalMin()
	if !found {
		return nil
	}

	item, ok := e.pending.popFrom(minWorker)
	if !ok {
		// Raced empty between the peek and the pop; scheduler returns
		// without scheduling this round.
		return nil
	}

	return e.commissionSlot(workerID, item)
}

// scheduleThreadLocalFirst implements the lower-contention alternative:
// scan starting at the calling worker and take the first non-empty
// pending heap found.
func (e *Executor[T]) scheduleThreadLocalFirst(workerID int) *Context[T] {
	if e.freeLists[workerID].emptyHint() || e.pending.EmptyAll() {
		return nil
	}

	e.robMu.Lock()
	defer e.robMu.Unlock()

	if e.freeLists[workerID].empty() {
		return nil
	}

	tid, found := e.pending.findFirstNonEmpty(workerID)
	if !found {
		return nil
	}

	item, ok := e.pending.popFrom(tid)
	if !ok {
		return nil
	}

	return e.commissionSlot(workerID, item)
}

// commissionSlot pops a slot from workerID's FreeList, reconstructs it in
// place with item, and pushes it into the ROB. Caller must hold robMu.
func (e *Executor[T]) commissionSlot(workerID int, item T) *Context[T] {
	slot, ok := e.freeLists[workerID].pop()
	if !ok {
		return nil
	}
	slot.reinit(item, workerID, e)
	slot.setState(StateScheduled)
	e.rob.push(slot)
	e.stats.numTotal.Add(1)
	return slot
}

func (e *Executor[T]) robEmpty() bool {
	e.robMu.Lock()
	defer e.robMu.Unlock()
	return e.rob.empty()
}

// ForEachOrderedROB is the library entry point: run items to completion,
// honoring cmp's priority order for commit, while nhFunc and opFunc
// execute speculatively across the worker pool. It blocks until every
// item, including any pushed during execution, has committed or the run
// fails.
func ForEachOrderedROB[T any](items []T, cmp Less[T], nhFunc NhFunc[T], opFunc OpFunc[T], opts ...Option) (Stats, error) {
	exec := NewExecutor(cmp, nhFunc, opFunc, opts...)
	exec.PushInitial(items)
	err := exec.Run()
	return exec.Stats(), err
}
