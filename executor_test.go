package rob

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// orderLog records, under mutual exclusion guaranteed by whatever Lockable
// gates access to it, the sequence of items that actually survive to
// commit. A committing context never has its append undone; an aborting
// one always does, immediately and before releasing the Lockable, so the
// final snapshot is exactly the commit order.
type orderLog struct {
	mu  sync.Mutex
	seq []int
}

func (l *orderLog) append(v int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq = append(l.seq, v)
}

func (l *orderLog) popLast() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq = l.seq[:len(l.seq)-1]
}

func (l *orderLog) snapshot() []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]int, len(l.seq))
	copy(out, l.seq)
	return out
}

type sharedLockResource struct {
	AtomicLockable
}

func TestForEachOrderedROB_EmptyInput(t *testing.T) {
	stats, err := ForEachOrderedROB[int](nil, intLess,
		func(int, *UserContext[int]) {},
		func(int, *UserContext[int]) {},
		WithWorkers(2),
	)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.NumTotal)
	assert.Equal(t, int64(0), stats.NumCommitted)
	assert.Equal(t, int64(0), stats.TotalAborts())
}

func TestForEachOrderedROB_SingleItemNoLocks(t *testing.T) {
	var ran int
	var mu sync.Mutex

	stats, err := ForEachOrderedROB([]int{1}, intLess,
		func(int, *UserContext[int]) {},
		func(item int, uc *UserContext[int]) {
			mu.Lock()
			ran++
			mu.Unlock()
		},
		WithWorkers(2),
	)
	require.NoError(t, err)
	assert.Equal(t, 1, ran)
	assert.Equal(t, int64(1), stats.NumTotal)
	assert.Equal(t, int64(1), stats.NumCommitted)
	assert.Equal(t, int64(0), stats.TotalAborts())
}

func TestForEachOrderedROB_IndependentItemsNeverConflict(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}
	locks := make([]sharedLockResource, len(items))

	stats, err := ForEachOrderedROB(items, intLess,
		func(item int, uc *UserContext[int]) {
			uc.Acquire(&locks[item-1])
		},
		func(int, *UserContext[int]) {},
		WithWorkers(3),
	)
	require.NoError(t, err)
	assert.Equal(t, int64(len(items)), stats.NumTotal)
	assert.Equal(t, int64(len(items)), stats.NumCommitted)
	assert.Equal(t, int64(0), stats.TotalAborts())
}

func TestForEachOrderedROB_TwoItemsSharedLock_CommitInPriorityOrder(t *testing.T) {
	var lock sharedLockResource
	var log orderLog

	stats, err := ForEachOrderedROB([]int{2, 1}, intLess,
		func(item int, uc *UserContext[int]) {
			uc.Acquire(&lock)
		},
		func(item int, uc *UserContext[int]) {
			log.append(item)
			uc.OnRollback(log.popLast)
		},
		WithWorkers(2),
	)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.NumCommitted)
	assert.Equal(t, []int{1, 2}, log.snapshot())
}

func TestForEachOrderedROB_OperatorPushesNewItem(t *testing.T) {
	stats, err := ForEachOrderedROB([]int{1}, intLess,
		func(int, *UserContext[int]) {},
		func(item int, uc *UserContext[int]) {
			if item == 1 {
				uc.Push(3)
			}
		},
		WithWorkers(2),
	)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.NumTotal)
	assert.Equal(t, int64(2), stats.NumCommitted)
}

func TestForEachOrderedROB_CascadingAbortsConvergeToPriorityOrder(t *testing.T) {
	const n = 6
	items := make([]int, n)
	for i := range items {
		items[i] = n - i // arrives n, n-1, ..., 1, exact reverse of priority
	}

	var lock sharedLockResource
	var log orderLog

	stats, err := ForEachOrderedROB(items, intLess,
		func(item int, uc *UserContext[int]) {
			uc.Acquire(&lock)
		},
		func(item int, uc *UserContext[int]) {
			log.append(item)
			uc.OnRollback(log.popLast)
		},
		WithWorkers(4),
		WithWindowSize(2),
	)
	require.NoError(t, err)
	assert.Equal(t, int64(n), stats.NumCommitted)

	want := make([]int, n)
	for i := range want {
		want[i] = i + 1
	}
	assert.Equal(t, want, log.snapshot())
	assert.Equal(t, stats.NumTotal-stats.NumCommitted, stats.TotalAborts())
}

func TestExecutor_Invariant_NoLockableOwnedAtTermination(t *testing.T) {
	var lock sharedLockResource
	items := []int{3, 1, 2, 5, 4}

	exec := NewExecutor(intLess,
		func(item int, uc *UserContext[int]) { uc.Acquire(&lock) },
		func(int, *UserContext[int]) {},
		WithWorkers(3),
	)
	exec.PushInitial(items)
	require.NoError(t, exec.Run())

	assert.Nil(t, lock.GetOwner())
}

func TestExecutor_Invariant_FreeListSlotsConservedAtTermination(t *testing.T) {
	var lock sharedLockResource
	items := []int{3, 1, 2, 5, 4, 6, 7}
	const workers, window = 3, 5

	exec := NewExecutor(intLess,
		func(item int, uc *UserContext[int]) { uc.Acquire(&lock) },
		func(int, *UserContext[int]) {},
		WithWorkers(workers),
		WithWindowSize(window),
	)
	exec.PushInitial(items)
	require.NoError(t, exec.Run())

	total := 0
	for _, fl := range exec.freeLists {
		total += len(fl.slots)
	}
	assert.Equal(t, workers*window, total)
}

func TestExecutor_Invariant_AbortCountersSumMatchesTotalMinusCommitted(t *testing.T) {
	var lock sharedLockResource
	items := []int{8, 7, 6, 5, 4, 3, 2, 1}

	exec := NewExecutor(intLess,
		func(item int, uc *UserContext[int]) { uc.Acquire(&lock) },
		func(int, *UserContext[int]) {},
		WithWorkers(4),
		WithWindowSize(2),
	)
	exec.PushInitial(items)
	require.NoError(t, exec.Run())

	stats := exec.Stats()
	assert.Equal(t, stats.NumTotal-stats.NumCommitted, stats.TotalAborts())
	assert.Equal(t, int64(len(items)), stats.NumCommitted)
}

// TestForEachOrderedROB_WorkerPanicTearsDownPool reproduces a panic that
// happens while a context holds a Lockable a peer is contending for. The
// panicking context never reaches a terminal state or executed=true, so
// the peer helping it abort would spin forever without a shutdown check
// in helpAbort/acquire, and Run would never return.
func TestForEachOrderedROB_WorkerPanicTearsDownPool(t *testing.T) {
	var lock sharedLockResource
	acquired := make(chan struct{})

	const panicker = 2 // lower priority; holds the lock and panics before releasing it
	const victim = 1   // higher priority; ends up helping panicker abort

	items := []int{panicker, victim}

	done := make(chan error, 1)
	go func() {
		_, err := ForEachOrderedROB(items, intLess,
			func(item int, uc *UserContext[int]) {
				switch item {
				case panicker:
					uc.Acquire(&lock)
					close(acquired)
				case victim:
					<-acquired
					uc.Acquire(&lock)
				}
			},
			func(item int, uc *UserContext[int]) {
				if item == panicker {
					panic("boom")
				}
			},
			WithWorkers(2),
		)
		done <- err
	}()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "boom")
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after a worker panic; a peer helping the panicking context abort is likely spinning forever")
	}
}
