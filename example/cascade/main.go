package main

import (
	"fmt"
	"sync"

	"github.com/amorphous-rt/rob"
)

// ledger is the one shared resource every item contends for, so every
// lower-priority item that sneaks into execution ahead of a
// higher-priority one gets aborted and retried until the order the
// executor externally commits in matches priority order exactly.
type ledger struct {
	rob.AtomicLockable
	mu  sync.Mutex
	log []int
}

func (l *ledger) record(item int) {
	l.mu.Lock()
	l.log = append(l.log, item)
	l.mu.Unlock()
}

func (l *ledger) unrecord() {
	l.mu.Lock()
	l.log = l.log[:len(l.log)-1]
	l.mu.Unlock()
}

func main() {
	const n = 12
	items := make([]int, n)
	for i := range items {
		items[i] = n - i // arrives n, n-1, ..., 1: exact reverse of priority
	}

	book := &ledger{}

	stats, err := rob.ForEachOrderedROB(items,
		func(a, b int) bool { return a < b },
		func(item int, uc *rob.UserContext[int]) {
			uc.Acquire(book)
		},
		func(item int, uc *rob.UserContext[int]) {
			book.record(item)
			uc.OnRollback(book.unrecord)
		},
		rob.WithWorkers(4),
		rob.WithWindowSize(2),
		rob.WithLoopName("cascade"),
	)
	if err != nil {
		panic(err)
	}

	fmt.Printf("arrived:  %v\n", items)
	fmt.Printf("committed order: %v\n", book.log)
	fmt.Printf("total %d, committed %d, aborts %d (ratio %.2f)\n",
		stats.NumTotal, stats.NumCommitted, stats.TotalAborts(), stats.AbortRatio())
}
