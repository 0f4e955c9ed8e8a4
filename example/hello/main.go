package main

import (
	"fmt"
	"time"

	"github.com/amorphous-rt/rob"
)

// account is a single shared resource: every deposit touches it, so every
// item conflicts with every other and the executor has to earn its keep.
type account struct {
	rob.AtomicLockable
	balance int
}

func main() {
	acct := &account{}
	deposits := []int{30, 10, 50, 20, 40}

	start := time.Now()
	stats, err := rob.ForEachOrderedROB(deposits,
		func(a, b int) bool { return a < b },
		func(item int, uc *rob.UserContext[int]) {
			uc.Acquire(acct)
		},
		func(item int, uc *rob.UserContext[int]) {
			acct.balance += item
			uc.OnRollback(func() { acct.balance -= item })
		},
		rob.WithWorkers(4),
		rob.WithLoopName("hello"),
	)
	if err != nil {
		panic(err)
	}

	fmt.Println("execution took", time.Since(start))
	fmt.Printf("final balance: %d\n", acct.balance)
	fmt.Printf("committed %d/%d items, abort ratio %.2f\n", stats.NumCommitted, stats.NumTotal, stats.AbortRatio())
}
