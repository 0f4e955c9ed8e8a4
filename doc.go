// Package rob implements a reorder-buffer speculative ordered executor:
// an ordered stream of work items, each carrying a user-defined
// priority, runs concurrently across a worker pool while the executor
// externally preserves the illusion that items commit in strict
// priority order.
//
// Items that touch no shared resources never abort, but they still
// commit in priority order. Items that conflict over a Lockable resolve
// the conflict by comparing priority: the lower-priority context aborts
// and retries with a fresh attempt at the same item, rather than
// blocking. A reorder buffer holds every live attempt and only lets the
// highest-priority (earliest) one commit, and only once no pending item
// precedes it.
//
// Call ForEachOrderedROB for the common case, or build an Executor
// directly for finer control over worker count, scheduling policy,
// abort-return policy, and termination-detection topology.
package rob
