package rob

import "sync/atomic"

// counters holds the live, atomically-updated metrics reported by Stats.
type counters struct {
	numTotal            atomic.Int64
	numCommitted        atomic.Int64
	abortSelfByConflict atomic.Int64
	abortSelfBySignal   atomic.Int64
	abortByOther        atomic.Int64
	numGlobalCleanups   atomic.Int64
}

// Stats is a point-in-time snapshot of the executor's counters, plus the
// derived abort ratio, mirroring the original runtime's printStats.
type Stats struct {
	NumTotal            int64
	NumCommitted        int64
	AbortSelfByConflict int64
	AbortSelfBySignal   int64
	AbortByOther        int64
	NumGlobalCleanups   int64
}

// AbortRatio is (NumTotal-NumCommitted)/NumTotal, or 0 if nothing ran.
func (s Stats) AbortRatio() float64 {
	if s.NumTotal == 0 {
		return 0
	}
	return float64(s.NumTotal-s.NumCommitted) / float64(s.NumTotal)
}

// TotalAborts is the sum of the three abort-cause counters, which must
// equal NumTotal-NumCommitted at termination.
func (s Stats) TotalAborts() int64 {
	return s.AbortSelfByConflict + s.AbortSelfBySignal + s.AbortByOther
}

func (c *counters) snapshot() Stats {
	return Stats{
		NumTotal:            c.numTotal.Load(),
		NumCommitted:        c.numCommitted.Load(),
		AbortSelfByConflict: c.abortSelfByConflict.Load(),
		AbortSelfBySignal:   c.abortSelfBySignal.Load(),
		AbortByOther:        c.abortByOther.Load(),
		NumGlobalCleanups:   c.numGlobalCleanups.Load(),
	}
}
