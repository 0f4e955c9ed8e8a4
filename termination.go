package rob

import "sync/atomic"

// terminationDetector is satisfied by both Dijkstra-style detectors here.
// localTermination is called by a worker at the end of each outer
// executor-loop iteration; globalTermination reports whether the master
// has observed two consecutive clean token passes.
type terminationDetector interface {
	initializeWorker(id int)
	localTermination(id int, workHappened bool)
	globalTermination() bool
}

// --- ring variant -----------------------------------------------------

// ringTerminationDetector is the primary, two-pass Dijkstra ring: the
// token travels worker i -> i+1 (mod N); worker 0 is master.
type ringTerminationDetector struct {
	numWorkers int
	tokens     []ringToken
	globalTerm atomic.Bool
}

type ringToken struct {
	hasToken     atomic.Bool
	tokenIsBlack atomic.Bool
	processIsBlack bool // touched only by the owning worker
	lastWasWhite   bool // master only
}

func newRingTerminationDetector(numWorkers int) *ringTerminationDetector {
	return &ringTerminationDetector{numWorkers: numWorkers, tokens: make([]ringToken, numWorkers)}
}

func (d *ringTerminationDetector) initializeWorker(id int) {
	t := &d.tokens[id]
	t.tokenIsBlack.Store(false)
	t.processIsBlack = true
	t.lastWasWhite = true
	if id == 0 {
		t.hasToken.Store(true)
	} else {
		t.hasToken.Store(false)
	}
	if id == 0 {
		d.globalTerm.Store(false)
	}
}

func (d *ringTerminationDetector) propToken(id int, isBlack bool) {
	next := &d.tokens[(id+1)%d.numWorkers]
	next.tokenIsBlack.Store(isBlack)
	next.hasToken.Store(true)
}

func (d *ringTerminationDetector) localTermination(id int, workHappened bool) {
	t := &d.tokens[id]
	t.processIsBlack = t.processIsBlack || workHappened

	if !t.hasToken.Load() {
		return
	}

	if id == 0 {
		failed := t.tokenIsBlack.Load() || t.processIsBlack
		t.tokenIsBlack.Store(false)
		t.processIsBlack = false
		if t.lastWasWhite && !failed {
			d.globalTerm.Store(true)
			return
		}
		t.lastWasWhite = !failed
	}

	taint := t.processIsBlack || t.tokenIsBlack.Load()
	t.processIsBlack = false
	t.tokenIsBlack.Store(false)
	t.hasToken.Store(false)
	d.propToken(id, taint)
}

func (d *ringTerminationDetector) globalTermination() bool {
	return d.globalTerm.Load()
}

// --- tree variant ------------------------------------------------------

const termTreeFanIn = 2

// treeTerminationDetector is the alternate, fan-in-2 Dijkstra tree rooted
// at worker 0, behaviorally equivalent to the ring variant.
type treeTerminationDetector struct {
	numWorkers int
	nodes      []treeNode
	globalTerm atomic.Bool
}

type treeNode struct {
	downToken    atomic.Bool
	upToken      [termTreeFanIn]atomic.Int32 // -1 = missing, 0 = white, 1 = black
	processIsBlack bool
	hasToken       bool
	lastWasWhite   bool
	parent         int
	parentOffset   int
	children       [termTreeFanIn]int // -1 = no child
}

func newTreeTerminationDetector(numWorkers int) *treeTerminationDetector {
	d := &treeTerminationDetector{numWorkers: numWorkers, nodes: make([]treeNode, numWorkers)}
	for id := range d.nodes {
		n := &d.nodes[id]
		n.parent = (id - 1) / termTreeFanIn
		n.parentOffset = (id - 1) % termTreeFanIn
		for i := 0; i < termTreeFanIn; i++ {
			child := id*termTreeFanIn + i + 1
			if child < numWorkers {
				n.children[i] = child
			} else {
				n.children[i] = -1
			}
		}
	}
	return d
}

func (d *treeTerminationDetector) initializeWorker(id int) {
	n := &d.nodes[id]
	n.downToken.Store(false)
	for i := 0; i < termTreeFanIn; i++ {
		n.upToken[i].Store(-1)
	}
	n.processIsBlack = true
	n.hasToken = false
	n.lastWasWhite = false
	if id == 0 {
		d.globalTerm.Store(false)
		n.downToken.Store(true)
	}
}

func (d *treeTerminationDetector) processToken(id int) {
	n := &d.nodes[id]

	haveAll := n.hasToken
	black := n.processIsBlack
	for i := 0; i < termTreeFanIn; i++ {
		if n.children[i] < 0 {
			continue
		}
		v := n.upToken[i].Load()
		if v == -1 {
			haveAll = false
		} else {
			black = black || v == 1
		}
	}

	if haveAll {
		n.processIsBlack = false
		n.hasToken = false
		if id == 0 {
			if n.lastWasWhite && !black {
				d.globalTerm.Store(true)
				return
			}
			n.lastWasWhite = !black
			n.downToken.Store(true)
		} else {
			parent := &d.nodes[n.parent]
			v := int32(0)
			if black {
				v = 1
			}
			parent.upToken[n.parentOffset].Store(v)
		}
	}

	if n.downToken.Load() {
		n.downToken.Store(false)
		n.hasToken = true
		for i := 0; i < termTreeFanIn; i++ {
			n.upToken[i].Store(-1)
			if n.children[i] >= 0 {
				d.nodes[n.children[i]].downToken.Store(true)
			}
		}
	}
}

func (d *treeTerminationDetector) localTermination(id int, workHappened bool) {
	n := &d.nodes[id]
	n.processIsBlack = n.processIsBlack || workHappened
	d.processToken(id)
}

func (d *treeTerminationDetector) globalTermination() bool {
	return d.globalTerm.Load()
}

func newTerminationDetector(strategy TerminationStrategy, numWorkers int) terminationDetector {
	switch strategy {
	case TerminationTree:
		return newTreeTerminationDetector(numWorkers)
	default:
		return newRingTerminationDetector(numWorkers)
	}
}
