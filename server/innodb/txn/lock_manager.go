package txn

import (
	"math/rand"
	"sync"
	"time"

	"github.com/kvenginehq/waldb/server/conf"
	"github.com/kvenginehq/waldb/server/innodb/errs"
	"github.com/kvenginehq/waldb/server/innodb/logmgr"
)

// Mode is the lock's conflict class. Shared locks are mutually
// compatible; an exclusive lock conflicts with everything.
type Mode int

const (
	Shared Mode = iota
	Exclusive
)

func compatible(held, requested Mode) bool {
	return held == Shared && requested == Shared
}

type lockKey struct {
	resource string
}

type request struct {
	txn     logmgr.TxnID
	mode    Mode
	granted bool
	created time.Time
	wake    chan struct{}
}

type resourceLocks struct {
	resource string
	reqs     []*request
}

// LockManager is the spec §5 waits-for-graph deadlock detector,
// grounded on the teacher's manager.LockManager (checkDeadlock /
// updateWaitGraph), generalized with a pluggable victim policy that
// names one transaction of a detected cycle; see Acquire for what that
// choice affects.
type LockManager struct {
	mu        sync.Mutex
	table     map[string]*resourceLocks
	waitGraph map[logmgr.TxnID][]logmgr.TxnID
	byTxn     map[logmgr.TxnID][]string
	policy    conf.LockDetect
}

func NewLockManager(policy conf.LockDetect) *LockManager {
	return &LockManager{
		table:     make(map[string]*resourceLocks),
		waitGraph: make(map[logmgr.TxnID][]logmgr.TxnID),
		byTxn:     make(map[logmgr.TxnID][]string),
		policy:    policy,
	}
}

// Acquire grants txn a lock on resource in mode, blocking the caller
// (spec §5 "blocking at mutex acquisition") if it conflicts with an
// already-granted lock, and returns a Deadlock fault if waiting would
// close a cycle in the waits-for graph. The configured victim policy
// picks a transaction from the cycle, and that choice only changes the
// fault's message: the requesting transaction is always the one
// refused, and no other transaction in the cycle is woken or aborted.
// A waiting request dropped by ReleaseAll of its own transaction
// returns a Busy fault.
func (lm *LockManager) Acquire(txn logmgr.TxnID, resource string, mode Mode) error {
	lm.mu.Lock()

	rl, ok := lm.table[resource]
	if !ok {
		rl = &resourceLocks{resource: resource}
		lm.table[resource] = rl
	}

	for _, r := range rl.reqs {
		if r.txn == txn {
			if r.mode == mode || r.mode == Exclusive {
				lm.mu.Unlock()
				return nil
			}
			// upgrade shared -> exclusive only if sole holder
			for _, other := range rl.reqs {
				if other.txn != txn && other.granted {
					lm.mu.Unlock()
					return errs.New(errs.Busy, "cannot upgrade lock: other transactions hold it")
				}
			}
			r.mode = Exclusive
			lm.mu.Unlock()
			return nil
		}
	}

	var holders []logmgr.TxnID
	for _, r := range rl.reqs {
		if r.granted && !compatible(r.mode, mode) {
			holders = append(holders, r.txn)
		}
	}

	req := &request{txn: txn, mode: mode, granted: len(holders) == 0, created: time.Now(), wake: make(chan struct{}, 1)}
	rl.reqs = append(rl.reqs, req)
	if req.granted {
		lm.byTxn[txn] = append(lm.byTxn[txn], resource)
		lm.mu.Unlock()
		return nil
	}

	lm.waitGraph[txn] = holders
	if cycle := lm.findCycle(txn); cycle != nil {
		victim := lm.selectVictim(cycle)
		rl.reqs = rl.reqs[:len(rl.reqs)-1]
		delete(lm.waitGraph, txn)
		lm.mu.Unlock()
		if victim == txn {
			return errs.New(errs.Deadlock, "deadlock detected, this transaction is the chosen victim")
		}
		return errs.New(errs.Deadlock, "deadlock detected")
	}
	lm.byTxn[txn] = append(lm.byTxn[txn], resource)
	lm.mu.Unlock()

	<-req.wake
	lm.mu.Lock()
	granted := req.granted
	lm.mu.Unlock()
	if !granted {
		return errs.New(errs.Busy, "lock request dropped: the transaction released its locks while waiting")
	}
	return nil
}

// findCycle walks the waits-for graph from txn, returning the set of
// transaction ids on a cycle if one exists, grounded on the teacher's
// recursive checkDeadlock(txID, visited).
func (lm *LockManager) findCycle(start logmgr.TxnID) []logmgr.TxnID {
	visited := map[logmgr.TxnID]bool{}
	var path []logmgr.TxnID
	var walk func(id logmgr.TxnID) []logmgr.TxnID
	walk = func(id logmgr.TxnID) []logmgr.TxnID {
		if visited[id] {
			return append([]logmgr.TxnID{}, path...)
		}
		visited[id] = true
		path = append(path, id)
		for _, next := range lm.waitGraph[id] {
			if cyc := walk(next); cyc != nil {
				return cyc
			}
		}
		path = path[:len(path)-1]
		return nil
	}
	return walk(start)
}

// selectVictim applies the configured LockDetect policy to a cycle,
// spec §5's DEFAULT|EXPIRE|MAXLOCKS|MINLOCKS|MINWRITE|MAXWRITE|
// OLDEST|YOUNGEST|RANDOM enum. Locks held/write-lock counts are
// approximated from byTxn; EXPIRE (age-based eviction, a background
// concern) degrades to OLDEST here since there is no separate expiry
// clock in this subsystem.
func (lm *LockManager) selectVictim(cycle []logmgr.TxnID) logmgr.TxnID {
	if len(cycle) == 0 {
		return 0
	}
	switch lm.policy {
	case conf.LockDetectRandom:
		return cycle[rand.Intn(len(cycle))]
	case conf.LockDetectYoungest:
		max := cycle[0]
		for _, id := range cycle[1:] {
			if id > max {
				max = id
			}
		}
		return max
	case conf.LockDetectMaxLocks, conf.LockDetectMaxWrite:
		best, bestCount := cycle[0], len(lm.byTxn[cycle[0]])
		for _, id := range cycle[1:] {
			if n := len(lm.byTxn[id]); n > bestCount {
				best, bestCount = id, n
			}
		}
		return best
	case conf.LockDetectMinLocks, conf.LockDetectMinWrite:
		best, bestCount := cycle[0], len(lm.byTxn[cycle[0]])
		for _, id := range cycle[1:] {
			if n := len(lm.byTxn[id]); n < bestCount {
				best, bestCount = id, n
			}
		}
		return best
	case conf.LockDetectDefault, conf.LockDetectOldest, conf.LockDetectExpire:
		fallthrough
	default:
		min := cycle[0]
		for _, id := range cycle[1:] {
			if id < min {
				min = id
			}
		}
		return min
	}
}

// ReleaseAll releases every lock txn holds and wakes the next
// compatible waiter on each affected resource (spec §3 "commit/abort
// releases all locks held by the transaction").
func (lm *LockManager) ReleaseAll(txn logmgr.TxnID) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	resources := lm.byTxn[txn]
	delete(lm.byTxn, txn)
	delete(lm.waitGraph, txn)
	for id, waits := range lm.waitGraph {
		kept := waits[:0]
		for _, w := range waits {
			if w != txn {
				kept = append(kept, w)
			}
		}
		lm.waitGraph[id] = kept
	}

	for _, resource := range resources {
		rl, ok := lm.table[resource]
		if !ok {
			continue
		}
		var kept []*request
		for _, r := range rl.reqs {
			if r.txn != txn {
				kept = append(kept, r)
			} else if !r.granted {
				select {
				case r.wake <- struct{}{}:
				default:
				}
			}
		}
		rl.reqs = kept
		if len(rl.reqs) == 0 {
			delete(lm.table, resource)
			continue
		}
		lm.grantWaiting(rl)
	}
}

func (lm *LockManager) grantWaiting(rl *resourceLocks) {
	var granted []*request
	for _, r := range rl.reqs {
		if r.granted {
			granted = append(granted, r)
		}
	}
	for _, waiting := range rl.reqs {
		if waiting.granted {
			continue
		}
		ok := true
		for _, g := range granted {
			if !compatible(g.mode, waiting.mode) {
				ok = false
				break
			}
		}
		if ok {
			waiting.granted = true
			granted = append(granted, waiting)
			select {
			case waiting.wake <- struct{}{}:
			default:
			}
		}
	}
}
