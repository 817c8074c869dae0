// Package txn implements the Transaction Descriptor and victim-policy
// lock manager from spec §3/§5, grounded on the teacher's
// manager.TransactionManager (begin/commit/state-check-first-thing) and
// manager.LockManager (waits-for graph, checkDeadlock/updateWaitGraph),
// generalized from a single fixed deadlock action to a pluggable victim
// selector driven by conf.LockDetect.
package txn

import (
	"sync"
	"sync/atomic"

	"github.com/kvenginehq/waldb/server/innodb/errs"
	"github.com/kvenginehq/waldb/server/innodb/logmgr"
)

// State mirrors spec §3's Transaction Descriptor state enum.
type State int

const (
	Active State = iota
	Prepared
	Committed
	Aborted
)

// Flag configures a transaction at Begin time.
type Flag uint32

const (
	// ReadOnly transactions commit without a commit record or a log
	// flush; other appends made on their behalf are not blocked.
	ReadOnly Flag = 1 << iota
)

// AtCommitFunc is a callback registered by a collaborator (FOP's
// rename-and-delete protocol, spec §4.4) that runs only if the owning
// transaction actually commits.
type AtCommitFunc func() error

// Txn is the Transaction Descriptor: (txnid, last_lsn, parent, kids,
// flags, state) per spec §3.
type Txn struct {
	id      logmgr.TxnID
	flags   Flag
	mgr     *Manager
	parent  *Txn

	mu        sync.Mutex
	state     State
	lastLSN   logmgr.LSN
	kids      []*Txn
	atCommit  []AtCommitFunc
	atAbort   []AtCommitFunc
	heldLocks []lockKey
}

func (t *Txn) ID() logmgr.TxnID { return t.id }

func (t *Txn) SetLastLSN(lsn logmgr.LSN) {
	t.mu.Lock()
	t.lastLSN = lsn
	t.mu.Unlock()
}

func (t *Txn) LastLSN() logmgr.LSN {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastLSN
}

func (t *Txn) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Parent returns the transaction this one was begun under, or nil for
// a top-level transaction.
func (t *Txn) Parent() *Txn { return t.parent }

// AtCommit registers fn to run once, only on a successful Commit, in
// registration order (spec §4.4 "rename-and-delete" protocol step 2).
func (t *Txn) AtCommit(fn AtCommitFunc) {
	t.mu.Lock()
	t.atCommit = append(t.atCommit, fn)
	t.mu.Unlock()
}

// AtAbort registers fn to run once, only on Abort, in reverse
// registration order — the rename-and-delete protocol's undo side (spec §4.4 "if
// the transaction aborts, the rename is undone").
func (t *Txn) AtAbort(fn AtCommitFunc) {
	t.mu.Lock()
	t.atAbort = append(t.atAbort, fn)
	t.mu.Unlock()
}

// Manager is the transaction subsystem: id allocation, the active
// table, and the lock manager every Txn acquires through.
type Manager struct {
	log    *logmgr.Manager
	locks  *LockManager
	nextID uint64

	mu     sync.Mutex
	active map[logmgr.TxnID]*Txn
}

func NewManager(log *logmgr.Manager, locks *LockManager) *Manager {
	return &Manager{
		log:    log,
		locks:  locks,
		active: make(map[logmgr.TxnID]*Txn),
	}
}

// Begin starts a new transaction, optionally as a child of parent
// (spec §3 "kids"; aborting a parent implies aborting active children).
func (m *Manager) Begin(parent *Txn, flags Flag) *Txn {
	id := logmgr.TxnID(atomic.AddUint64(&m.nextID, 1))
	t := &Txn{id: id, flags: flags, mgr: m, parent: parent, state: Active}

	m.mu.Lock()
	m.active[id] = t
	m.mu.Unlock()

	if parent != nil {
		parent.mu.Lock()
		parent.kids = append(parent.kids, t)
		parent.mu.Unlock()
	}
	return t
}

// RecTxnCommit is the log record recovery's loser-transaction scan
// (spec §4.5.2 Pass D) looks for: its presence between a transaction's
// first record and the end of the log is what makes that transaction a
// winner instead of a loser.
const RecTxnCommit logmgr.RecType = 50

// Commit appends a commit record and flushes the log through it (unless
// the transaction is ReadOnly), runs registered at-commit callbacks in
// order, releases its locks, and marks it Committed. This runs even for
// a transaction that never called Append (spec §8's empty-transaction
// boundary condition): ReadOnly is the only thing that skips the record.
//
// The state check happens first, mirroring the teacher's
// TransactionManager.Commit fail-fast pattern.
func (t *Txn) Commit() error {
	t.mu.Lock()
	if t.state != Active {
		t.mu.Unlock()
		return errs.New(errs.InvalidArgument, "commit called on a non-active transaction")
	}
	lastLSN := t.lastLSN
	callbacks := t.atCommit
	t.mu.Unlock()

	if t.flags&ReadOnly == 0 {
		// Always append a commit record, even for a transaction that
		// never wrote anything else: spec §8 "Empty-transaction commit
		// produces exactly one commit record" — an empty transaction's
		// lastLSN is ZeroLSN, which Append already treats as "no prior
		// record" (mirrors the teacher's own first-record-in-a-txn path).
		commitLSN, err := t.mgr.log.Append(t, RecTxnCommit, lastLSN, nil, logmgr.Durable)
		if err != nil {
			return err
		}
		if err := t.mgr.log.Flush(commitLSN); err != nil {
			return err
		}
	}

	for _, fn := range callbacks {
		if err := fn(); err != nil {
			return errs.Wrap(errs.IoError, err, "at-commit callback")
		}
	}

	t.mu.Lock()
	t.state = Committed
	t.mu.Unlock()

	t.mgr.locks.ReleaseAll(t.id)
	t.mgr.finish(t)
	return nil
}

// Abort marks the transaction (and, recursively, its active children)
// Aborted and releases its locks without running at-commit callbacks.
func (t *Txn) Abort() error {
	t.mu.Lock()
	if t.state != Active {
		t.mu.Unlock()
		return errs.New(errs.InvalidArgument, "abort called on a non-active transaction")
	}
	t.state = Aborted
	kids := t.kids
	callbacks := t.atAbort
	t.mu.Unlock()

	for _, kid := range kids {
		if kid.State() == Active {
			if err := kid.Abort(); err != nil {
				return err
			}
		}
	}

	for i := len(callbacks) - 1; i >= 0; i-- {
		if err := callbacks[i](); err != nil {
			return errs.Wrap(errs.IoError, err, "at-abort callback")
		}
	}

	t.mgr.locks.ReleaseAll(t.id)
	t.mgr.finish(t)
	return nil
}

func (m *Manager) finish(t *Txn) {
	m.mu.Lock()
	delete(m.active, t.id)
	m.mu.Unlock()
}

// Get returns the descriptor for a still-active txnid, or nil.
func (m *Manager) Get(id logmgr.TxnID) *Txn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active[id]
}

// ActiveIDs returns the set of currently active transaction ids, used
// when writing a checkpoint record to find the oldest in-flight
// transaction (the record recovery Pass A reads), and by Close to
// refuse while transactions remain.
func (m *Manager) ActiveIDs() []logmgr.TxnID {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]logmgr.TxnID, 0, len(m.active))
	for id := range m.active {
		ids = append(ids, id)
	}
	return ids
}
