// Package env implements C5, the Environment & Recovery Driver (spec
// §4.5): the open/close lifecycle that wires regions, the log manager,
// the record dispatcher, the lock/transaction managers, and the FOP
// journal together, plus the four-pass recovery algorithm.
//
// Grounded on the teacher's server/innodb/engine package for the
// "open subsystems in dependency order, panic-and-unwind on failure"
// shape, generalized from a single monolithic Init to the explicit
// preflight/attach/open/recover sequence spec §4.5.1 names.
package env

import (
	"sync/atomic"

	"github.com/kvenginehq/waldb/logger"
	"github.com/kvenginehq/waldb/server/conf"
	"github.com/kvenginehq/waldb/server/innodb/dispatch"
	"github.com/kvenginehq/waldb/server/innodb/errs"
	"github.com/kvenginehq/waldb/server/innodb/fop"
	"github.com/kvenginehq/waldb/server/innodb/logmgr"
	"github.com/kvenginehq/waldb/server/innodb/region"
	"github.com/kvenginehq/waldb/server/innodb/txn"
)

// Environment is one open handle on a home directory's full state.
type Environment struct {
	home  string
	flags OpenFlag
	cfg   *conf.Cfg

	rgn        *region.Region
	log        *logmgr.Manager
	dispatcher *dispatch.Dispatcher
	lockMgr    *txn.LockManager
	txnMgr     *txn.Manager
	store      fop.FileStore
	journal    *fop.Journal

	openHandles int32
	panicFault  *errs.Fault
}

func regionFlagsFor(flags OpenFlag) region.InitFlag {
	var out region.InitFlag
	if flags.has(InitCDB) {
		out |= region.InitCDB
	}
	if flags.has(InitLock) {
		out |= region.InitLock
	}
	if flags.has(InitLog) {
		out |= region.InitLog
	}
	if flags.has(InitMpool) {
		out |= region.InitMpool
	}
	if flags.has(InitRep) {
		out |= region.InitRep
	}
	if flags.has(InitTxn) {
		out |= region.InitTxn
	}
	return out
}

// Open implements spec §4.5.1's five-step open sequence, preceded by
// the preflight checks and, for RECOVER*, a forced region removal.
func Open(home string, flags OpenFlag, mode uint32) (*Environment, error) {
	if err := preflight(flags); err != nil {
		return nil, err
	}

	if flags.has(Recover) || flags.has(RecoverFatal) {
		if err := region.Remove(home); err != nil {
			return nil, err
		}
	}

	cfg := conf.Default()
	if err := cfg.Load(home); err != nil {
		return nil, err
	}
	if err := logger.Init(logger.Config{
		ErrorLogPath: cfg.ErrorFile,
		ErrorPrefix:  cfg.ErrorPrefix,
	}); err != nil {
		return nil, err
	}

	rgn, effective, err := region.Attach(home, regionFlagsFor(flags), flags.has(Private))
	if err != nil {
		logger.Errorf("attach region under %s: %v", home, err)
		return nil, err
	}
	wasCreator := rgn.IsCreator()
	if flags.has(Join) {
		flags |= fromRegionFlags(effective)
	}

	e := &Environment{home: home, flags: flags, cfg: cfg, rgn: rgn}

	if err := e.openSubsystems(flags, cfg); err != nil {
		logger.Errorf("open subsystems under %s: %v", home, err)
		e.panicUnwind()
		return nil, err
	}

	ranRecovery := false
	if flags.has(Recover) || flags.has(RecoverFatal) {
		logger.Infof("running recovery for %s", home)
		if err := e.runRecovery(); err != nil {
			logger.Errorf("recovery failed for %s: %v", home, err)
			e.panicUnwind()
			return nil, err
		}
		logger.Infof("recovery complete for %s", home)
		ranRecovery = true
	}

	if flags.has(Create) && flags.has(InitTxn) && wasCreator && !ranRecovery {
		sys := &systemTxn{id: 0}
		if _, err := e.log.Append(sys, RecTxnIDReset, logmgr.ZeroLSN, nil, logmgr.Durable); err != nil {
			e.panicUnwind()
			return nil, err
		}
	}

	return e, nil
}

func fromRegionFlags(rf region.InitFlag) OpenFlag {
	var out OpenFlag
	if rf&region.InitCDB != 0 {
		out |= InitCDB
	}
	if rf&region.InitLock != 0 {
		out |= InitLock
	}
	if rf&region.InitLog != 0 {
		out |= InitLog
	}
	if rf&region.InitMpool != 0 {
		out |= InitMpool
	}
	if rf&region.InitRep != 0 {
		out |= InitRep
	}
	if rf&region.InitTxn != 0 {
		out |= InitTxn
	}
	return out
}

// openSubsystems opens mpool -> crypto -> log -> lock -> txn, in that
// dependency order (spec §4.5.1 step 4). mpool/crypto have no standing
// subsystem of their own in this core (buffer-pool pages and at-rest
// encryption are external-collaborator concerns per spec §1 Non-goals);
// their "open" step is the log segment's cipherBlock alignment, already
// folded into logmgr.Open.
func (e *Environment) openSubsystems(flags OpenFlag, cfg *conf.Cfg) error {
	log, err := logmgr.Open(cfg.LogDir, uint32(cfg.LgMax), 1)
	if err != nil {
		return err
	}
	e.log = log

	if flags.has(SystemMem) {
		e.store = fop.NewMemStore()
	} else {
		e.store = fop.NewDiskStore(cfg.DataDir)
	}

	if !flags.has(InitLock) && !flags.has(InitTxn) {
		return nil
	}

	e.lockMgr = txn.NewLockManager(cfg.LkDetect)

	if !flags.has(InitTxn) {
		return nil
	}

	e.txnMgr = txn.NewManager(e.log, e.lockMgr)
	e.dispatcher = dispatch.New()
	fop.RegisterHandlers(e.dispatcher)
	e.dispatcher.Register(RecCheckpoint, handleCheckpoint)
	e.dispatcher.Register(txn.RecTxnCommit, handleTxnCommit)
	e.dispatcher.Register(RecTxnIDReset, handleTxnIDReset)
	e.journal = fop.New(e.log, e.store, e.rgn)
	return nil
}

// panicUnwind implements spec §4.5.1's "on any error after region
// creation: panic the environment, refresh (detach), remove region
// files, refresh again."
func (e *Environment) panicUnwind() {
	e.panicFault = errs.New(errs.Panic, "environment open failed after region creation")
	logger.Errorf("environment %s panicked, unwinding region state", e.home)
	if e.log != nil {
		e.log.Refresh()
	}
	if e.rgn != nil {
		e.rgn.Detach()
		region.Remove(e.home)
	}
}

// Begin starts a new transaction against this environment.
func (e *Environment) Begin(parent *txn.Txn, flags txn.Flag) (*txn.Txn, error) {
	if err := e.checkPanic(); err != nil {
		return nil, err
	}
	if e.txnMgr == nil {
		return nil, errs.New(errs.InvalidArgument, "environment was not opened with INIT_TXN")
	}
	atomic.AddInt32(&e.openHandles, 1)
	return e.txnMgr.Begin(parent, flags), nil
}

// ReleaseHandle records that a caller is done with a handle obtained
// through this environment (a transaction, a file handle), so Close can
// enforce HandlesOpen correctly.
func (e *Environment) ReleaseHandle() {
	atomic.AddInt32(&e.openHandles, -1)
}

func (e *Environment) checkPanic() error {
	if e.panicFault != nil {
		return e.panicFault
	}
	return nil
}

// Journal returns the environment's File-Operation Journal.
func (e *Environment) Journal() *fop.Journal { return e.journal }

// Log returns the environment's log manager.
func (e *Environment) Log() *logmgr.Manager { return e.log }

// Close implements spec §4.5.3: reverse-order close (txn -> log -> lock
// -> mpool -> crypto -> regions), refusing with HandlesOpen if live
// handles or transactions remain.
func (e *Environment) Close() error {
	if err := e.checkPanic(); err != nil {
		return err
	}
	if atomic.LoadInt32(&e.openHandles) > 0 {
		return errs.New(errs.Busy, "HandlesOpen: live database handles or transactions remain")
	}
	if e.txnMgr != nil {
		for _, id := range e.txnMgr.ActiveIDs() {
			if t := e.txnMgr.Get(id); t != nil {
				return errs.New(errs.Busy, "HandlesOpen: live transactions remain")
			}
		}
	}

	if e.log != nil {
		if e.flags.has(Private) {
			if lsn := e.log.CurrentLSN(); !lsn.IsZero() {
				_ = e.log.Flush(lsn)
			}
		}
		if err := e.log.Refresh(); err != nil {
			return err
		}
	}
	if e.rgn != nil {
		if err := e.rgn.Detach(); err != nil {
			return err
		}
	}
	return nil
}
