package env

import "github.com/kvenginehq/waldb/server/innodb/errs"

// OpenFlag is the bitset passed to Open (spec §4.5.1).
type OpenFlag uint32

const (
	Create OpenFlag = 1 << iota
	InitCDB
	InitLock
	InitLog
	InitMpool
	InitTxn
	InitRep
	Join
	Lockdown
	Private
	Recover
	RecoverFatal
	SystemMem
	Thread
	UseEnviron
	UseEnvironRoot
)

// preflight runs the spec §4.5.1 checks that must fail before any side
// effect at all.
func preflight(flags OpenFlag) error {
	if flags&Create != 0 && flags&Join != 0 {
		return errs.New(errs.InvalidArgument, "CREATE and JOIN are mutually exclusive")
	}
	if flags&Private != 0 && flags&SystemMem != 0 {
		return errs.New(errs.InvalidArgument, "PRIVATE and SYSTEM_MEM are mutually exclusive")
	}
	if flags&Recover != 0 && flags&RecoverFatal != 0 {
		return errs.New(errs.InvalidArgument, "RECOVER and RECOVER_FATAL are mutually exclusive")
	}
	if flags&InitRep != 0 && (flags&InitTxn == 0 || flags&InitLock == 0) {
		return errs.New(errs.InvalidArgument, "INIT_REP requires INIT_TXN and INIT_LOCK")
	}
	if (flags&Recover != 0 || flags&RecoverFatal != 0) && flags&InitTxn == 0 {
		return errs.New(errs.InvalidArgument, "RECOVER* requires INIT_TXN")
	}
	if flags&InitCDB != 0 {
		const cdbSubset = InitCDB | Create | Thread | UseEnviron | UseEnvironRoot | Private
		if flags&^cdbSubset != 0 {
			return errs.New(errs.InvalidArgument, "INIT_CDB only combines with the CDB flag subset")
		}
	}
	return nil
}

func (f OpenFlag) has(bit OpenFlag) bool { return f&bit != 0 }
