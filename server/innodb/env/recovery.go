package env

import (
	"github.com/kvenginehq/waldb/server/innodb/dispatch"
	"github.com/kvenginehq/waldb/server/innodb/errs"
	"github.com/kvenginehq/waldb/server/innodb/fop"
	"github.com/kvenginehq/waldb/server/innodb/logmgr"
	"github.com/kvenginehq/waldb/server/innodb/txn"
)

// runRecovery implements the four-pass algorithm of spec §4.5.2. An
// empty log needs no recovery at all.
func (e *Environment) runRecovery() error {
	start, empty, err := e.findStart()
	if err != nil {
		return err
	}
	if empty {
		return nil
	}

	if err := e.passForward(start, dispatch.ApplyForwardOpenFiles); err != nil {
		return errs.Annotate(errs.Corruption, err, "recovery pass B (open files) from %s", start)
	}
	if err := e.passForward(start, dispatch.ApplyForwardNormal); err != nil {
		return errs.Annotate(errs.Corruption, err, "recovery pass C (redo) from %s", start)
	}
	if err := e.passBackwardUndo(start); err != nil {
		return errs.Annotate(errs.Corruption, err, "recovery pass D (undo losers) from %s", start)
	}
	return nil
}

// findStart implements Pass A: walk backward from the end of the log
// looking for a checkpoint record whose oldest-active-transaction LSN
// is still present in the log; fall back to the log's first record.
func (e *Environment) findStart() (logmgr.LSN, bool, error) {
	c, err := logmgr.NewCursor(e.cfg.LogDir)
	if err != nil {
		if errs.Is(err, errs.NotFound) {
			return logmgr.LSN{}, true, nil
		}
		return logmgr.LSN{}, false, err
	}
	defer c.Close()

	_, firstLSN, err := c.First()
	if err != nil {
		return logmgr.LSN{}, true, nil
	}

	rec, _, err := c.Last()
	if err != nil {
		return firstLSN, false, nil
	}
	for {
		if rec.RecType == RecCheckpoint {
			cp, derr := decodeCheckpointRecord(rec.Body)
			if derr == nil && !cp.OldestActiveTxnLSN.Less(firstLSN) {
				return cp.OldestActiveTxnLSN, false, nil
			}
			break
		}
		prevRec, _, perr := c.Prev()
		if perr != nil {
			break
		}
		rec = prevRec
	}
	return firstLSN, false, nil
}

// passForward cursors from start to the end of the log, dispatching
// every record under opcode.
func (e *Environment) passForward(start logmgr.LSN, opcode dispatch.Opcode) error {
	c, err := logmgr.NewCursor(e.cfg.LogDir)
	if err != nil {
		return err
	}
	defer c.Close()

	rec, lsn, err := c.Set(start)
	if err != nil {
		return err
	}
	ctx := &fop.RecoveryCtx{Store: e.store}
	for {
		if err := e.dispatcher.DispatchWithFallback(rec, lsn, opcode, ctx); err != nil {
			return err
		}
		next, nextLSN, nerr := c.Next()
		if nerr != nil {
			if errs.Is(nerr, errs.NotFound) {
				return nil
			}
			return nerr
		}
		rec, lsn = next, nextLSN
	}
}

// passBackwardUndo implements Pass D: determine the loser transactions
// (records in [start, end) with no commit record), then cursor from the
// end of the log back to start, invoking handlers only for records
// whose txnid is a loser.
func (e *Environment) passBackwardUndo(start logmgr.LSN) error {
	losers, err := e.findLosers(start)
	if err != nil {
		return err
	}
	if len(losers) == 0 {
		return nil
	}

	c, err := logmgr.NewCursor(e.cfg.LogDir)
	if err != nil {
		return err
	}
	defer c.Close()

	rec, lsn, err := c.Last()
	if err != nil {
		return err
	}
	ctx := &fop.RecoveryCtx{Store: e.store}
	for {
		if losers[rec.TxnID] {
			if err := e.dispatcher.DispatchWithFallback(rec, lsn, dispatch.ApplyBackwardRecover, ctx); err != nil {
				return err
			}
		}
		if lsn == start || !start.Less(lsn) {
			return nil
		}
		prev, prevLSN, perr := c.Prev()
		if perr != nil {
			return nil
		}
		rec, lsn = prev, prevLSN
	}
}

func (e *Environment) findLosers(start logmgr.LSN) (map[logmgr.TxnID]bool, error) {
	c, err := logmgr.NewCursor(e.cfg.LogDir)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	rec, _, err := c.Set(start)
	if err != nil {
		return nil, err
	}
	seen := map[logmgr.TxnID]bool{}
	committed := map[logmgr.TxnID]bool{}
	for {
		seen[rec.TxnID] = true
		if rec.RecType == txn.RecTxnCommit {
			committed[rec.TxnID] = true
		}
		next, _, nerr := c.Next()
		if nerr != nil {
			break
		}
		rec = next
	}

	losers := map[logmgr.TxnID]bool{}
	for id := range seen {
		if !committed[id] {
			losers[id] = true
		}
	}
	return losers, nil
}

// handleCheckpoint is a PRINT-only handler: checkpoint records carry no
// applicable redo/undo effect of their own, only Pass A bookkeeping.
func handleCheckpoint(body []byte, lsn logmgr.LSN, opcode dispatch.Opcode, ctx dispatch.Ctx) error {
	if opcode != dispatch.Print {
		return nil
	}
	rc, ok := ctx.(*fop.RecoveryCtx)
	if !ok || rc.Print == nil {
		return nil
	}
	cp, err := decodeCheckpointRecord(body)
	if err != nil {
		return err
	}
	_, perr := rc.Print.Out.Write([]byte(
		"[" + lsn.String() + "]\tcheckpoint\toldest_active=" + cp.OldestActiveTxnLSN.String() + "\n"))
	return perr
}

// handleTxnCommit is a PRINT-only handler: the commit record's only
// effect is on recovery's loser-transaction bookkeeping, already
// consumed directly by findLosers.
func handleTxnCommit(body []byte, lsn logmgr.LSN, opcode dispatch.Opcode, ctx dispatch.Ctx) error {
	if opcode != dispatch.Print {
		return nil
	}
	rc, ok := ctx.(*fop.RecoveryCtx)
	if !ok || rc.Print == nil {
		return nil
	}
	_, err := rc.Print.Out.Write([]byte("[" + lsn.String() + "]\tcommit\n"))
	return err
}

// handleTxnIDReset is a PRINT-only handler for the transaction-id reset
// marker (spec §4.5.1 step 6).
func handleTxnIDReset(body []byte, lsn logmgr.LSN, opcode dispatch.Opcode, ctx dispatch.Ctx) error {
	if opcode != dispatch.Print {
		return nil
	}
	rc, ok := ctx.(*fop.RecoveryCtx)
	if !ok || rc.Print == nil {
		return nil
	}
	_, err := rc.Print.Out.Write([]byte("[" + lsn.String() + "]\ttxnid-reset\n"))
	return err
}
