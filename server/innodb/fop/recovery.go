package fop

import (
	"fmt"

	"github.com/kvenginehq/waldb/server/innodb/dispatch"
	"github.com/kvenginehq/waldb/server/innodb/logmgr"
)

// RecoveryCtx is the dispatch.Ctx every FOP handler expects: the
// FileStore recovery should apply redo/undo against, plus a print sink
// for the PRINT opcode (spec §4.3 "PRINT: decode into a human-readable
// text record").
type RecoveryCtx struct {
	Store FileStore
	Print *dispatch.PrintSink
}

func (rc *RecoveryCtx) printf(format string, args ...interface{}) error {
	if rc.Print == nil || rc.Print.Out == nil {
		return nil
	}
	_, err := fmt.Fprintf(rc.Print.Out, format, args...)
	return err
}

// RegisterHandlers binds all eight FOP record shapes into d, grounded
// on the teacher's dispatch-table idea generalized from server/innodb/
// manager's ad-hoc redo paths into one handler per rectype.
func RegisterHandlers(d *dispatch.Dispatcher) {
	d.Register(RecCreate, handleCreate)
	d.Register(RecRemove, handleRemove)
	d.Register(RecWrite, handleWrite)
	d.Register(RecRename, handleRename)
	d.Register(RecFileRemove, handleFileRemove)
	d.Register(RecInmemCreate, handleInmemCreate)
	d.Register(RecInmemRemove, handleInmemRemove)
	d.Register(RecInmemRename, handleInmemRename)
}

// fidMatches reports whether the name currently tracked under name
// carries want as its identity (spec §4.4 "redo by fid"). A store that
// has lost track of the name (e.g. Pass B never saw it, or the name was
// never created by this journal) makes the step a no-op, not an error.
func fidMatches(rc *RecoveryCtx, name string, want FileID) bool {
	got, ok := rc.Store.IDOf(name)
	return ok && got == want
}

func handleCreate(body []byte, lsn logmgr.LSN, opcode dispatch.Opcode, ctx dispatch.Ctx) error {
	b, err := decodeCreateBody(body)
	if err != nil {
		return err
	}
	rc, _ := ctx.(*RecoveryCtx)
	switch opcode {
	case dispatch.ApplyForwardNormal:
		if rc != nil && !rc.Store.Exists(b.Name) {
			_, err := rc.Store.Create(b.Name, b.Mode)
			return err
		}
		return nil
	case dispatch.ApplyBackwardRollback, dispatch.ApplyBackwardRecover:
		if rc != nil {
			return rc.Store.Remove(b.Name)
		}
		return nil
	case dispatch.Print:
		if rc != nil {
			return rc.printf("[%s]\tFOP_CREATE\tname=%q category=%d mode=%o\n", lsn, b.Name, b.Category, b.Mode)
		}
		return nil
	default:
		// FOP_CREATE carries no fid of its own (the store mints one at
		// creation time), so Pass B has no identity to register here;
		// Pass C's redo above is what brings the name into existence.
		return nil
	}
}

func handleRemove(body []byte, lsn logmgr.LSN, opcode dispatch.Opcode, ctx dispatch.Ctx) error {
	b, err := decodeRemoveBody(body)
	if err != nil {
		return err
	}
	rc, _ := ctx.(*RecoveryCtx)
	switch opcode {
	case dispatch.ApplyForwardOpenFiles:
		if rc != nil {
			return rc.Store.Register(b.Name, b.FileID)
		}
		return nil
	case dispatch.ApplyForwardNormal:
		if rc != nil {
			return rc.Store.Remove(b.Name)
		}
		return nil
	case dispatch.Print:
		if rc != nil {
			return rc.printf("[%s]\tFOP_REMOVE\tname=%q fid=%s\n", lsn, b.Name, b.FileID)
		}
		return nil
	default:
		// undo of a bare remove cannot recreate content; spec names no
		// undo obligation for FOP_REMOVE beyond the rename-and-delete
		// protocol's own records (FOP_RENAME/FOP_FILE_REMOVE).
		return nil
	}
}

func handleWrite(body []byte, lsn logmgr.LSN, opcode dispatch.Opcode, ctx dispatch.Ctx) error {
	b, err := decodeWriteBody(body)
	if err != nil {
		return err
	}
	rc, _ := ctx.(*RecoveryCtx)
	switch opcode {
	case dispatch.ApplyForwardNormal:
		// Redo checks the page's current LSN against the record LSN in
		// the full page-cache-backed design (spec §4.4); this journal's
		// FileStore has no page-LSN stamp to compare against, so redo
		// reapplies unconditionally, which is safe because the write is
		// byte-for-byte idempotent.
		if rc != nil {
			return rc.Store.WriteAt(b.Name, int64(b.Offset), b.Page)
		}
		return nil
	case dispatch.ApplyBackwardRollback, dispatch.ApplyBackwardRecover:
		// Undo is a no-op here: rolling back a page write past its
		// creation point is explicitly excluded for metadata pages
		// (spec §4.4), and this store has no prior-image to restore to.
		return nil
	case dispatch.Print:
		if rc != nil {
			return rc.printf("[%s]\tFOP_WRITE\tname=%q offset=%d bytes=%d\n", lsn, b.Name, b.Offset, len(b.Page))
		}
		return nil
	default:
		// FOP_WRITE names no fid either; nothing for Pass B to register.
		return nil
	}
}

func handleRename(body []byte, lsn logmgr.LSN, opcode dispatch.Opcode, ctx dispatch.Ctx) error {
	b, err := decodeRenameBody(body)
	if err != nil {
		return err
	}
	rc, _ := ctx.(*RecoveryCtx)
	switch opcode {
	case dispatch.ApplyForwardOpenFiles:
		// Register under the old name: that is what a pre-rename name
		// in the log actually identifies until this record's redo runs.
		if rc != nil {
			return rc.Store.Register(b.OldName, b.FileID)
		}
		return nil
	case dispatch.ApplyForwardNormal:
		// Redo by fid: a missing old name, or one whose tracked identity
		// no longer matches this record's fid, is a no-op, not an error
		// (spec §4.4 "the record may apply to a file that was already
		// re-created").
		if rc != nil && fidMatches(rc, b.OldName, b.FileID) {
			if err := rc.Store.Rename(b.OldName, b.NewName); err != nil {
				return err
			}
			return rc.Store.Register(b.NewName, b.FileID)
		}
		return nil
	case dispatch.ApplyBackwardRollback, dispatch.ApplyBackwardRecover:
		if rc != nil && fidMatches(rc, b.NewName, b.FileID) {
			if err := rc.Store.Rename(b.NewName, b.OldName); err != nil {
				return err
			}
			return rc.Store.Register(b.OldName, b.FileID)
		}
		return nil
	case dispatch.Print:
		if rc != nil {
			return rc.printf("[%s]\tFOP_RENAME\told=%q new=%q fid=%s\n", lsn, b.OldName, b.NewName, b.FileID)
		}
		return nil
	default:
		return nil
	}
}

func handleFileRemove(body []byte, lsn logmgr.LSN, opcode dispatch.Opcode, ctx dispatch.Ctx) error {
	b, err := decodeFileRemoveBody(body)
	if err != nil {
		return err
	}
	rc, _ := ctx.(*RecoveryCtx)
	switch opcode {
	case dispatch.ApplyForwardOpenFiles:
		if rc != nil {
			return rc.Store.Register(b.Name, b.TmpFileID)
		}
		return nil
	case dispatch.ApplyForwardNormal:
		// The committing transaction's at-commit unlink already ran in
		// the original process; on replay this is simply idempotent.
		if rc != nil {
			return rc.Store.Remove(b.Name)
		}
		return nil
	case dispatch.Print:
		if rc != nil {
			return rc.printf("[%s]\tFOP_FILE_REMOVE\tname=%q realfid=%s tmpfid=%s childtxn=%d\n",
				lsn, b.Name, b.RealFileID, b.TmpFileID, b.ChildTxn)
		}
		return nil
	default:
		return nil
	}
}

func handleInmemCreate(body []byte, lsn logmgr.LSN, opcode dispatch.Opcode, ctx dispatch.Ctx) error {
	b, err := decodeInmemCreateBody(body)
	if err != nil {
		return err
	}
	rc, _ := ctx.(*RecoveryCtx)
	switch opcode {
	case dispatch.ApplyForwardOpenFiles:
		if rc != nil {
			return rc.Store.Register(b.Name, b.FileID)
		}
		return nil
	case dispatch.ApplyForwardNormal:
		// A clean shutdown's in-memory state is already gone; recreating
		// a placeholder after a crash is ENOENT-tolerant (spec §4.4).
		if rc != nil && !rc.Store.Exists(b.Name) {
			if _, err := rc.Store.Create(b.Name, 0); err != nil {
				return err
			}
			return rc.Store.Register(b.Name, b.FileID)
		}
		return nil
	case dispatch.Print:
		if rc != nil {
			return rc.printf("[%s]\tFOP_INMEM_CREATE\tname=%q fid=%s pagesize=%d\n", lsn, b.Name, b.FileID, b.PageSize)
		}
		return nil
	default:
		return nil
	}
}

func handleInmemRemove(body []byte, lsn logmgr.LSN, opcode dispatch.Opcode, ctx dispatch.Ctx) error {
	b, err := decodeInmemRemoveBody(body)
	if err != nil {
		return err
	}
	rc, _ := ctx.(*RecoveryCtx)
	switch opcode {
	case dispatch.ApplyForwardOpenFiles:
		if rc != nil {
			return rc.Store.Register(b.Name, b.FileID)
		}
		return nil
	case dispatch.ApplyForwardNormal:
		if rc != nil {
			return rc.Store.Remove(b.Name)
		}
		return nil
	case dispatch.Print:
		if rc != nil {
			return rc.printf("[%s]\tFOP_INMEM_REMOVE\tname=%q fid=%s\n", lsn, b.Name, b.FileID)
		}
		return nil
	default:
		return nil
	}
}

func handleInmemRename(body []byte, lsn logmgr.LSN, opcode dispatch.Opcode, ctx dispatch.Ctx) error {
	b, err := decodeInmemRenameBody(body)
	if err != nil {
		return err
	}
	rc, _ := ctx.(*RecoveryCtx)
	switch opcode {
	case dispatch.ApplyForwardOpenFiles:
		if rc != nil {
			return rc.Store.Register(b.OldName, b.FileID)
		}
		return nil
	case dispatch.ApplyForwardNormal:
		if rc != nil && fidMatches(rc, b.OldName, b.FileID) {
			if err := rc.Store.Rename(b.OldName, b.NewName); err != nil {
				return err
			}
			return rc.Store.Register(b.NewName, b.FileID)
		}
		return nil
	case dispatch.ApplyBackwardRollback, dispatch.ApplyBackwardRecover:
		if rc != nil && fidMatches(rc, b.NewName, b.FileID) {
			if err := rc.Store.Rename(b.NewName, b.OldName); err != nil {
				return err
			}
			return rc.Store.Register(b.OldName, b.FileID)
		}
		return nil
	case dispatch.Print:
		if rc != nil {
			return rc.printf("[%s]\tFOP_INMEM_RENAME\told=%q new=%q fid=%s\n", lsn, b.OldName, b.NewName, b.FileID)
		}
		return nil
	default:
		return nil
	}
}
