// Package fop implements C4, the File-Operation Journal (spec §4.4):
// durable, WAL-ordered create/remove/rename/write of named files,
// grounded on the teacher's manager.TransactionManager/LockManager for
// the handle-lock-across-the-sequence invariant, generalized to the
// eight FOP record shapes this spec names.
package fop

import (
	"fmt"
	"sync"

	"github.com/kvenginehq/waldb/server/innodb/errs"
	"github.com/kvenginehq/waldb/server/innodb/logmgr"
	"github.com/kvenginehq/waldb/server/innodb/region"
	"github.com/kvenginehq/waldb/server/innodb/txn"
)

// Journal is the File-Operation Journal: one per environment, wired to
// the log manager for durability and the region for handle locks.
type Journal struct {
	log   *logmgr.Manager
	store FileStore
	rgn   *region.Region

	mu       sync.Mutex
	handles  map[string]region.MutexID
	fileIDs  map[string]FileID
}

// New builds a Journal over store, appending records through log and
// taking handle locks from rgn.
func New(log *logmgr.Manager, store FileStore, rgn *region.Region) *Journal {
	return &Journal{
		log:     log,
		store:   store,
		rgn:     rgn,
		handles: make(map[string]region.MutexID),
		fileIDs: make(map[string]FileID),
	}
}

// withHandleLock holds the handle lock on name across fn, satisfying
// spec §4.4 "every namespace-changing operation holds a handle lock on
// the name, across the entire sequence, such that no second transaction
// can see a half-finished state."
func (j *Journal) withHandleLock(name string, fn func() error) error {
	j.mu.Lock()
	id, ok := j.handles[name]
	if !ok {
		id = j.rgn.Alloc(region.MutexSelfBlock)
		j.handles[name] = id
	}
	j.mu.Unlock()

	j.rgn.Lock(id)
	defer j.rgn.Unlock(id)
	return fn()
}

func (j *Journal) append(t *txn.Txn, rt logmgr.RecType, body []byte) (logmgr.LSN, error) {
	return j.log.Append(t, rt, t.LastLSN(), body, 0)
}

// Create logs and performs FOP_CREATE: a fresh file under name, in the
// given app-path category.
func (j *Journal) Create(t *txn.Txn, name string, category AppPathCategory, mode uint32) (FileID, error) {
	var fid FileID
	err := j.withHandleLock(name, func() error {
		j.mu.Lock()
		_, exists := j.fileIDs[name]
		j.mu.Unlock()
		if exists || j.store.Exists(name) {
			return errs.New(errs.InvalidArgument, fmt.Sprintf("create: %q already exists", name))
		}

		body := CreateBody{Name: name, Category: category, Mode: mode}
		if _, err := j.append(t, RecCreate, body.encode()); err != nil {
			return err
		}
		created, err := j.store.Create(name, mode)
		if err != nil {
			return err
		}
		fid = created

		j.mu.Lock()
		j.fileIDs[name] = fid
		j.mu.Unlock()

		t.AtAbort(func() error {
			j.mu.Lock()
			delete(j.fileIDs, name)
			j.mu.Unlock()
			return j.store.Remove(name)
		})
		return nil
	})
	return fid, err
}

// Write logs and performs FOP_WRITE: page bytes at offset in name.
func (j *Journal) Write(t *txn.Txn, name string, category AppPathCategory, offset int64, page []byte, flag uint32) error {
	return j.withHandleLock(name, func() error {
		body := WriteBody{Name: name, Category: category, Offset: uint64(offset), Page: page, Flag: flag}
		if _, err := j.append(t, RecWrite, body.encode()); err != nil {
			return err
		}
		return j.store.WriteAt(name, offset, page)
	})
}

// Remove performs FOP_REMOVE's rename-and-delete protocol (spec §4.4):
// rename the file out of the namespace immediately (so a concurrent
// Create can reuse the name once this transaction resolves), logging
// the step via FOP_RENAME and FOP_FILE_REMOVE; schedule the actual
// unlink to run only if t commits, and schedule the rename to be
// undone if t aborts.
func (j *Journal) Remove(t *txn.Txn, name string, category AppPathCategory) error {
	return j.withHandleLock(name, func() error {
		j.mu.Lock()
		fid, ok := j.fileIDs[name]
		j.mu.Unlock()
		if !ok {
			return errs.New(errs.NotFound, fmt.Sprintf("remove: %q is not tracked by this journal", name))
		}

		tmpName := tempNameFor(fid)

		renameBody := RenameBody{OldName: name, NewName: tmpName, FileID: fid, Category: category}
		if _, err := j.append(t, RecRename, renameBody.encode()); err != nil {
			return err
		}
		if err := j.store.Rename(name, tmpName); err != nil {
			return err
		}

		removeBody := FileRemoveBody{RealFileID: fid, TmpFileID: fid, Name: tmpName, Category: category, ChildTxn: t.ID()}
		if _, err := j.append(t, RecFileRemove, removeBody.encode()); err != nil {
			return err
		}

		j.mu.Lock()
		delete(j.fileIDs, name)
		j.mu.Unlock()

		t.AtCommit(func() error {
			return j.store.Remove(tmpName)
		})
		t.AtAbort(func() error {
			if err := j.store.Rename(tmpName, name); err != nil {
				return err
			}
			j.mu.Lock()
			j.fileIDs[name] = fid
			j.mu.Unlock()
			return nil
		})
		return nil
	})
}

// Rename performs FOP_RENAME directly (outside the remove protocol):
// move a tracked name to a new one.
func (j *Journal) Rename(t *txn.Txn, oldName, newName string, category AppPathCategory) error {
	return j.withHandleLock(oldName, func() error {
		j.mu.Lock()
		fid, ok := j.fileIDs[oldName]
		j.mu.Unlock()
		if !ok {
			return errs.New(errs.NotFound, fmt.Sprintf("rename: %q is not tracked by this journal", oldName))
		}

		body := RenameBody{OldName: oldName, NewName: newName, FileID: fid, Category: category}
		if _, err := j.append(t, RecRename, body.encode()); err != nil {
			return err
		}
		if err := j.store.Rename(oldName, newName); err != nil {
			return err
		}

		j.mu.Lock()
		delete(j.fileIDs, oldName)
		j.fileIDs[newName] = fid
		j.mu.Unlock()

		t.AtAbort(func() error {
			j.mu.Lock()
			delete(j.fileIDs, newName)
			j.fileIDs[oldName] = fid
			j.mu.Unlock()
			return j.store.Rename(newName, oldName)
		})
		return nil
	})
}

// FileID returns the tracked identity for name, if the journal created
// or renamed it into existence.
func (j *Journal) FileID(name string) (FileID, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	fid, ok := j.fileIDs[name]
	return fid, ok
}

func tempNameFor(fid FileID) string {
	return "__removed." + fid.String()
}
