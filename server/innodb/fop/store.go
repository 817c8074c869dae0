package fop

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/kvenginehq/waldb/server/innodb/errs"
)

// FileStore is the storage backend FOP drives its eight record shapes
// through. Selecting diskStore vs memStore once at environment Open
// time (on the SYSTEM_MEM flag) keeps every handler free of runtime
// branching (spec §9 expansion, resolving the in-memory-database Open
// Question). Create assigns and returns the name's FileID; IDOf answers
// what identity is currently tracked under a name, which recovery's
// FOP_RENAME redo/undo uses to redo "by fid" (spec §4.4: a rename whose
// fid doesn't match the name it targets is a no-op, not a blind move).
type FileStore interface {
	Create(name string, mode uint32) (FileID, error)
	Remove(name string) error
	Rename(oldName, newName string) error
	WriteAt(name string, offset int64, data []byte) error
	Exists(name string) bool
	IDOf(name string) (FileID, bool)
	// Register backfills name's tracked identity from a log record that
	// named it (recovery Pass B, spec §4.5.2): every FOP_REMOVE,
	// FOP_RENAME, FOP_FILE_REMOVE and FOP_INMEM_* record carries a fid,
	// and the log is authoritative over whatever a sidecar index
	// survived the crash with. For a store with no physical backing for
	// the name, Register creates an in-memory stub so later passes have
	// something to resolve the fid against (spec §4.4).
	Register(name string, fid FileID) error
}

// diskStore is the on-disk FileStore: every call is a real filesystem
// operation rooted at dir. The name->FileID index lives in a sidecar
// file so a fresh diskStore opened after a crash (a new process, a new
// struct) still has it to check renames against; the whole index is
// rewritten on every mutation, which is simple but not itself
// crash-atomic the way the WAL is — an acceptable simplification given
// this store carries no log of its own for its own metadata (DESIGN.md).
type diskStore struct {
	dir string

	mu  sync.Mutex
	ids map[string]FileID
}

const fidIndexName = "__fids.idx"

func NewDiskStore(dir string) FileStore {
	s := &diskStore{dir: dir, ids: make(map[string]FileID)}
	s.loadIndex()
	return s
}

func (s *diskStore) indexPath() string { return filepath.Join(s.dir, fidIndexName) }

func (s *diskStore) loadIndex() {
	f, err := os.Open(s.indexPath())
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.SplitN(scanner.Text(), "\t", 2)
		if len(fields) != 2 {
			continue
		}
		raw, err := hex.DecodeString(fields[1])
		var fid FileID
		if err != nil || len(raw) != len(fid) {
			continue
		}
		copy(fid[:], raw)
		s.ids[fields[0]] = fid
	}
}

// saveIndex rewrites the sidecar index from the current in-memory map.
// Caller must hold s.mu.
func (s *diskStore) saveIndex() error {
	tmp := s.indexPath() + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return errs.Wrap(errs.IoError, err, "write fid index")
	}
	w := bufio.NewWriter(f)
	for name, fid := range s.ids {
		fmt.Fprintf(w, "%s\t%s\n", name, hex.EncodeToString(fid[:]))
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return errs.Wrap(errs.IoError, err, "flush fid index")
	}
	if err := f.Close(); err != nil {
		return errs.Wrap(errs.IoError, err, "close fid index")
	}
	if err := os.Rename(tmp, s.indexPath()); err != nil {
		return errs.Wrap(errs.IoError, err, "install fid index")
	}
	return nil
}

func (s *diskStore) path(name string) string {
	return filepath.Join(s.dir, name)
}

func (s *diskStore) Create(name string, mode uint32) (FileID, error) {
	f, err := os.OpenFile(s.path(name), os.O_CREATE|os.O_EXCL|os.O_RDWR, os.FileMode(mode))
	if err != nil {
		if os.IsExist(err) {
			return FileID{}, errs.Wrap(errs.InvalidArgument, err, "create file: already exists")
		}
		return FileID{}, errs.Wrap(errs.IoError, err, "create file")
	}
	if err := f.Close(); err != nil {
		return FileID{}, errs.Wrap(errs.IoError, err, "close file after create")
	}

	fid := NewFileID()
	s.mu.Lock()
	s.ids[name] = fid
	err = s.saveIndex()
	s.mu.Unlock()
	if err != nil {
		return FileID{}, err
	}
	return fid, nil
}

func (s *diskStore) Remove(name string) error {
	if err := os.Remove(s.path(name)); err != nil && !os.IsNotExist(err) {
		return errs.Wrap(errs.IoError, err, "remove file")
	}
	s.mu.Lock()
	delete(s.ids, name)
	err := s.saveIndex()
	s.mu.Unlock()
	return err
}

func (s *diskStore) Rename(oldName, newName string) error {
	if _, err := os.Stat(s.path(oldName)); os.IsNotExist(err) {
		return nil // spec §4.4: redo-by-fid is a no-op if the source is already gone
	}
	if err := os.Rename(s.path(oldName), s.path(newName)); err != nil {
		return errs.Wrap(errs.IoError, err, "rename file")
	}

	s.mu.Lock()
	if fid, ok := s.ids[oldName]; ok {
		delete(s.ids, oldName)
		s.ids[newName] = fid
	}
	err := s.saveIndex()
	s.mu.Unlock()
	return err
}

func (s *diskStore) WriteAt(name string, offset int64, data []byte) error {
	f, err := os.OpenFile(s.path(name), os.O_RDWR, 0640)
	if err != nil {
		return errs.Wrap(errs.IoError, err, "open file for write")
	}
	defer f.Close()
	if _, err := f.WriteAt(data, offset); err != nil {
		return errs.Wrap(errs.IoError, err, "write file")
	}
	return nil
}

func (s *diskStore) Exists(name string) bool {
	_, err := os.Stat(s.path(name))
	return err == nil
}

func (s *diskStore) IDOf(name string) (FileID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fid, ok := s.ids[name]
	return fid, ok
}

// Register backfills the index only; it never fabricates a physical
// file disk recovery has no business creating out of thin air.
func (s *diskStore) Register(name string, fid FileID) error {
	s.mu.Lock()
	s.ids[name] = fid
	err := s.saveIndex()
	s.mu.Unlock()
	return err
}

// memStore is the SYSTEM_MEM FileStore: an in-memory name→bytes map.
// No call ever touches the filesystem; recovery after a clean shutdown
// is a no-op because there is nothing durable to replay, and recovery
// after a crash tolerates a missing entry (ENOENT-equivalent) rather
// than treating it as corruption (spec §4.4 "in-memory database variants").
// Its FileID index lives only in memory too, which is correct: a crash
// loses it exactly as it loses the content it describes.
type memStore struct {
	mu      sync.Mutex
	content map[string][]byte
	ids     map[string]FileID
}

func NewMemStore() FileStore {
	return &memStore{content: make(map[string][]byte), ids: make(map[string]FileID)}
}

func (s *memStore) Create(name string, mode uint32) (FileID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.content[name]; ok {
		return FileID{}, errs.New(errs.InvalidArgument, "create file: already exists")
	}
	s.content[name] = nil
	fid := NewFileID()
	s.ids[name] = fid
	return fid, nil
}

func (s *memStore) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.content, name)
	delete(s.ids, name)
	return nil
}

func (s *memStore) Rename(oldName, newName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.content[oldName]
	if !ok {
		return nil
	}
	delete(s.content, oldName)
	s.content[newName] = data
	if fid, ok := s.ids[oldName]; ok {
		delete(s.ids, oldName)
		s.ids[newName] = fid
	}
	return nil
}

func (s *memStore) WriteAt(name string, offset int64, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf, ok := s.content[name]
	if !ok {
		buf = nil
	}
	end := offset + int64(len(data))
	if int64(len(buf)) < end {
		grown := make([]byte, end)
		copy(grown, buf)
		buf = grown
	}
	copy(buf[offset:], data)
	s.content[name] = buf
	return nil
}

func (s *memStore) Exists(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.content[name]
	return ok
}

func (s *memStore) IDOf(name string) (FileID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fid, ok := s.ids[name]
	return fid, ok
}

// Register backfills the fid and, if name has no content entry at all,
// creates an empty stub for it (spec §4.4 "creating an in-memory stub
// if the physical file is absent") so Pass C/D have something to redo
// or undo against.
func (s *memStore) Register(name string, fid FileID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.content[name]; !ok {
		s.content[name] = nil
	}
	s.ids[name] = fid
	return nil
}

// Contents exposes the current bytes stored under name, for tests.
func (s *memStore) Contents(name string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte{}, s.content[name]...)
}
