// Package region implements C1, the Region & Mutex Substrate (spec §4.1):
// attach/detach of a shared memory region backed by a file under home,
// mutex allocation out of that region, and the init-flag fingerprint
// that makes a joiner's request either compatible or rejected.
//
// A region is modeled as a single Go process's view of shared state: the
// backing file on disk is real (so a second process attaching would see
// the same fingerprint), but the mutex table itself lives in this
// process's memory, the way the teacher's server/innodb/latch.Latch
// wraps a plain sync.RWMutex rather than a cross-process futex. True
// cross-process mutexes would need a shared-memory semaphore primitive
// this corpus does not carry; see DESIGN.md.
package region

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/kvenginehq/waldb/server/innodb/errs"
)

// InitFlag is the subset of open_flags that fingerprints a region at
// creation time (spec §4.1 "Init-flag fingerprint").
type InitFlag uint32

const (
	InitCDB InitFlag = 1 << iota
	InitCDBAllDB
	InitLock
	InitLog
	InitMpool
	InitRep
	InitTxn
)

const (
	regionMagic      = 0x44425247 // "DBRG"
	regionHeaderSize = 16         // magic, flags, generation, then one reserved word written as zero — each uint32
)

// Region is one environment's attach handle on shared backing state.
type Region struct {
	home     string
	path     string
	file     *os.File
	creator  bool
	private  bool
	joiners  int32
	initFlag InitFlag

	mu         sync.Mutex
	mutexFree  []bool // true = free
	mutexLocks []*sync.RWMutex
}

// Attach opens (creating if necessary) the region backing file
// __db.001 under home, and returns the effective init-flag fingerprint
// recorded by the creator. A joiner whose requested flags are not a
// subset of (or compatible with) that fingerprint is rejected with
// InvalidArgument, never mutating the region (spec §8 boundary: "returns
// InvalidArgument without mutating anything").
func Attach(home string, requested InitFlag, private bool) (*Region, InitFlag, error) {
	path := filepath.Join(home, "__db.001")

	// Peek at an existing header without creating the file, so a
	// mismatched joiner never creates region state it shouldn't own.
	if existing, err := readHeaderIfExists(path); err != nil {
		return nil, 0, err
	} else if existing != nil {
		if !compatible(existing.flags, requested) {
			return nil, 0, errs.New(errs.InvalidArgument, "region init flags incompatible with existing region")
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, 0, errs.Wrap(errs.IoError, err, "open region backing file")
	}

	creator := false
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err == nil {
		// First to get the exclusive lock creates, then downgrades.
		if err := initOrLoadHeader(f, requested); err != nil {
			f.Close()
			return nil, 0, err
		}
		creator = true
		if err := unix.Flock(int(f.Fd()), unix.LOCK_SH); err != nil {
			f.Close()
			return nil, 0, errs.Wrap(errs.IoError, err, "downgrade region lock")
		}
	} else {
		if err := unix.Flock(int(f.Fd()), unix.LOCK_SH); err != nil {
			f.Close()
			return nil, 0, errs.Wrap(errs.IoError, err, "acquire shared region lock")
		}
	}

	hdr, err := readHeader(f)
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	if !compatible(hdr.flags, requested) {
		f.Close()
		return nil, 0, errs.New(errs.InvalidArgument, "region init flags incompatible with existing region")
	}

	r := &Region{
		home:       home,
		path:       path,
		file:       f,
		creator:    creator,
		private:    private,
		joiners:    1,
		initFlag:   hdr.flags,
		mutexFree:  make([]bool, 0, 64),
		mutexLocks: make([]*sync.RWMutex, 0, 64),
	}
	return r, hdr.flags, nil
}

// Detach decrements this handle's joiner count and closes its backing
// file (spec §4.1 "detach"). Private and shared regions are treated
// alike: the backing file stays on disk and nothing else is freed;
// Remove is what deletes it.
func (r *Region) Detach() error {
	if atomic.AddInt32(&r.joiners, -1) <= 0 && r.private {
		return r.file.Close()
	}
	return r.file.Close()
}

// Remove deletes the region's on-disk backing file. Called by the
// environment driver as the only recovery from a partially initialized
// region (spec §4.1 "Failure").
func Remove(home string) error {
	path := filepath.Join(home, "__db.001")
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errs.Wrap(errs.IoError, err, "remove region backing file")
	}
	return nil
}

func (r *Region) IsCreator() bool { return r.creator }

func (r *Region) InitFlags() InitFlag { return r.initFlag }

type header struct {
	flags      InitFlag
	generation uint32
}

func readHeaderIfExists(path string) (*header, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errs.Wrap(errs.IoError, err, "stat region backing file")
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return nil, errs.Wrap(errs.IoError, err, "stat region backing file")
	}
	if fi.Size() < regionHeaderSize {
		return nil, nil
	}
	h, err := readHeader(f)
	if err != nil {
		return nil, err
	}
	return h, nil
}

func readHeader(f *os.File) (*header, error) {
	buf := make([]byte, regionHeaderSize)
	if _, err := f.ReadAt(buf, 0); err != nil {
		return nil, errs.Wrap(errs.Corruption, err, "read region header")
	}
	magic := binary.BigEndian.Uint32(buf[0:4])
	if magic != regionMagic {
		return nil, errs.New(errs.Corruption, "region header magic mismatch")
	}
	return &header{
		flags:      InitFlag(binary.BigEndian.Uint32(buf[4:8])),
		generation: binary.BigEndian.Uint32(buf[8:12]),
	}, nil
}

func initOrLoadHeader(f *os.File, requested InitFlag) error {
	fi, err := f.Stat()
	if err != nil {
		return errs.Wrap(errs.IoError, err, "stat region backing file")
	}
	if fi.Size() >= regionHeaderSize {
		return nil // an earlier creator's header is already present
	}
	buf := make([]byte, regionHeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], regionMagic)
	binary.BigEndian.PutUint32(buf[4:8], uint32(requested))
	binary.BigEndian.PutUint32(buf[8:12], 1)
	if _, err := f.WriteAt(buf, 0); err != nil {
		return errs.Wrap(errs.IoError, err, "write region header")
	}
	return nil
}

// compatible implements the fingerprint check: a joiner that passes no
// subsystem flags inherits the creator's; a joiner that passes a
// conflicting flag is rejected (spec §4.1).
func compatible(existing, requested InitFlag) bool {
	if requested == 0 {
		return true
	}
	const subsystemMask = InitCDB | InitCDBAllDB | InitLock | InitLog | InitMpool | InitRep | InitTxn
	return requested&subsystemMask&^existing == 0
}
