package logmgr

import (
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/kvenginehq/waldb/server/innodb/errs"
)

// fdatasync flushes f's data (and only the metadata needed to read it
// back, e.g. a grown file size) without the full unix.Fsync's extra
// inode-metadata round trip — the commit-path flush (spec §4.2
// "flush-before-commit") runs this on every durable append, so it's
// worth skipping metadata fsync doesn't need.
func fdatasync(f *os.File) error {
	return unix.Fdatasync(int(f.Fd()))
}

// AppendFlag mirrors spec §4.2's append flags.
type AppendFlag uint32

const (
	// Durable requires the log be fsync'd through the returned LSN
	// before Append returns (spec §4.2 "flush-before-commit").
	Durable AppendFlag = 1 << iota
)

// Manager is C2, the Log Manager.
type Manager struct {
	dir            string
	maxSegmentSize uint32
	cipherBlock    uint32

	mu  sync.Mutex
	cur *segment
}

// Open attaches to (or creates) the log under dir. maxSegmentSize
// bounds each segment file (spec §6, default "on the order of 10MB");
// cipherBlock is the cipher block size for padding, 1 meaning no
// encryption is configured.
func Open(dir string, maxSegmentSize uint32, cipherBlock uint32) (*Manager, error) {
	if maxSegmentSize <= segmentHeaderSize {
		return nil, errs.New(errs.InvalidArgument, "segment size too small")
	}
	if cipherBlock == 0 {
		cipherBlock = 1
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errs.Wrap(errs.IoError, err, "create log directory")
	}

	indices, err := listSegments(dir)
	if err != nil {
		return nil, err
	}

	m := &Manager{dir: dir, maxSegmentSize: maxSegmentSize, cipherBlock: cipherBlock}

	if len(indices) == 0 {
		seg, err := createSegment(dir, 1, maxSegmentSize, cipherBlock)
		if err != nil {
			return nil, err
		}
		m.cur = seg
		return m, nil
	}

	last := indices[len(indices)-1]
	seg, err := openSegment(dir, last)
	if err != nil {
		return nil, err
	}
	m.cur = seg
	return m, nil
}

// Refresh detaches from the in-region log state without destroying it
// (spec §4.2 "open ... and refresh").
func (m *Manager) Refresh() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur != nil {
		return m.cur.close()
	}
	return nil
}

func listSegments(dir string) ([]uint32, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errs.Wrap(errs.IoError, err, "list log directory")
	}
	var out []uint32
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), "log.") {
			continue
		}
		n, err := strconv.ParseUint(strings.TrimPrefix(e.Name(), "log."), 10, 32)
		if err != nil {
			continue
		}
		out = append(out, uint32(n))
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// frameOverhead is the fixed {length,checksum} header of one on-disk
// frame (spec §4.2 "Record framing").
const frameOverhead = 8

func alignUp(n, block uint32) uint32 {
	if block <= 1 {
		return n
	}
	rem := n % block
	if rem == 0 {
		return n
	}
	return n + (block - rem)
}

// TxnHandle is the minimal view Append needs of a transaction
// descriptor: the producing txn id, and where to record last_lsn on
// success (spec §3 "last_lsn is updated on every successful append").
type TxnHandle interface {
	ID() TxnID
	SetLastLSN(LSN)
}

// Append appends body prefixed with (rectype, txnid, prev_lsn), padded
// to cipher block alignment, and returns the assigned LSN (spec §4.2).
func (m *Manager) Append(txn TxnHandle, rt RecType, prev LSN, body []byte, flags AppendFlag) (LSN, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	logical := append(encodeRecordHeader(rt, txn.ID(), prev), body...)
	if frameOverhead+uint32(len(logical)) > m.maxSegmentSize-segmentHeaderSize {
		return LSN{}, errs.New(errs.InvalidArgument, "record exceeds configured segment max size")
	}

	padded := alignUp(frameOverhead+uint32(len(logical)), m.cipherBlock)
	if m.cur.size+padded > m.maxSegmentSize {
		if err := m.rotate(); err != nil {
			return LSN{}, err
		}
	}

	lsn := LSN{File: m.cur.index, Offset: m.cur.size}
	frame := make([]byte, padded)
	writeUint32(frame[0:4], uint32(len(logical)))
	writeUint32(frame[4:8], checksum32(logical))
	copy(frame[frameOverhead:], logical)

	if _, err := m.cur.file.WriteAt(frame, int64(lsn.Offset)); err != nil {
		return LSN{}, errs.Wrap(errs.IoError, err, "log append")
	}
	m.cur.size += padded

	if flags&Durable != 0 {
		if err := fdatasync(m.cur.file); err != nil {
			return LSN{}, errs.Wrap(errs.IoError, err, "log flush")
		}
	}

	txn.SetLastLSN(lsn)
	return lsn, nil
}

func (m *Manager) rotate() error {
	// A full unix.Fsync, not fdatasync: the segment is being finalized
	// and closed, so its inode metadata should be durable too, not just
	// the bytes a subsequent read needs.
	if err := unix.Fsync(int(m.cur.file.Fd())); err != nil {
		return errs.Wrap(errs.IoError, err, "fsync log segment before rotation")
	}
	if err := m.cur.close(); err != nil {
		return errs.Wrap(errs.IoError, err, "close log segment before rotation")
	}
	next, err := createSegment(m.dir, m.cur.index+1, m.maxSegmentSize, m.cipherBlock)
	if err != nil {
		return err
	}
	m.cur = next
	return nil
}

// Flush forces durability at least through lsnHint (spec §4.2 "flush").
func (m *Manager) Flush(lsnHint LSN) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if lsnHint.File != m.cur.index {
		// an older, already-rotated segment: it was fsync'd at rotation time.
		if lsnHint.File < m.cur.index {
			return nil
		}
		return errs.New(errs.NotFound, "flush lsn refers to a segment that does not exist yet")
	}
	if err := fdatasync(m.cur.file); err != nil {
		return errs.Wrap(errs.IoError, err, "fsync log segment")
	}
	return nil
}

// CurrentLSN returns the LSN that the next Append would be assigned.
func (m *Manager) CurrentLSN() LSN {
	m.mu.Lock()
	defer m.mu.Unlock()
	return LSN{File: m.cur.index, Offset: m.cur.size}
}

func writeUint32(dst []byte, v uint32) {
	dst[0] = byte(v >> 24)
	dst[1] = byte(v >> 16)
	dst[2] = byte(v >> 8)
	dst[3] = byte(v)
}
