// Package logmgr implements C2, the Log Manager (spec §4.2): an
// append-only framed log with forward/backward cursors, segment
// rotation, flush-before-commit durability, and optional encryption
// padding to cipher-block alignment.
package logmgr

import "fmt"

// LSN identifies a byte position in the logical log as (file, offset),
// totally ordered lexicographically (spec §3).
type LSN struct {
	File   uint32
	Offset uint32
}

// ZeroLSN marks "never written".
var ZeroLSN = LSN{0, 0}

// Less reports whether lsn sorts strictly before other.
func (lsn LSN) Less(other LSN) bool {
	if lsn.File != other.File {
		return lsn.File < other.File
	}
	return lsn.Offset < other.Offset
}

// LessOrEqual reports lsn <= other.
func (lsn LSN) LessOrEqual(other LSN) bool {
	return lsn == other || lsn.Less(other)
}

func (lsn LSN) IsZero() bool { return lsn == ZeroLSN }

func (lsn LSN) String() string {
	return fmt.Sprintf("(%d,%d)", lsn.File, lsn.Offset)
}

// InitLSN returns the LSN of the first record in a freshly created
// segment 1, i.e. immediately after the segment header (spec §3).
func InitLSN() LSN {
	return LSN{File: 1, Offset: segmentHeaderSize}
}
