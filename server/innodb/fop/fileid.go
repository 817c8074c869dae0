package fop

import (
	"encoding/binary"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// FileID is the stable on-disk file identity carried through every FOP
// record (spec §3 "File Identity"). It is a UUIDv4 (from crypto/rand,
// via uuid.New) plus a 32-bit counter suffix seeded from the start-up
// clock, after the teacher pack's launix-de-memcp id pattern.
type FileID [20]byte

var fileIDCounter uint64 = uint64(time.Now().UnixNano())

// NewFileID mints a fresh, practically-unique file identity.
func NewFileID() FileID {
	id := uuid.New()
	ctr := atomic.AddUint64(&fileIDCounter, 1)
	var out FileID
	copy(out[0:16], id[:])
	binary.BigEndian.PutUint32(out[16:20], uint32(ctr))
	return out
}

func (id FileID) String() string {
	u, _ := uuid.FromBytes(id[0:16])
	return u.String()
}

func (id FileID) IsZero() bool {
	return id == FileID{}
}
