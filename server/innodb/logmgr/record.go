package logmgr

import (
	"encoding/binary"

	"github.com/OneOfOne/xxhash"

	"github.com/kvenginehq/waldb/server/innodb/errs"
)

// RecType identifies a record's shape to the dispatcher (spec §3).
// Values below BuiltinRecTypeCeiling are reserved for the engine; at or
// above it, records are application-specific (spec §6).
type RecType uint32

const BuiltinRecTypeCeiling RecType = 10000

// TxnID identifies the transaction that produced a record.
type TxnID uint64

// recordHeaderSize is rectype(4) + txnid(8) + prev_lsn(8).
const recordHeaderSize = 4 + 8 + 8

// Record is a decoded log record: the framing fields plus the
// rectype-specific body (spec §3 "Log Record").
type Record struct {
	RecType RecType
	TxnID   TxnID
	PrevLSN LSN
	Body    []byte
}

func encodeRecordHeader(rt RecType, txnID TxnID, prev LSN) []byte {
	buf := make([]byte, recordHeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], uint32(rt))
	binary.BigEndian.PutUint64(buf[4:12], uint64(txnID))
	binary.BigEndian.PutUint32(buf[12:16], prev.File)
	binary.BigEndian.PutUint32(buf[16:20], prev.Offset)
	return buf
}

func decodeRecord(logical []byte) (Record, error) {
	if len(logical) < recordHeaderSize {
		return Record{}, errs.New(errs.Corruption, "record shorter than header")
	}
	rt := RecType(binary.BigEndian.Uint32(logical[0:4]))
	txnID := TxnID(binary.BigEndian.Uint64(logical[4:12]))
	prev := LSN{
		File:   binary.BigEndian.Uint32(logical[12:16]),
		Offset: binary.BigEndian.Uint32(logical[16:20]),
	}
	body := logical[recordHeaderSize:]
	return Record{RecType: rt, TxnID: txnID, PrevLSN: prev, Body: body}, nil
}

// checksum32 matches the teacher's own go.mod dependency on xxhash,
// used here for the checksum field of spec §4.2's record framing.
func checksum32(data []byte) uint32 {
	return xxhash.Checksum32(data)
}
