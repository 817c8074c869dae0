package env

import (
	"encoding/binary"

	"github.com/kvenginehq/waldb/server/innodb/errs"
	"github.com/kvenginehq/waldb/server/innodb/logmgr"
)

// RecCheckpoint carries the checkpoint record's oldest-active-transaction
// LSN bookkeeping, supplemented from the original implementation's
// checkpoint-LSN tracking (spec §9 expansion: the distilled spec names
// checkpoints in the glossary without specifying their contents).
const RecCheckpoint logmgr.RecType = 51

// RecTxnIDReset marks a freshly created region's transaction-id
// sequence as reset to force monotonic ids afterward (spec §4.5.1 step 6).
const RecTxnIDReset logmgr.RecType = 52

// CheckpointRecord is the Go representation of a checkpoint log record.
type CheckpointRecord struct {
	CheckpointLSN     logmgr.LSN
	OldestActiveTxnLSN logmgr.LSN
}

func (c CheckpointRecord) encode() []byte {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint32(buf[0:4], c.CheckpointLSN.File)
	binary.BigEndian.PutUint32(buf[4:8], c.CheckpointLSN.Offset)
	binary.BigEndian.PutUint32(buf[8:12], c.OldestActiveTxnLSN.File)
	binary.BigEndian.PutUint32(buf[12:16], c.OldestActiveTxnLSN.Offset)
	return buf
}

func decodeCheckpointRecord(buf []byte) (CheckpointRecord, error) {
	if len(buf) < 16 {
		return CheckpointRecord{}, errs.New(errs.Corruption, "truncated checkpoint record")
	}
	return CheckpointRecord{
		CheckpointLSN: logmgr.LSN{
			File:   binary.BigEndian.Uint32(buf[0:4]),
			Offset: binary.BigEndian.Uint32(buf[4:8]),
		},
		OldestActiveTxnLSN: logmgr.LSN{
			File:   binary.BigEndian.Uint32(buf[8:12]),
			Offset: binary.BigEndian.Uint32(buf[12:16]),
		},
	}, nil
}

// Checkpoint writes a checkpoint record reflecting the oldest still-
// active transaction's last LSN, so recovery Pass A can start scanning
// from there instead of the beginning of the log.
func (e *Environment) Checkpoint() (logmgr.LSN, error) {
	oldest := e.oldestActiveLSN()
	cur := e.log.CurrentLSN()
	rec := CheckpointRecord{CheckpointLSN: cur, OldestActiveTxnLSN: oldest}

	sys := &systemTxn{id: 0}
	lsn, err := e.log.Append(sys, RecCheckpoint, logmgr.ZeroLSN, rec.encode(), logmgr.Durable)
	if err != nil {
		return logmgr.LSN{}, err
	}
	return lsn, nil
}

func (e *Environment) oldestActiveLSN() logmgr.LSN {
	if e.txnMgr == nil {
		return logmgr.ZeroLSN
	}
	var oldest logmgr.LSN
	found := false
	for _, id := range e.txnMgr.ActiveIDs() {
		t := e.txnMgr.Get(id)
		if t == nil {
			continue
		}
		lsn := t.LastLSN()
		if !found || lsn.Less(oldest) {
			oldest, found = lsn, true
		}
	}
	if !found {
		return e.log.CurrentLSN()
	}
	return oldest
}

// systemTxn is a minimal logmgr.TxnHandle for records the environment
// itself appends outside of any user transaction (checkpoints, the
// transaction-id reset marker).
type systemTxn struct {
	id   logmgr.TxnID
	last logmgr.LSN
}

func (s *systemTxn) ID() logmgr.TxnID          { return s.id }
func (s *systemTxn) SetLastLSN(lsn logmgr.LSN) { s.last = lsn }
