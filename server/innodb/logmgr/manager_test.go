package logmgr

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvenginehq/waldb/server/innodb/errs"
)

type fakeTxn struct {
	id   TxnID
	last LSN
}

func (f *fakeTxn) ID() TxnID          { return f.id }
func (f *fakeTxn) SetLastLSN(lsn LSN) { f.last = lsn }

func TestAppendAssignsMonotonicLSNs(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(dir, 4096, 1)
	require.NoError(t, err)

	txn := &fakeTxn{id: 1}
	lsn1, err := m.Append(txn, 100, ZeroLSN, []byte("hello"), 0)
	require.NoError(t, err)
	lsn2, err := m.Append(txn, 100, lsn1, []byte("world"), 0)
	require.NoError(t, err)

	assert.True(t, lsn1.Less(lsn2))
}

func TestAppendUpdatesTxnLastLSN(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(dir, 4096, 1)
	require.NoError(t, err)

	txn := &fakeTxn{id: 1}
	lsn, err := m.Append(txn, 100, ZeroLSN, []byte("x"), 0)
	require.NoError(t, err)
	assert.Equal(t, lsn, txn.last)
}

func TestAppendRejectsOversizeRecord(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(dir, 256, 1)
	require.NoError(t, err)

	txn := &fakeTxn{id: 1}
	_, err = m.Append(txn, 1, ZeroLSN, make([]byte, 4096), 0)
	require.Error(t, err)
}

func TestAppendRotatesSegmentWhenFull(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(dir, segmentHeaderSize+frameOverhead+recordHeaderSize+32, 1)
	require.NoError(t, err)

	txn := &fakeTxn{id: 1}
	lsn1, err := m.Append(txn, 1, ZeroLSN, make([]byte, 10), 0)
	require.NoError(t, err)
	lsn2, err := m.Append(txn, 1, lsn1, make([]byte, 10), 0)
	require.NoError(t, err)

	assert.NotEqual(t, lsn1.File, lsn2.File, "second append should land in a new segment")
}

func TestCursorWalksForwardAcrossSegments(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(dir, segmentHeaderSize+frameOverhead+recordHeaderSize+16, 1)
	require.NoError(t, err)

	txn := &fakeTxn{id: 1}
	var lsns []LSN
	prev := ZeroLSN
	for i := 0; i < 5; i++ {
		lsn, err := m.Append(txn, 1, prev, []byte("x"), 0)
		require.NoError(t, err)
		lsns = append(lsns, lsn)
		prev = lsn
	}

	cur, err := NewCursor(dir)
	require.NoError(t, err)
	defer cur.Close()

	rec, lsn, err := cur.First()
	require.NoError(t, err)
	assert.Equal(t, lsns[0], lsn)
	assert.Equal(t, ZeroLSN, rec.PrevLSN)

	count := 1
	for {
		_, _, err := cur.Next()
		if err != nil {
			break
		}
		count++
	}
	assert.Equal(t, len(lsns), count)
}

func TestCursorNextPastEndReturnsNotFound(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(dir, 4096, 1)
	require.NoError(t, err)
	txn := &fakeTxn{id: 1}
	_, err = m.Append(txn, 1, ZeroLSN, []byte("only"), 0)
	require.NoError(t, err)

	cur, err := NewCursor(dir)
	require.NoError(t, err)
	defer cur.Close()
	_, _, err = cur.First()
	require.NoError(t, err)

	_, _, err = cur.Next()
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.NotFound))
}

func TestTornTailStopsAtLastValidRecord(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(dir, 65536, 1)
	require.NoError(t, err)
	txn := &fakeTxn{id: 1}

	prev := ZeroLSN
	var last LSN
	for i := 0; i < 3; i++ {
		lsn, err := m.Append(txn, 1, prev, []byte("rec"), 0)
		require.NoError(t, err)
		prev, last = lsn, lsn
	}
	require.NoError(t, m.Flush(last))

	// append 16 bytes of garbage after the final valid record, spec §8 S5.
	f, err := os.OpenFile(segmentName(dir, 1), os.O_RDWR, 0640)
	require.NoError(t, err)
	fi, err := f.Stat()
	require.NoError(t, err)
	_, err = f.WriteAt(make([]byte, 16), fi.Size())
	require.NoError(t, err)
	require.NoError(t, f.Close())

	cur, err := NewCursor(dir)
	require.NoError(t, err)
	defer cur.Close()

	_, _, err = cur.First()
	require.NoError(t, err)
	count := 1
	for {
		_, _, err := cur.Next()
		if err != nil {
			break
		}
		count++
	}
	assert.Equal(t, 3, count)
}
