package txn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvenginehq/waldb/server/conf"
	"github.com/kvenginehq/waldb/server/innodb/logmgr"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	log, err := logmgr.Open(t.TempDir(), 4096, 1)
	require.NoError(t, err)
	return NewManager(log, NewLockManager(conf.LockDetectDefault))
}

func newTestManagerWithDir(t *testing.T) (*Manager, string) {
	t.Helper()
	dir := t.TempDir()
	log, err := logmgr.Open(dir, 4096, 1)
	require.NoError(t, err)
	return NewManager(log, NewLockManager(conf.LockDetectDefault)), dir
}

// countCommitRecords walks the whole log and counts RecTxnCommit records.
func countCommitRecords(t *testing.T, dir string) int {
	t.Helper()
	c, err := logmgr.NewCursor(dir)
	require.NoError(t, err)
	defer c.Close()

	n := 0
	rec, _, err := c.First()
	for err == nil {
		if rec.RecType == RecTxnCommit {
			n++
		}
		rec, _, err = c.Next()
	}
	return n
}

func TestBeginAssignsDistinctIDs(t *testing.T) {
	m := newTestManager(t)
	a := m.Begin(nil, 0)
	b := m.Begin(nil, 0)
	assert.NotEqual(t, a.ID(), b.ID())
}

func TestCommitRunsAtCommitCallbacksInOrder(t *testing.T) {
	m := newTestManager(t)
	txn := m.Begin(nil, 0)

	var order []int
	txn.AtCommit(func() error { order = append(order, 1); return nil })
	txn.AtCommit(func() error { order = append(order, 2); return nil })

	require.NoError(t, txn.Commit())
	assert.Equal(t, []int{1, 2}, order)
	assert.Equal(t, Committed, txn.State())
}

func TestAbortSkipsAtCommitCallbacks(t *testing.T) {
	m := newTestManager(t)
	txn := m.Begin(nil, 0)
	ran := false
	txn.AtCommit(func() error { ran = true; return nil })

	require.NoError(t, txn.Abort())
	assert.False(t, ran)
	assert.Equal(t, Aborted, txn.State())
}

func TestAbortParentAbortsActiveChildren(t *testing.T) {
	m := newTestManager(t)
	parent := m.Begin(nil, 0)
	child := m.Begin(parent, 0)

	require.NoError(t, parent.Abort())
	assert.Equal(t, Aborted, child.State())
}

func TestCommitTwiceIsRejected(t *testing.T) {
	m := newTestManager(t)
	txn := m.Begin(nil, 0)
	require.NoError(t, txn.Commit())
	require.Error(t, txn.Commit())
}

func TestGetReturnsNilAfterFinish(t *testing.T) {
	m := newTestManager(t)
	txn := m.Begin(nil, 0)
	id := txn.ID()
	require.NoError(t, txn.Commit())
	assert.Nil(t, m.Get(id))
}

// An empty transaction (begins and commits without ever calling Append)
// must still produce exactly one commit record (spec §8), so recovery's
// loser scan can tell it apart from a transaction that crashed mid-way.
func TestCommitEmptyTransactionWritesCommitRecord(t *testing.T) {
	m, dir := newTestManagerWithDir(t)
	txn := m.Begin(nil, 0)
	assert.True(t, txn.LastLSN().IsZero())

	require.NoError(t, txn.Commit())
	assert.Equal(t, 1, countCommitRecords(t, dir))
}

func TestCommitReadOnlyEmptyTransactionWritesNoRecord(t *testing.T) {
	m, dir := newTestManagerWithDir(t)
	txn := m.Begin(nil, ReadOnly)

	require.NoError(t, txn.Commit())
	assert.Equal(t, 0, countCommitRecords(t, dir))
}
