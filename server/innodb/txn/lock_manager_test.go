package txn

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvenginehq/waldb/server/conf"
	"github.com/kvenginehq/waldb/server/innodb/errs"
	"github.com/kvenginehq/waldb/server/innodb/logmgr"
)

func TestAcquireSharedLocksAreCompatible(t *testing.T) {
	lm := NewLockManager(conf.LockDetectDefault)
	require.NoError(t, lm.Acquire(1, "a", Shared))
	require.NoError(t, lm.Acquire(2, "a", Shared))
}

func TestAcquireExclusiveConflictsBlockUntilRelease(t *testing.T) {
	lm := NewLockManager(conf.LockDetectDefault)
	require.NoError(t, lm.Acquire(1, "a", Exclusive))

	done := make(chan error, 1)
	go func() {
		done <- lm.Acquire(2, "a", Exclusive)
	}()

	select {
	case <-done:
		t.Fatal("second acquire should have blocked")
	case <-time.After(50 * time.Millisecond):
	}

	lm.ReleaseAll(1)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("waiter was never granted after release")
	}
}

func TestAcquireSameTxnSameResourceIsIdempotent(t *testing.T) {
	lm := NewLockManager(conf.LockDetectDefault)
	require.NoError(t, lm.Acquire(1, "a", Shared))
	require.NoError(t, lm.Acquire(1, "a", Shared))
}

func TestAcquireDetectsTwoCycleDeadlock(t *testing.T) {
	lm := NewLockManager(conf.LockDetectOldest)
	require.NoError(t, lm.Acquire(1, "a", Exclusive))
	require.NoError(t, lm.Acquire(2, "b", Exclusive))

	done := make(chan error, 1)
	go func() {
		done <- lm.Acquire(1, "b", Exclusive)
	}()
	// give the waiter time to register in the graph
	time.Sleep(20 * time.Millisecond)

	err := lm.Acquire(2, "a", Exclusive)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.Deadlock))

	lm.ReleaseAll(1)
	lm.ReleaseAll(2)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("waiter on txn 1 never resolved")
	}
}

func TestReleaseAllWakesNextWaiter(t *testing.T) {
	lm := NewLockManager(conf.LockDetectDefault)
	require.NoError(t, lm.Acquire(1, "a", Exclusive))

	var txnID logmgr.TxnID = 2
	done := make(chan error, 1)
	go func() { done <- lm.Acquire(txnID, "a", Exclusive) }()
	time.Sleep(20 * time.Millisecond)

	lm.ReleaseAll(1)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("waiter never granted")
	}
}
