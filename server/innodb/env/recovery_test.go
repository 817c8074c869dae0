package env

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kvenginehq/waldb/server/innodb/fop"
)

// TestRecoveryKeepsCommittedAndUndoesLoser exercises the four-pass
// algorithm end to end: a committed create survives a crash-like reopen
// with RECOVER, while a create with no commit record is rolled back.
func TestRecoveryKeepsCommittedAndUndoesLoser(t *testing.T) {
	dir := t.TempDir()

	e1, err := Open(dir, Create|InitLog|InitTxn|Private, 0640)
	require.NoError(t, err)

	committer, err := e1.Begin(nil, 0)
	require.NoError(t, err)
	_, err = e1.Journal().Create(committer, "foo", fop.AppData, 0640)
	require.NoError(t, err)
	require.NoError(t, committer.Commit())
	e1.ReleaseHandle()

	loser, err := e1.Begin(nil, 0)
	require.NoError(t, err)
	_, err = e1.Journal().Create(loser, "bar", fop.AppData, 0640)
	require.NoError(t, err)
	// loser is deliberately left active: e1 is abandoned here, simulating
	// a crash before commit or abort ever ran.

	e2, err := Open(dir, Recover|InitLog|InitTxn|Private, 0640)
	require.NoError(t, err)
	defer e2.Close()

	require.True(t, e2.store.Exists("foo"))
	require.False(t, e2.store.Exists("bar"))
}

// TestRecoveryOnCleanShutdownIsNoop confirms that a reopen with RECOVER
// against a log that only ever saw committed work leaves everything as
// is.
func TestRecoveryOnCleanShutdownIsNoop(t *testing.T) {
	dir := t.TempDir()

	e1, err := Open(dir, Create|InitLog|InitTxn|Private, 0640)
	require.NoError(t, err)
	t1, err := e1.Begin(nil, 0)
	require.NoError(t, err)
	_, err = e1.Journal().Create(t1, "committed", fop.AppData, 0640)
	require.NoError(t, err)
	require.NoError(t, t1.Commit())
	e1.ReleaseHandle()
	require.NoError(t, e1.Close())

	e2, err := Open(dir, Recover|InitLog|InitTxn|Private, 0640)
	require.NoError(t, err)
	defer e2.Close()

	require.True(t, e2.store.Exists("committed"))
}

// TestCheckpointShortcutsFindStart confirms a checkpoint record changes
// where Pass A begins scanning, without changing the recovery outcome.
func TestCheckpointShortcutsFindStart(t *testing.T) {
	dir := t.TempDir()

	e1, err := Open(dir, Create|InitLog|InitTxn|Private, 0640)
	require.NoError(t, err)
	t1, err := e1.Begin(nil, 0)
	require.NoError(t, err)
	_, err = e1.Journal().Create(t1, "before-checkpoint", fop.AppData, 0640)
	require.NoError(t, err)
	require.NoError(t, t1.Commit())
	e1.ReleaseHandle()

	cpLSN, err := e1.Checkpoint()
	require.NoError(t, err)

	t2, err := e1.Begin(nil, 0)
	require.NoError(t, err)
	_, err = e1.Journal().Create(t2, "after-checkpoint", fop.AppData, 0640)
	require.NoError(t, err)
	require.NoError(t, t2.Commit())
	e1.ReleaseHandle()
	require.NoError(t, e1.Close())

	e2, err := Open(dir, Recover|InitLog|InitTxn|Private, 0640)
	require.NoError(t, err)
	defer e2.Close()

	start, empty, ferr := e2.findStart()
	require.NoError(t, ferr)
	require.False(t, empty)
	require.Equal(t, cpLSN, start)

	require.True(t, e2.store.Exists("before-checkpoint"))
	require.True(t, e2.store.Exists("after-checkpoint"))
}
