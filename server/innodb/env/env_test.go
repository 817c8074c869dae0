package env

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenCreateThenJoinSeesSameInitFlags(t *testing.T) {
	dir := t.TempDir()
	e1, err := Open(dir, Create|InitLog|InitTxn|Private, 0640)
	require.NoError(t, err)

	e2, err := Open(dir, Join, 0640)
	require.NoError(t, err)
	assert.True(t, e2.flags.has(InitLog))
	assert.True(t, e2.flags.has(InitTxn))
	require.NoError(t, e2.Close())

	require.NoError(t, e1.Close())
}

func TestOpenRejectsCreateAndJoin(t *testing.T) {
	dir := t.TempDir()
	_, err := Open(dir, Create|Join, 0640)
	require.Error(t, err)
}

func TestOpenRejectsPrivateAndSystemMem(t *testing.T) {
	dir := t.TempDir()
	_, err := Open(dir, Private|SystemMem, 0640)
	require.Error(t, err)
}

func TestOpenRejectsRecoverAndRecoverFatal(t *testing.T) {
	dir := t.TempDir()
	_, err := Open(dir, Recover|RecoverFatal|InitTxn, 0640)
	require.Error(t, err)
}

func TestOpenRejectsRecoverWithoutInitTxn(t *testing.T) {
	dir := t.TempDir()
	_, err := Open(dir, Recover, 0640)
	require.Error(t, err)
}

func TestCloseFailsWithLiveTransaction(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(dir, Create|InitLog|InitTxn|Private, 0640)
	require.NoError(t, err)

	_, err = e.Begin(nil, 0)
	require.NoError(t, err)

	err = e.Close()
	require.Error(t, err)
}

func TestBeginFailsWithoutInitTxn(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(dir, Create|InitLog|Private, 0640)
	require.NoError(t, err)
	defer e.Close()

	_, err = e.Begin(nil, 0)
	assert.Error(t, err)
}
