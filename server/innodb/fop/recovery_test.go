package fop

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvenginehq/waldb/server/innodb/dispatch"
	"github.com/kvenginehq/waldb/server/innodb/logmgr"
)

func newRegisteredDispatcher() *dispatch.Dispatcher {
	d := dispatch.New()
	RegisterHandlers(d)
	return d
}

func TestRedoCreateIsIdempotent(t *testing.T) {
	d := newRegisteredDispatcher()
	store := NewMemStore().(*memStore)
	rc := &RecoveryCtx{Store: store}

	body := CreateBody{Name: "a", Category: AppData, Mode: 0640}.encode()
	rec := logmgr.Record{RecType: RecCreate, Body: body}

	require.NoError(t, d.Dispatch(rec, logmgr.LSN{}, dispatch.ApplyForwardNormal, rc))
	require.NoError(t, d.Dispatch(rec, logmgr.LSN{}, dispatch.ApplyForwardNormal, rc))
	assert.True(t, store.Exists("a"))
}

func TestUndoCreateRemovesFile(t *testing.T) {
	d := newRegisteredDispatcher()
	store := NewMemStore().(*memStore)
	store.Create("a", 0)
	rc := &RecoveryCtx{Store: store}

	body := CreateBody{Name: "a", Category: AppData, Mode: 0640}.encode()
	rec := logmgr.Record{RecType: RecCreate, Body: body}
	require.NoError(t, d.Dispatch(rec, logmgr.LSN{}, dispatch.ApplyBackwardRollback, rc))
	assert.False(t, store.Exists("a"))
}

func TestRedoWriteAppliesBytes(t *testing.T) {
	d := newRegisteredDispatcher()
	store := NewMemStore().(*memStore)
	store.Create("a", 0)
	rc := &RecoveryCtx{Store: store}

	body := WriteBody{Name: "a", Category: AppData, Offset: 0, Page: []byte{0x41, 0x42}}.encode()
	rec := logmgr.Record{RecType: RecWrite, Body: body}
	require.NoError(t, d.Dispatch(rec, logmgr.LSN{}, dispatch.ApplyForwardNormal, rc))
	assert.Equal(t, []byte{0x41, 0x42}, store.Contents("a"))
}

func TestRedoRenameIsNoopWhenOldNameMissing(t *testing.T) {
	d := newRegisteredDispatcher()
	store := NewMemStore().(*memStore)
	rc := &RecoveryCtx{Store: store}

	body := RenameBody{OldName: "a", NewName: "b", FileID: NewFileID(), Category: AppData}.encode()
	rec := logmgr.Record{RecType: RecRename, Body: body}
	require.NoError(t, d.Dispatch(rec, logmgr.LSN{}, dispatch.ApplyForwardNormal, rc))
	assert.False(t, store.Exists("b"))
}

func TestRedoRenameIsNoopWhenFidMismatch(t *testing.T) {
	d := newRegisteredDispatcher()
	store := NewMemStore().(*memStore)
	store.Create("a", 0)
	rc := &RecoveryCtx{Store: store}

	// The record's fid doesn't match the fid the store currently tracks
	// for "a" (e.g. "a" was removed and re-created since this record was
	// written): redo must treat the rename as a no-op, not blindly move
	// whatever now sits at "a".
	body := RenameBody{OldName: "a", NewName: "b", FileID: NewFileID(), Category: AppData}.encode()
	rec := logmgr.Record{RecType: RecRename, Body: body}
	require.NoError(t, d.Dispatch(rec, logmgr.LSN{}, dispatch.ApplyForwardNormal, rc))
	assert.True(t, store.Exists("a"))
	assert.False(t, store.Exists("b"))
}

func TestUndoRenameIsNoopWhenFidMismatch(t *testing.T) {
	d := newRegisteredDispatcher()
	store := NewMemStore().(*memStore)
	store.Create("b", 0)
	rc := &RecoveryCtx{Store: store}

	body := RenameBody{OldName: "a", NewName: "b", FileID: NewFileID(), Category: AppData}.encode()
	rec := logmgr.Record{RecType: RecRename, Body: body}
	require.NoError(t, d.Dispatch(rec, logmgr.LSN{}, dispatch.ApplyBackwardRecover, rc))
	assert.True(t, store.Exists("b"))
	assert.False(t, store.Exists("a"))
}

func TestInmemRenameRedoIsNoopWhenFidMismatch(t *testing.T) {
	d := newRegisteredDispatcher()
	store := NewMemStore().(*memStore)
	store.Create("a", 0)
	rc := &RecoveryCtx{Store: store}

	body := InmemRenameBody{OldName: "a", NewName: "b", FileID: NewFileID()}.encode()
	rec := logmgr.Record{RecType: RecInmemRename, Body: body}
	require.NoError(t, d.Dispatch(rec, logmgr.LSN{}, dispatch.ApplyForwardNormal, rc))
	assert.True(t, store.Exists("a"))
	assert.False(t, store.Exists("b"))
}

func TestRenameRedoAppliesWhenFidMatches(t *testing.T) {
	d := newRegisteredDispatcher()
	store := NewMemStore().(*memStore)
	fid, err := store.Create("a", 0)
	require.NoError(t, err)
	rc := &RecoveryCtx{Store: store}

	body := RenameBody{OldName: "a", NewName: "b", FileID: fid, Category: AppData}.encode()
	rec := logmgr.Record{RecType: RecRename, Body: body}
	require.NoError(t, d.Dispatch(rec, logmgr.LSN{}, dispatch.ApplyForwardNormal, rc))
	assert.False(t, store.Exists("a"))
	assert.True(t, store.Exists("b"))

	gotFid, ok := store.IDOf("b")
	require.True(t, ok)
	assert.Equal(t, fid, gotFid)
}

func TestPassBRegistersFidForRename(t *testing.T) {
	d := newRegisteredDispatcher()
	store := NewMemStore().(*memStore)
	rc := &RecoveryCtx{Store: store}

	// Simulate a fresh recovery run: the store has never seen "a" before
	// (e.g. the sidecar index didn't survive the crash). Pass B must
	// backfill the fid from the log record itself so Pass C's fid check
	// below has something to match against.
	fid := NewFileID()
	body := RenameBody{OldName: "a", NewName: "b", FileID: fid, Category: AppData}.encode()
	rec := logmgr.Record{RecType: RecRename, Body: body}

	require.NoError(t, d.Dispatch(rec, logmgr.LSN{}, dispatch.ApplyForwardOpenFiles, rc))
	gotFid, ok := store.IDOf("a")
	require.True(t, ok)
	assert.Equal(t, fid, gotFid)

	require.NoError(t, d.Dispatch(rec, logmgr.LSN{}, dispatch.ApplyForwardNormal, rc))
	assert.True(t, store.Exists("b"))
}

func TestPrintOpcodeRendersRecord(t *testing.T) {
	d := newRegisteredDispatcher()
	var buf bytes.Buffer
	rc := &RecoveryCtx{Print: &dispatch.PrintSink{Out: &buf}}

	body := CreateBody{Name: "a", Category: AppData, Mode: 0640}.encode()
	rec := logmgr.Record{RecType: RecCreate, Body: body}
	require.NoError(t, d.Dispatch(rec, logmgr.LSN{File: 1, Offset: 20}, dispatch.Print, rc))
	assert.Contains(t, buf.String(), "FOP_CREATE")
	assert.Contains(t, buf.String(), `name="a"`)
}
