package region

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttachFirstCallerIsCreator(t *testing.T) {
	home := t.TempDir()
	r, flags, err := Attach(home, InitTxn|InitLog, false)
	require.NoError(t, err)
	defer r.Detach()

	assert.True(t, r.IsCreator())
	assert.Equal(t, InitTxn|InitLog, flags)
}

func TestAttachSecondCallerJoinsWithInheritedFlags(t *testing.T) {
	home := t.TempDir()
	r1, flags1, err := Attach(home, InitTxn|InitLog, false)
	require.NoError(t, err)
	defer r1.Detach()

	r2, flags2, err := Attach(home, 0, false)
	require.NoError(t, err)
	defer r2.Detach()

	assert.False(t, r2.IsCreator())
	assert.Equal(t, flags1, flags2)
}

func TestAttachRejectsIncompatibleFlags(t *testing.T) {
	home := t.TempDir()
	r1, _, err := Attach(home, InitTxn, false)
	require.NoError(t, err)
	defer r1.Detach()

	_, _, err = Attach(home, InitLock, false)
	require.Error(t, err)
}

func TestMutexAllocReusesFreedSlots(t *testing.T) {
	home := t.TempDir()
	r, _, err := Attach(home, InitTxn, false)
	require.NoError(t, err)
	defer r.Detach()

	a := r.Alloc(MutexSelfBlock)
	r.Free(a)
	b := r.Alloc(MutexSelfBlock)
	assert.Equal(t, a, b)
}

func TestRemoveClearsRegionFile(t *testing.T) {
	home := t.TempDir()
	r, _, err := Attach(home, InitTxn, false)
	require.NoError(t, err)
	require.NoError(t, r.Detach())
	require.NoError(t, Remove(home))

	r2, _, err := Attach(home, InitLock, false)
	require.NoError(t, err)
	assert.True(t, r2.IsCreator())
	r2.Detach()
}
