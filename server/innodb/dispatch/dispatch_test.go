package dispatch

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvenginehq/waldb/server/innodb/errs"
	"github.com/kvenginehq/waldb/server/innodb/logmgr"
)

func TestDispatchInvokesRegisteredHandler(t *testing.T) {
	d := New()
	var gotOpcode Opcode
	var gotBody []byte
	d.Register(42, func(body []byte, lsn logmgr.LSN, opcode Opcode, ctx Ctx) error {
		gotOpcode = opcode
		gotBody = body
		return nil
	})

	rec := logmgr.Record{RecType: 42, Body: []byte("payload")}
	err := d.Dispatch(rec, logmgr.LSN{File: 1, Offset: 20}, ApplyForwardNormal, nil)
	require.NoError(t, err)
	assert.Equal(t, ApplyForwardNormal, gotOpcode)
	assert.Equal(t, []byte("payload"), gotBody)
}

func TestDispatchUnregisteredRecTypeIsNotFound(t *testing.T) {
	d := New()
	rec := logmgr.Record{RecType: 7}
	err := d.Dispatch(rec, logmgr.LSN{}, Print, nil)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.NotFound))
}

func TestRegisterPanicsOnDoubleRegistration(t *testing.T) {
	d := New()
	d.Register(1, func([]byte, logmgr.LSN, Opcode, Ctx) error { return nil })
	assert.Panics(t, func() {
		d.Register(1, func([]byte, logmgr.LSN, Opcode, Ctx) error { return nil })
	})
}

func TestRegisterPanicsOnApplicationRecType(t *testing.T) {
	d := New()
	assert.Panics(t, func() {
		d.Register(logmgr.BuiltinRecTypeCeiling, func([]byte, logmgr.LSN, Opcode, Ctx) error { return nil })
	})
}

func TestApplicationHandlerRoutesHighRecTypes(t *testing.T) {
	d := New()
	called := false
	d.RegisterApplicationHandler(func([]byte, logmgr.LSN, Opcode, Ctx) error {
		called = true
		return nil
	})
	rec := logmgr.Record{RecType: logmgr.BuiltinRecTypeCeiling + 5}
	require.NoError(t, d.Dispatch(rec, logmgr.LSN{}, ApplyForwardNormal, nil))
	assert.True(t, called)
}

func TestDispatchWithFallbackPrintsUnregisteredRecord(t *testing.T) {
	d := New()
	var buf bytes.Buffer
	rec := logmgr.Record{RecType: 99, Body: []byte("xx")}
	err := d.DispatchWithFallback(rec, logmgr.LSN{File: 1, Offset: 20}, Print, &PrintSink{Out: &buf})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "unregistered record")
}

func TestDispatchWithFallbackGetPagesIsNoop(t *testing.T) {
	d := New()
	rec := logmgr.Record{RecType: 99}
	err := d.DispatchWithFallback(rec, logmgr.LSN{}, GetPages, &PageCollector{})
	require.NoError(t, err)
}

func TestDispatchWithFallbackOtherOpcodeStillErrors(t *testing.T) {
	d := New()
	rec := logmgr.Record{RecType: 99}
	err := d.DispatchWithFallback(rec, logmgr.LSN{}, ApplyBackwardRollback, nil)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.NotFound))
}
