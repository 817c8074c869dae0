// Package dispatch implements C3, the Record Dispatcher (spec §4.3): a
// registry mapping a rectype to the handler function chosen by the
// caller's opcode, modeled as a flat array indexed by rectype rather
// than a map (spec §9: prefer a bounded array over a vtable-style
// lookup for a dense, bounded id space).
package dispatch

import (
	"fmt"

	"github.com/kvenginehq/waldb/server/innodb/errs"
	"github.com/kvenginehq/waldb/server/innodb/logmgr"
)

// Opcode selects what a handler does with a record (spec §3 table).
type Opcode int

const (
	ApplyForwardNormal Opcode = iota
	ApplyForwardOpenFiles
	ApplyBackwardRollback
	ApplyBackwardRecover
	Print
	GetPages
)

// Ctx is the opaque, opcode-specific context passed through dispatch:
// recovery file maps, page-id collectors, print sinks, and so on. Each
// opcode's handlers agree privately on what concrete type to expect;
// the dispatcher itself never inspects it.
type Ctx interface{}

// Handler is the signature every registered record handler implements
// (spec §4.3).
type Handler func(body []byte, lsn logmgr.LSN, opcode Opcode, ctx Ctx) error

const maxBuiltinRecType = logmgr.BuiltinRecTypeCeiling

// Dispatcher routes a decoded record to its registered handler.
type Dispatcher struct {
	handlers    [maxBuiltinRecType]Handler
	registered  [maxBuiltinRecType]bool
	defaultApp  Handler // routes rectype >= 10000, spec §6
	printFallback Handler
	pagesFallback Handler
}

func New() *Dispatcher {
	d := &Dispatcher{}
	d.printFallback = defaultPrint
	d.pagesFallback = defaultGetPages
	return d
}

// Register binds rectype to handler. Double registration is a fatal
// programming error (spec §4.3 "exclusive; double registration is a
// fatal ... error") — it panics at init time, never at dispatch time.
func (d *Dispatcher) Register(rt logmgr.RecType, h Handler) {
	if rt >= maxBuiltinRecType {
		panic(fmt.Sprintf("dispatch: rectype %d is reserved for application records", rt))
	}
	if d.registered[rt] {
		panic(fmt.Sprintf("dispatch: rectype %d already registered", rt))
	}
	d.handlers[rt] = h
	d.registered[rt] = true
}

// RegisterApplicationHandler installs the handler used for every
// rectype at or above the builtin ceiling (spec §6).
func (d *Dispatcher) RegisterApplicationHandler(h Handler) {
	d.defaultApp = h
}

// Dispatch parses the leading rectype out of a decoded record and
// invokes its handler (spec §4.3 "dispatch").
func (d *Dispatcher) Dispatch(rec logmgr.Record, lsn logmgr.LSN, opcode Opcode, ctx Ctx) error {
	h := d.lookup(rec.RecType)
	if h == nil {
		return errs.New(errs.NotFound, fmt.Sprintf("no handler registered for rectype %d", rec.RecType))
	}
	return h(rec.Body, lsn, opcode, ctx)
}

func (d *Dispatcher) lookup(rt logmgr.RecType) Handler {
	if rt >= maxBuiltinRecType {
		if d.defaultApp != nil {
			return d.defaultApp
		}
		return nil
	}
	if d.registered[rt] {
		return d.handlers[rt]
	}
	return nil
}

// DispatchWithFallback behaves like Dispatch but falls back to a
// generic PRINT/GETPAGES rendering when no subsystem registered the
// rectype. An application rectype (at or above the builtin ceiling)
// with no handler is a no-op under every other opcode, so recovery
// passes over it (spec §8 S6); an unregistered builtin rectype under
// any other opcode is still NotFound.
func (d *Dispatcher) DispatchWithFallback(rec logmgr.Record, lsn logmgr.LSN, opcode Opcode, ctx Ctx) error {
	h := d.lookup(rec.RecType)
	if h != nil {
		return h(rec.Body, lsn, opcode, ctx)
	}
	switch opcode {
	case Print:
		return d.printFallback(rec.Body, lsn, opcode, ctx)
	case GetPages:
		return d.pagesFallback(rec.Body, lsn, opcode, ctx)
	default:
		if rec.RecType >= maxBuiltinRecType {
			return nil
		}
		return errs.New(errs.NotFound, fmt.Sprintf("no handler registered for rectype %d", rec.RecType))
	}
}
