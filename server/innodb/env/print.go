package env

import (
	"io"

	"github.com/kvenginehq/waldb/server/innodb/dispatch"
	"github.com/kvenginehq/waldb/server/innodb/errs"
	"github.com/kvenginehq/waldb/server/innodb/fop"
	"github.com/kvenginehq/waldb/server/innodb/logmgr"
)

// PrintLog walks the entire log from its first record to its last,
// dispatching each one under the PRINT opcode to out — the operation
// cmd/logdump drives (spec §6 expansion). An empty log prints nothing
// and returns nil. A dispatcher error is annotated with the offending
// LSN so the caller can report exactly where the log diverged.
func (e *Environment) PrintLog(out io.Writer) error {
	c, err := logmgr.NewCursor(e.cfg.LogDir)
	if err != nil {
		if errs.Is(err, errs.NotFound) {
			return nil
		}
		return err
	}
	defer c.Close()

	rec, lsn, err := c.First()
	if err != nil {
		if errs.Is(err, errs.NotFound) {
			return nil
		}
		return err
	}

	ctx := &fop.RecoveryCtx{Store: e.store, Print: &dispatch.PrintSink{Out: out}}
	for {
		if derr := e.dispatcher.DispatchWithFallback(rec, lsn, dispatch.Print, ctx); derr != nil {
			return errs.Annotate(errs.Corruption, derr, "logdump at %s", lsn)
		}
		next, nextLSN, nerr := c.Next()
		if nerr != nil {
			if errs.Is(nerr, errs.NotFound) {
				return nil
			}
			return nerr
		}
		rec, lsn = next, nextLSN
	}
}
