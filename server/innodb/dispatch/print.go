package dispatch

import (
	"fmt"
	"io"

	"github.com/kvenginehq/waldb/server/innodb/logmgr"
)

// PrintSink is the Ctx expected by the default PRINT handler: something
// a caller like cmd/logdump can point at stdout.
type PrintSink struct {
	Out io.Writer
}

// defaultPrint renders an unregistered record generically, so logdump
// keeps working for rectypes no subsystem claimed (spec §8 S6).
func defaultPrint(body []byte, lsn logmgr.LSN, opcode Opcode, ctx Ctx) error {
	sink, ok := ctx.(*PrintSink)
	if !ok || sink == nil || sink.Out == nil {
		return nil
	}
	_, err := fmt.Fprintf(sink.Out, "[%s]\tunregistered record, %d bytes\n", lsn.String(), len(body))
	return err
}

// PageCollector is the Ctx expected by the default GETPAGES handler: a
// set of (fileid, pgno) pairs accumulated across a recovery pass.
type PageCollector struct {
	Pages map[string]struct{}
}

func (p *PageCollector) add(key string) {
	if p.Pages == nil {
		p.Pages = make(map[string]struct{})
	}
	p.Pages[key] = struct{}{}
}

// defaultGetPages is a no-op: an unregistered rectype touches no pages
// the buffer-pool collaborator needs to know about.
func defaultGetPages(body []byte, lsn logmgr.LSN, opcode Opcode, ctx Ctx) error {
	return nil
}
