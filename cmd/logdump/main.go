// Command logdump renders every record in an environment's log as
// human-readable text, in the style of db_printlog: one line per
// record, in log order. It is the representative external surface
// named in spec §6: it walks the log with the same cursor and
// dispatcher recovery's passes use, under the PRINT opcode, whose
// handlers only render records. Opening the environment still attaches
// the region backing file and, if the log directory holds no segment
// yet, creates the first one.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/kvenginehq/waldb/server/innodb/env"
)

func main() {
	home := flag.String("h", "", "environment home directory")
	flag.Parse()

	if *home == "" {
		fmt.Fprintln(os.Stderr, "logdump: -h home is required")
		os.Exit(1)
	}

	e, err := env.Open(*home, env.InitLog|env.InitTxn|env.Private, 0640)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logdump: open %s: %v\n", *home, err)
		os.Exit(1)
	}
	defer e.Close()

	if err := e.PrintLog(os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "logdump: %v\n", err)
		os.Exit(1)
	}
}
