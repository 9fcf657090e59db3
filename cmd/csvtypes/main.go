// Command csvtypes infers the column types of a CSV file (or an HTML table)
// and generates Go types for it.
//
// Usage:
//
//	csvtypes generate -i iris.csv -n NA,N/A -o iris/dataframe.go
//	csvtypes profile iris.csv
//	csvtypes schema iris --catalog-kind sqlite --catalog-dsn catalog.db
//
// Exit codes: 0 on success, 2 for usage or configuration errors, 1 for
// runtime errors.
package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/AliothCancer/typed-csv/internal/cli"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// run is split out from main so tests can drive the command in-process.
func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return cli.Execute(ctx, args, cli.Streams{In: stdin, Out: stdout, Err: stderr})
}
