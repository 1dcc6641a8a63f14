// Command summarycheck verifies object summaries against a formatter oracle.
package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/roach88/summarycheck/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := cli.Execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
