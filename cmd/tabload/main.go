// Command tabload loads a directory of heterogeneous tabular files into one
// relational table. See "tabload --help".
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"tabload/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cli.Execute(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
