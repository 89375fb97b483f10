// Command migrator applies, reverts and scripts SQL migrations kept in a directory.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattn/go-colorable"
)

var version = "dev"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	stdout := colorable.NewColorable(os.Stdout)
	stderr := colorable.NewColorable(os.Stderr)

	if err := run(ctx, os.Args[1:], stdout, stderr); err != nil {
		fmt.Fprintf(stderr, "error: %s\n", err)
		cancel()
		os.Exit(exitCode(err))
	}
}
