// Package main is the entry point for the modelocal inspection tool.
//
// modelocal loads mode definition files and answers questions about them:
// a mode's ancestor chain, the value a document in a mode would see, the
// result of dispatching an operation, and every binding visible from a
// mode. The watch command keeps the definitions loaded and reports reloads.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := newRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
