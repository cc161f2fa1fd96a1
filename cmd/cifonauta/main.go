package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], runReconciliation, os.Stdout, os.Stderr)
	stop()

	os.Exit(code)
}

// execute runs the command line and maps its outcome onto an exit code.
func execute(ctx context.Context, args []string, run runFunc, stdout io.Writer, stderr io.Writer) int {
	cmd := newRootCommand(run, stdout)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}

	var usage *usageError
	if errors.As(err, &usage) {
		fmt.Fprintf(stderr, "Error: %s\n%s", err, cmd.UsageString())
		return exitUsage
	}

	fmt.Fprintf(stderr, "Error: %s\n", err)
	return exitFailure
}
