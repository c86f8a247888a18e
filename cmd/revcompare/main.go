package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/felixgeelhaar/revcompare/internal/cmd"
	"github.com/felixgeelhaar/revcompare/internal/exitcode"
)

func main() {
	// Cancelling the context lets running pipelines clean up before exit
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := cmd.ExecuteContext(ctx)
	stop()
	if err == nil {
		exitcode.Exit(exitcode.Success)
	}

	var exitErr *cmd.ExitError
	if !errors.As(err, &exitErr) || exitErr.Err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	exitcode.ExitWithError(err)
}
