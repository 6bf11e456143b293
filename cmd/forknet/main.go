package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/smartcontractkit/chainlink-forknet/cmd/forknet/internal/cli"
	"github.com/smartcontractkit/chainlink-forknet/pkg/logger"
)

func mainImpl() int {
	lggr, err := (&logger.Config{Console: true}).New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		return 1
	}
	defer func() { _ = lggr.Sync() }()

	cmd, err := cli.NewCommand(cli.Config{Logger: lggr})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create command: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err = cmd.ExecuteContext(ctx); err != nil {
		return 1
	}

	return 0
}

func main() {
	os.Exit(mainImpl())
}
