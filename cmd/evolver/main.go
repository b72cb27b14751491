package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"evolver/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli.Run(ctx, cli.NewApp(), os.Args[1:])
	stop()
	os.Exit(code)
}
