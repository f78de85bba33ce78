package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/yarlson/ephemera/cmd"
	"github.com/yarlson/ephemera/pkg/console"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.Execute(ctx); err != nil {
		console.Error(err)
		os.Exit(1)
	}
}
