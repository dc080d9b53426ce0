package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
)

// make version a variable so the build system can inject it
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:    "zapctl",
		Usage:   "Drive WhatsApp connections through the mordomozap proxy",
		Version: version,
		Flags:   defaultFlags,
		Commands: []*cli.Command{
			statusCmd(),
			connectCmd(),
			reconnectCmd(),
			disconnectCmd(),
			sendTestCmd(),
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
