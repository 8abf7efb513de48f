// Command churngym builds churn features, trains and serves churn risk
// predictions for gym members.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	err := newApp(os.Stdout).Run(ctx, os.Args)
	stop()
	if err != nil {
		os.Stderr.WriteString("churngym: " + err.Error() + "\n")
		os.Exit(1)
	}
}
