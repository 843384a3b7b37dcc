package main

import (
	"fmt"
	"os"

	"budget/internal/cli"
)

func main() {
	ctx, stop := cli.SignalContext()
	defer stop()

	cmd := cli.NewRootCommand(os.Stdout, nil)
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "budgetctl: %v\n", err)
		stop()
		os.Exit(1)
	}
}
